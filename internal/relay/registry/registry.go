// Package registry is the relay's directory of connected identities.
//
// A single mutex guards the map for insert, remove, lookup and listing. It is
// never held across network I/O: lookups return copies, and callers write to
// the returned Sender after the lock is released.
package registry

import (
	"errors"
	"sort"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"relaychat/internal/domain"
	"relaychat/internal/util/memzero"
)

var (
	// ErrDuplicate is returned when the identity is already registered.
	ErrDuplicate = errors.New("registry: identity already registered")
	// ErrNotFound is returned for operations on an unknown identity.
	ErrNotFound = errors.New("registry: identity not found")
)

// Client is a snapshot of one registered identity.
type Client struct {
	Username domain.Username
	AvatarID int
	Conn     domain.Sender

	// SessionKey is nil until the key step of the handshake completes. It is
	// a private copy owned by the caller.
	SessionKey []byte
}

// HasSession reports whether the handshake completed.
func (c Client) HasSession() bool { return c.SessionKey != nil }

type record struct {
	avatar int
	conn   domain.Sender
	key    []byte
}

func (r *record) snapshot(name domain.Username) Client {
	c := Client{Username: name, AvatarID: r.avatar, Conn: r.conn}
	if r.key != nil {
		c.SessionKey = append([]byte(nil), r.key...)
	}
	return c
}

// Registry maps identities to their connection and session key.
type Registry struct {
	mu      sync.Mutex
	clients map[domain.Username]*record

	log *logging.Logger
}

// New returns an empty registry.
func New(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[domain.Username]*record),
		log:     log,
	}
}

// Register atomically inserts name if it is not already present. On
// ErrDuplicate nothing is modified.
func (r *Registry) Register(name domain.Username, conn domain.Sender, avatar int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[name]; ok {
		return ErrDuplicate
	}
	r.clients[name] = &record{avatar: avatar, conn: conn}
	r.log.Debugf("registered %q (%d online)", name, len(r.clients))
	return nil
}

// SetSessionKey attaches the session key for name. The registry keeps its
// own copy.
func (r *Registry) SetSessionKey(name domain.Username, key []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.clients[name]
	if !ok {
		return ErrNotFound
	}
	if rec.key != nil {
		memzero.Zero(rec.key)
	}
	rec.key = append([]byte(nil), key...)
	return nil
}

// Unregister removes name. It is idempotent.
func (r *Registry) Unregister(name domain.Username) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.clients[name]
	if !ok {
		return
	}
	if rec.key != nil {
		memzero.Zero(rec.key)
	}
	delete(r.clients, name)
	r.log.Debugf("unregistered %q (%d online)", name, len(r.clients))
}

// Lookup returns a snapshot of name's record.
func (r *Registry) Lookup(name domain.Username) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.clients[name]
	if !ok {
		return Client{}, false
	}
	return rec.snapshot(name), true
}

// List returns the current identities and their avatars.
func (r *Registry) List() map[domain.Username]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[domain.Username]int, len(r.clients))
	for name, rec := range r.clients {
		out[name] = rec.avatar
	}
	return out
}

// Clients returns snapshots of every registered identity ordered by name.
func (r *Registry) Clients() []Client {
	r.mu.Lock()
	out := make([]Client, 0, len(r.clients))
	for name, rec := range r.clients {
		out = append(out, rec.snapshot(name))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
