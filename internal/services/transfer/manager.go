package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"relaychat/internal/domain"
	"relaychat/internal/worker"
)

// DefaultChunkSize is used when the configured chunk size is not positive.
const DefaultChunkSize = 32 * 1024

// BroadcastOfferTTL is how long an offer to "*" keeps accepting acks.
const BroadcastOfferTTL = 10 * time.Minute

// fallbackName names transfers whose offer was never seen.
const fallbackName = "file.bin"

var (
	// ErrUnknownTransfer is returned for a file id with no matching state.
	ErrUnknownTransfer = errors.New("transfer: unknown transfer")
	// ErrRejected is returned for a second ack from a peer that rejected an
	// offer, and for chunks of an offer we rejected.
	ErrRejected = errors.New("transfer: offer was rejected")
	// ErrUnexpectedPeer is returned when an ack comes from someone the offer
	// was not addressed to.
	ErrUnexpectedPeer = errors.New("transfer: ack from unexpected peer")
	// ErrAlreadyAcked is returned for a second ack from the same peer.
	ErrAlreadyAcked = errors.New("transfer: offer already acknowledged")
	// ErrNotAccepted is returned for chunks of an offer still awaiting a
	// decision.
	ErrNotAccepted = errors.New("transfer: offer not accepted")
	// ErrHalted is returned for acks that arrive after Halt.
	ErrHalted = errors.New("transfer: manager halted")
)

// Outbound is the subset of the chat session the manager sends through.
type Outbound interface {
	SendFileOffer(to domain.Username, offer domain.FileOfferBody) error
	SendFileChunk(to domain.Username, chunk domain.FileChunkBody) error
	SendFileAck(to domain.Username, ack domain.FileAckBody) error
}

// Offer is an inbound offer awaiting a decision.
type Offer struct {
	From domain.Username
	domain.FileOfferBody
}

type peerState int

const (
	peerStreaming peerState = iota + 1
	peerRejected
)

type upload struct {
	id    string
	to    domain.Username
	name  string
	open  func() (io.ReadCloser, error)
	peers map[domain.Username]peerState

	expiry *time.Timer
}

type downloadKey struct {
	from domain.Username
	id   string
}

// Manager tracks every transfer of one client.
type Manager struct {
	worker.Worker

	out       Outbound
	store     domain.DownloadStore
	log       *logging.Logger
	chunkSize int

	broadcastTTL time.Duration

	mu        sync.Mutex
	halted    bool
	uploads   map[string]*upload
	offers    map[string]Offer
	rejected  map[downloadKey]struct{}
	downloads map[downloadKey]*Reassembly
}

// New returns a Manager sending through out and saving into store.
func New(out Outbound, store domain.DownloadStore, log *logging.Logger, chunkSize int) *Manager {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Manager{
		out:       out,
		store:     store,
		log:       log,
		chunkSize: chunkSize,

		broadcastTTL: BroadcastOfferTTL,

		uploads:   make(map[string]*upload),
		offers:    make(map[string]Offer),
		rejected:  make(map[downloadKey]struct{}),
		downloads: make(map[downloadKey]*Reassembly),
	}
}

// Halt refuses further acks, stops running uploads and waits for them.
func (m *Manager) Halt() {
	m.mu.Lock()
	m.halted = true
	for _, u := range m.uploads {
		if u.expiry != nil {
			u.expiry.Stop()
		}
	}
	m.mu.Unlock()
	m.Worker.Halt()
}

// NewFileID returns a fresh opaque transfer identifier.
func NewFileID() string { return uuid.NewString() }

// OfferFile announces the file at path to a peer, or to everyone with "*".
func (m *Manager) OfferFile(to domain.Username, path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("transfer: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("transfer: %s is not a regular file", path)
	}
	open := func() (io.ReadCloser, error) { return os.Open(path) }
	return m.offer(to, filepath.Base(path), fi.Size(), open)
}

// OfferBytes announces an in-memory file.
func (m *Manager) OfferBytes(to domain.Username, name string, data []byte) (string, error) {
	open := func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil }
	return m.offer(to, name, int64(len(data)), open)
}

func (m *Manager) offer(to domain.Username, name string, size int64, open func() (io.ReadCloser, error)) (string, error) {
	u := &upload{
		id:    NewFileID(),
		to:    to,
		name:  name,
		open:  open,
		peers: make(map[domain.Username]peerState),
	}
	m.mu.Lock()
	m.uploads[u.id] = u
	if to == domain.Broadcast {
		u.expiry = time.AfterFunc(m.broadcastTTL, func() { m.expire(u) })
	}
	m.mu.Unlock()

	body := domain.FileOfferBody{
		Name:   name,
		Size:   size,
		Type:   contentType(name),
		FileID: u.id,
	}
	if err := m.out.SendFileOffer(to, body); err != nil {
		m.expire(u)
		return "", err
	}
	m.log.Infof("offered %q (%d bytes) to %s as %s", name, size, to, u.id)
	return u.id, nil
}

// expire forgets u so later acks fail. Streams already running keep going.
func (m *Manager) expire(u *upload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.expiry != nil {
		u.expiry.Stop()
	}
	if m.uploads[u.id] == u {
		delete(m.uploads, u.id)
	}
}

// HandleAck applies a peer's decision on one of our offers. An accept starts
// streaming in the background.
func (m *Manager) HandleAck(from domain.Username, ack domain.FileAckBody) error {
	m.mu.Lock()
	if m.halted {
		m.mu.Unlock()
		return ErrHalted
	}
	u, ok := m.uploads[ack.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, ack.ID)
	}
	if u.to != domain.Broadcast && u.to != from {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnexpectedPeer, from)
	}
	switch u.peers[from] {
	case peerRejected:
		m.mu.Unlock()
		return ErrRejected
	case peerStreaming:
		m.mu.Unlock()
		return ErrAlreadyAcked
	}
	if !ack.Accept {
		u.peers[from] = peerRejected
		if u.to != domain.Broadcast {
			delete(m.uploads, u.id)
		}
		m.mu.Unlock()
		m.log.Infof("%s rejected %s", from, u.id)
		return nil
	}
	u.peers[from] = peerStreaming
	// Go is called under mu, and Halt sets halted under mu before waiting.
	m.Go(func() { m.stream(u, from) })
	m.mu.Unlock()
	return nil
}

func (m *Manager) stream(u *upload, to domain.Username) {
	err := m.sendChunks(u, to)
	if u.to != domain.Broadcast {
		m.mu.Lock()
		delete(m.uploads, u.id)
		m.mu.Unlock()
	}
	if err != nil {
		m.log.Warningf("upload %s to %s: %v", u.id, to, err)
		return
	}
	m.log.Infof("upload %s to %s complete", u.id, to)
}

func (m *Manager) sendChunks(u *upload, to domain.Username) error {
	r, err := u.open()
	if err != nil {
		return err
	}
	defer r.Close()

	buf := make([]byte, m.chunkSize)
	seq := 0
	for {
		select {
		case <-m.HaltCh():
			return errors.New("transfer: halted")
		default:
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := domain.FileChunkBody{ID: u.id, Seq: seq, Data: append([]byte(nil), buf[:n]...)}
			if err := m.out.SendFileChunk(to, chunk); err != nil {
				return err
			}
			seq++
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	return m.out.SendFileChunk(to, domain.FileChunkBody{ID: u.id, Seq: seq, Data: []byte{}, Final: true})
}

// HandleOffer records an inbound offer until Accept or Reject.
func (m *Manager) HandleOffer(from domain.Username, offer domain.FileOfferBody) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[offer.FileID] = Offer{From: from, FileOfferBody: offer}
}

// PendingOffers returns the undecided inbound offers ordered by file id.
func (m *Manager) PendingOffers() []Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Offer, 0, len(m.offers))
	for _, o := range m.offers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out
}

// Accept acks a pending offer and prepares to receive it.
func (m *Manager) Accept(fileID string) error {
	o, err := m.takeOffer(fileID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.downloads[downloadKey{o.From, fileID}] = NewReassembly(fileID, o.Name, o.Size)
	m.mu.Unlock()
	return m.out.SendFileAck(o.From, domain.FileAckBody{ID: fileID, Accept: true})
}

// Reject declines a pending offer.
func (m *Manager) Reject(fileID string) error {
	o, err := m.takeOffer(fileID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.rejected[downloadKey{o.From, fileID}] = struct{}{}
	m.mu.Unlock()
	return m.out.SendFileAck(o.From, domain.FileAckBody{ID: fileID, Accept: false})
}

func (m *Manager) takeOffer(fileID string) (Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[fileID]
	if !ok {
		return Offer{}, fmt.Errorf("%w: %s", ErrUnknownTransfer, fileID)
	}
	delete(m.offers, fileID)
	return o, nil
}

// HandleChunk adds a chunk to its transfer. When the transfer completes the
// file is saved and its path returned with done set.
//
// Chunks of an offer still pending or already rejected are refused. A chunk
// for an id that was never offered starts a transfer under a fallback name.
func (m *Manager) HandleChunk(from domain.Username, chunk domain.FileChunkBody) (string, bool, error) {
	key := downloadKey{from, chunk.ID}

	m.mu.Lock()
	r, ok := m.downloads[key]
	if !ok {
		if o, pending := m.offers[chunk.ID]; pending && o.From == from {
			m.mu.Unlock()
			return "", false, fmt.Errorf("%w: %s", ErrNotAccepted, chunk.ID)
		}
		if _, rej := m.rejected[key]; rej {
			m.mu.Unlock()
			return "", false, fmt.Errorf("%w: %s", ErrRejected, chunk.ID)
		}
		r = NewReassembly(chunk.ID, fallbackName, -1)
		m.downloads[key] = r
		m.log.Debugf("chunk for unknown transfer %s from %s", chunk.ID, from)
	}
	if err := r.Add(chunk.Seq, chunk.Data, chunk.Final); err != nil {
		m.mu.Unlock()
		return "", false, err
	}
	if !r.Complete() {
		m.mu.Unlock()
		return "", false, nil
	}
	delete(m.downloads, key)
	m.mu.Unlock()

	data, err := r.Bytes()
	if err != nil {
		return "", false, err
	}
	path, err := m.store.SaveDownload(r.Name, data)
	if err != nil {
		return "", false, fmt.Errorf("transfer: save %s: %w", r.Name, err)
	}
	m.log.Infof("received %q from %s (%d bytes)", r.Name, from, len(data))
	return path, true, nil
}

func contentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

var _ domain.FileTransfers = (*Manager)(nil)
