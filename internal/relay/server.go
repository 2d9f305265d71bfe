package relay

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/metrics"
	"relaychat/internal/relay/registry"
	"relaychat/internal/relay/router"
	"relaychat/internal/worker"
)

// Server is the relay.
type Server struct {
	worker.Worker

	logBackend *log.Backend
	log        *logging.Logger
	metrics    *metrics.Metrics

	key    *rsa.PrivateKey
	pubPEM string

	reg    *registry.Registry
	router *router.Router

	l net.Listener

	mu     sync.Mutex
	conns  map[*incomingConn]struct{}
	closed bool
}

// New builds a relay around the process-wide key.
func New(key *rsa.PrivateKey, backend *log.Backend, m *metrics.Metrics) (*Server, error) {
	pubPEM, err := crypto.PublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("relay: encode public key: %w", err)
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	reg := registry.New(backend.GetLogger("registry"))
	return &Server{
		logBackend: backend,
		log:        backend.GetLogger("server"),
		metrics:    m,
		key:        key,
		pubPEM:     pubPEM,
		reg:        reg,
		router:     router.New(reg, backend.GetLogger("router"), m),
		conns:      make(map[*incomingConn]struct{}),
	}, nil
}

// Registry exposes the identity directory.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Listen binds addr and starts accepting connections.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", addr, err)
	}
	s.Serve(l)
	return nil
}

// Serve starts accepting connections on l in the background.
func (s *Server) Serve(l net.Listener) {
	s.l = l
	s.Go(s.acceptLoop)
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr { return s.l.Addr() }

// Halt stops accepting, closes every connection and waits for their
// goroutines to return.
func (s *Server) Halt() {
	s.mu.Lock()
	s.closed = true
	if s.l != nil {
		s.l.Close()
	}
	for c := range s.conns {
		c.conn.Close()
	}
	s.mu.Unlock()

	s.Worker.Halt()
}

func (s *Server) acceptLoop() {
	addr := s.l.Addr()
	s.log.Noticef("Listening on: %v", addr)
	defer s.log.Noticef("Stopping listening on: %v", addr)

	for {
		conn, err := s.l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Errorf("accept failure: %v", err)
			return
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
		s.metrics.Connections.Inc()
		s.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())
		s.onNewConn(conn)
	}
}

func (s *Server) onNewConn(conn net.Conn) {
	c := newIncomingConn(s, conn)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.Go(c.worker)
}

func (s *Server) onClosedConn(c *incomingConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// broadcast sends a plaintext server envelope to every identity that has
// completed its handshake.
func (s *Server) broadcast(t domain.MessageType, payload any) {
	env, err := domain.NewEnvelope(t, "", domain.Broadcast, payload)
	if err != nil {
		s.log.Errorf("build %s: %v", t, err)
		return
	}
	for _, c := range s.reg.Clients() {
		if !c.HasSession() {
			continue
		}
		if err := c.Conn.Send(env); err != nil {
			s.log.Warningf("%s to %q: %v", t, c.Username, err)
		}
	}
}

func (s *Server) announce(text string) {
	s.broadcast(domain.TypeSystem, domain.SystemPayload{Text: text})
	s.broadcast(domain.TypeUserList, domain.UserListPayload{Users: s.reg.List()})
}
