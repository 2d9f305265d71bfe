package relay

import (
	"errors"
	"fmt"
	"net"

	"gopkg.in/op/go-logging.v1"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/protocol/codec"
	"relaychat/internal/util/memzero"
)

// errHandshake marks a handshake-stage protocol violation; the connection is
// closed after the error envelope is sent.
var errHandshake = errors.New("relay: handshake rejected")

type incomingConn struct {
	s    *Server
	conn net.Conn
	c    *codec.Conn
	log  *logging.Logger

	username   domain.Username
	registered bool
	joined     bool
}

func newIncomingConn(s *Server, conn net.Conn) *incomingConn {
	return &incomingConn{
		s:    s,
		conn: conn,
		c:    codec.New(conn),
		log:  s.logBackend.GetLogger(fmt.Sprintf("conn:%v", conn.RemoteAddr())),
	}
}

func (c *incomingConn) worker() {
	defer c.teardown()

	if err := c.handshake(); err != nil {
		c.log.Debugf("handshake: %v", err)
		return
	}
	c.joined = true
	c.s.metrics.Clients.Inc()
	c.log.Noticef("%q joined", c.username)
	c.s.announce(fmt.Sprintf("%s joined the chatroom.", c.username))

	for {
		env, err := c.c.ReceiveEnvelope()
		if err != nil {
			if errors.Is(err, codec.ErrConnectionClosed) {
				c.log.Debugf("%q disconnected", c.username)
			} else {
				c.log.Warningf("%q: %v", c.username, err)
			}
			return
		}

		switch {
		case env.Type.Routable():
			env.Sender = c.username
			c.s.router.Route(env)
		case env.Type == domain.TypeSystem && isLeave(env):
			c.log.Debugf("%q left", c.username)
			return
		default:
			c.sendError(domain.CodeUnknownType, c.username)
		}
	}
}

func (c *incomingConn) handshake() error {
	env, err := c.c.ReceiveEnvelope()
	if err != nil {
		return err
	}
	var auth domain.AuthPayload
	if env.Type != domain.TypeAuth || env.DecodePayload(&auth) != nil || auth.Username == "" || auth.Username == domain.Broadcast {
		return c.reject(domain.CodeExpectAuth, "")
	}

	if err := c.s.reg.Register(auth.Username, c.c, auth.AvatarID); err != nil {
		c.log.Noticef("rejecting duplicate identity %q", auth.Username)
		return c.reject(domain.CodeDuplicateUsername, "")
	}
	c.username = auth.Username
	c.registered = true

	keyEnv, err := domain.NewEnvelope(domain.TypeKey, "", c.username, domain.ServerKeyPayload{ServerPubPEM: c.s.pubPEM})
	if err != nil {
		return err
	}
	if err := c.c.Send(keyEnv); err != nil {
		return err
	}

	env, err = c.c.ReceiveEnvelope()
	if err != nil {
		return err
	}
	var wrapped domain.WrappedKeyPayload
	if env.Type != domain.TypeKey || env.DecodePayload(&wrapped) != nil || wrapped.Wrapped == "" {
		return c.reject(domain.CodeExpectAESKey, c.username)
	}
	key, err := crypto.UnwrapKey(c.s.key, wrapped.Wrapped)
	if err != nil {
		return c.reject(domain.CodeExpectAESKey, c.username)
	}
	defer memzero.Zero(key)
	return c.s.reg.SetSessionKey(c.username, key)
}

func (c *incomingConn) reject(code domain.ErrorCode, to domain.Username) error {
	c.s.metrics.HandshakeFailures.WithLabelValues(string(code)).Inc()
	c.sendError(code, to)
	return fmt.Errorf("%w: %s", errHandshake, code)
}

func (c *incomingConn) sendError(code domain.ErrorCode, to domain.Username) {
	env, err := domain.NewEnvelope(domain.TypeError, "", to, domain.ErrorPayload{Code: code})
	if err != nil {
		c.log.Errorf("build error envelope: %v", err)
		return
	}
	if err := c.c.Send(env); err != nil {
		c.log.Debugf("send %s: %v", code, err)
	}
}

func (c *incomingConn) teardown() {
	if c.registered {
		c.s.reg.Unregister(c.username)
	}
	if c.joined {
		c.s.metrics.Clients.Dec()
		c.log.Noticef("%q left", c.username)
		c.s.announce(fmt.Sprintf("%s left the chatroom.", c.username))
	}
	c.conn.Close()
	c.s.onClosedConn(c)
}

func isLeave(env domain.Envelope) bool {
	var p domain.SystemPayload
	return env.DecodePayload(&p) == nil && p.Event == domain.EventLeave
}
