package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/protocol/codec"
	"relaychat/internal/util/memzero"
	"relaychat/internal/worker"
)

// DisconnectedText is the text of the synthetic notice delivered when the
// receive loop ends.
const DisconnectedText = "Disconnected."

const leaveTimeout = time.Second

// Options configures Connect.
type Options struct {
	Addr     string
	Username domain.Username
	AvatarID int
	Log      *logging.Logger
}

// Client is a connected chat session.
type Client struct {
	worker.Worker

	conn     net.Conn
	c        *codec.Conn
	log      *logging.Logger
	username domain.Username
	serverFP domain.Fingerprint
	inbox    inbox
	done     chan struct{}

	mu     sync.Mutex
	key    []byte
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// Connect dials the relay and completes the handshake. A refusal is returned
// as a *HandshakeError.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.Username == "" {
		return nil, errors.New("client: username is required")
	}
	if opts.Log == nil {
		opts.Log = logging.MustGetLogger("client")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", opts.Addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	// Unblock handshake reads if ctx ends first.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	cl, err := handshake(conn, opts)
	if !stop() && err == nil {
		cl.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return cl, nil
}

func handshake(conn net.Conn, opts Options) (*Client, error) {
	c := codec.New(conn)

	auth, err := domain.NewEnvelope(domain.TypeAuth, opts.Username, "", domain.AuthPayload{
		Username: opts.Username,
		AvatarID: opts.AvatarID,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Send(auth); err != nil {
		return nil, fmt.Errorf("client: send auth: %w", err)
	}

	reply, err := c.ReceiveEnvelope()
	if err != nil {
		return nil, fmt.Errorf("client: await relay key: %w", err)
	}
	switch reply.Type {
	case domain.TypeError:
		var e domain.ErrorPayload
		if err := reply.DecodePayload(&e); err != nil {
			return nil, fmt.Errorf("client: decode error reply: %w", err)
		}
		return nil, &HandshakeError{Code: e.Code}
	case domain.TypeKey:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Type)
	}

	var sk domain.ServerKeyPayload
	if err := reply.DecodePayload(&sk); err != nil {
		return nil, fmt.Errorf("client: decode relay key: %w", err)
	}
	pub, err := crypto.ParsePublicKeyPEM(sk.ServerPubPEM)
	if err != nil {
		return nil, err
	}
	fp, err := crypto.PublicKeyFingerprint(pub)
	if err != nil {
		return nil, err
	}
	opts.Log.Infof("relay key fingerprint %s", fp)

	key, err := crypto.NewSessionKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := crypto.WrapKey(pub, key)
	if err != nil {
		memzero.Zero(key)
		return nil, err
	}

	cl := &Client{
		conn:     conn,
		c:        c,
		log:      opts.Log,
		username: opts.Username,
		serverFP: fp,
		key:      key,
		done:     make(chan struct{}),
	}
	cl.Go(cl.receiveLoop)

	keyEnv, err := domain.NewEnvelope(domain.TypeKey, opts.Username, "", domain.WrappedKeyPayload{Wrapped: wrapped})
	if err == nil {
		err = c.Send(keyEnv)
	}
	if err != nil {
		conn.Close()
		cl.Halt()
		memzero.Zero(key)
		return nil, fmt.Errorf("client: send session key: %w", err)
	}
	return cl, nil
}

func (cl *Client) receiveLoop() {
	defer close(cl.done)
	for {
		env, err := cl.c.ReceiveEnvelope()
		if err != nil {
			if errors.Is(err, codec.ErrConnectionClosed) || errors.Is(err, net.ErrClosed) {
				cl.log.Debugf("connection closed")
			} else {
				cl.log.Warningf("receive: %v", err)
			}
			cl.teardown()
			cl.inbox.push(disconnectNotice())
			return
		}

		msg := domain.Message{Envelope: env}
		if env.Type.Encrypted() {
			body, err := crypto.DecryptBody(cl.key, env.Payload)
			if err != nil {
				cl.log.Debugf("dropping undecryptable %s from %s: %v", env.Type, env.Sender, err)
				continue
			}
			msg.Body = body
		}
		cl.inbox.push(msg)
	}
}

// teardown closes the transport and marks the session closed. The conn is
// closed before taking mu so a send blocked on the socket returns.
func (cl *Client) teardown() {
	if err := cl.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		cl.log.Debugf("close after receive failure: %v", err)
	}
	cl.mu.Lock()
	cl.closed = true
	cl.mu.Unlock()
}

func disconnectNotice() domain.Message {
	env, _ := domain.NewEnvelope(domain.TypeSystem, "", "", domain.SystemPayload{Text: DisconnectedText})
	return domain.Message{Envelope: env}
}

// Username returns the identity this session authenticated as.
func (cl *Client) Username() domain.Username { return cl.username }

// ServerFingerprint returns the fingerprint of the relay key seen during the
// handshake.
func (cl *Client) ServerFingerprint() domain.Fingerprint { return cl.serverFP }

// Done is closed when the receive loop has ended.
func (cl *Client) Done() <-chan struct{} { return cl.done }

// Subscribe attaches handler, first replaying any backlog in arrival order.
// The handler is called from the receive goroutine and must not call
// Subscribe. A nil handler detaches and resumes queueing.
func (cl *Client) Subscribe(handler func(domain.Message)) { cl.inbox.attach(handler) }

// SendPublic broadcasts text to every participant, including this one.
func (cl *Client) SendPublic(text string) error {
	return cl.sendEncrypted(domain.TypePublic, domain.Broadcast, domain.TextBody{Text: text})
}

// SendPrivate sends text to one participant.
func (cl *Client) SendPrivate(to domain.Username, text string) error {
	return cl.sendEncrypted(domain.TypePrivate, to, domain.TextBody{Text: text})
}

// SendFileOffer announces a file to one participant or to "*".
func (cl *Client) SendFileOffer(to domain.Username, offer domain.FileOfferBody) error {
	return cl.sendEncrypted(domain.TypeFileOffer, to, offer)
}

// SendFileChunk sends one slice of an accepted transfer.
func (cl *Client) SendFileChunk(to domain.Username, chunk domain.FileChunkBody) error {
	return cl.sendEncrypted(domain.TypeFileChunk, to, chunk)
}

// SendFileAck answers an offer.
func (cl *Client) SendFileAck(to domain.Username, ack domain.FileAckBody) error {
	return cl.sendEncrypted(domain.TypeFileAck, to, ack)
}

func (cl *Client) sendEncrypted(t domain.MessageType, to domain.Username, body any) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed {
		return ErrNotConnected
	}
	enc, err := crypto.EncryptBody(cl.key, body)
	if err != nil {
		return err
	}
	env, err := domain.NewEnvelope(t, cl.username, to, enc)
	if err != nil {
		return err
	}
	return cl.c.Send(env)
}

// Close announces the leave, shuts the connection and waits for the receive
// loop. The leave is best effort.
func (cl *Client) Close() error {
	cl.closeOnce.Do(func() {
		cl.mu.Lock()
		lost := cl.closed
		cl.closed = true
		if env, err := domain.NewEnvelope(domain.TypeSystem, cl.username, "", domain.SystemPayload{Event: domain.EventLeave}); err == nil && !lost {
			cl.conn.SetWriteDeadline(time.Now().Add(leaveTimeout))
			if err := cl.c.Send(env); err != nil {
				cl.log.Debugf("send leave: %v", err)
			}
		}
		cl.mu.Unlock()

		if err := cl.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			cl.closeErr = err
		}
		cl.Halt()

		cl.mu.Lock()
		memzero.Zero(cl.key)
		cl.mu.Unlock()
	})
	return cl.closeErr
}

var _ domain.ChatSession = (*Client)(nil)
