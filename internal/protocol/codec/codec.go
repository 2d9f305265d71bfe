package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"relaychat/internal/domain"
)

const (
	delimiter = '\n'
	readSize  = 4096

	// MaxLineSize bounds a single frame so a peer that never sends a
	// delimiter cannot grow the residual buffer without limit.
	MaxLineSize = 16 << 20
)

var (
	// ErrConnectionClosed is returned when the peer closes the stream before
	// a complete line is available.
	ErrConnectionClosed = errors.New("codec: connection closed")
	// ErrLineTooLong is returned when a frame exceeds MaxLineSize.
	ErrLineTooLong = errors.New("codec: line too long")
	// ErrMalformed wraps JSON decoding failures of a complete line.
	ErrMalformed = errors.New("codec: malformed frame")
)

// Conn frames values over rw.
type Conn struct {
	rw io.ReadWriter

	wmu sync.Mutex

	buf  []byte
	rerr error
}

// New returns a Conn over rw.
func New(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// Send encodes v as compact JSON, appends the delimiter and writes the full
// frame.
func (c *Conn) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: encode: %w", err)
	}
	b = append(b, delimiter)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	for len(b) > 0 {
		n, err := c.rw.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Receive blocks until one complete line is available and decodes it into v.
// Blank lines are skipped.
func (c *Conn) Receive(v any) error {
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// ReceiveEnvelope is Receive specialised to envelopes.
func (c *Conn) ReceiveEnvelope() (domain.Envelope, error) {
	var env domain.Envelope
	err := c.Receive(&env)
	return env, err
}

// Buffered returns the number of residual bytes held for the next Receive.
func (c *Conn) Buffered() int { return len(c.buf) }

// Close closes the underlying stream if it is an io.Closer.
func (c *Conn) Close() error {
	if cl, ok := c.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func (c *Conn) readLine() ([]byte, error) {
	scratch := make([]byte, readSize)
	for {
		if i := bytes.IndexByte(c.buf, delimiter); i >= 0 {
			line := make([]byte, i)
			copy(line, c.buf[:i])
			c.buf = append(c.buf[:0], c.buf[i+1:]...)
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			return line, nil
		}
		if c.rerr != nil {
			return nil, c.rerr
		}
		if len(c.buf) > MaxLineSize {
			return nil, ErrLineTooLong
		}

		n, err := c.rw.Read(scratch)
		c.buf = append(c.buf, scratch[:n]...)
		switch {
		case err == nil && n == 0:
			c.rerr = ErrConnectionClosed
		case errors.Is(err, io.EOF):
			c.rerr = ErrConnectionClosed
		case err != nil:
			c.rerr = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
	}
}
