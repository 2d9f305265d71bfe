package client

import (
	"errors"
	"fmt"

	"relaychat/internal/domain"
)

var (
	// ErrNotConnected is returned by outbound calls after Close.
	ErrNotConnected = errors.New("client: not connected")
	// ErrUnexpectedReply is returned when the relay answers auth with
	// neither a key nor an error.
	ErrUnexpectedReply = errors.New("client: unexpected handshake reply")
)

// HandshakeError is an error envelope received in place of the relay key.
type HandshakeError struct {
	Code domain.ErrorCode
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("client: relay refused handshake: %s", e.Code)
}

// IsDuplicateUsername reports whether err is a rejection because the name is
// already in use.
func IsDuplicateUsername(err error) bool {
	var he *HandshakeError
	return errors.As(err, &he) && he.Code == domain.CodeDuplicateUsername
}
