package types

import "time"

// Username represents a relay-registered identity.
type Username string

// String returns the string form of the username.
func (u Username) String() string { return string(u) }

// Broadcast is the target used for messages addressed to every identity.
const Broadcast Username = "*"

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// MessageType discriminates envelopes on the wire.
type MessageType string

const (
	TypeAuth      MessageType = "auth"
	TypeKey       MessageType = "key"
	TypePublic    MessageType = "pub"
	TypePrivate   MessageType = "priv"
	TypeSystem    MessageType = "system"
	TypeUserList  MessageType = "userlist"
	TypeFileOffer MessageType = "file_offer"
	TypeFileChunk MessageType = "file_chunk"
	TypeFileAck   MessageType = "file_ack"
	TypeError     MessageType = "error"
)

// Encrypted reports whether envelopes of this type carry a sealed body once a
// session key exists.
func (t MessageType) Encrypted() bool {
	switch t {
	case TypePublic, TypePrivate, TypeFileOffer, TypeFileChunk, TypeFileAck:
		return true
	}
	return false
}

// Routable reports whether the relay forwards envelopes of this type.
func (t MessageType) Routable() bool { return t.Encrypted() }

// ErrorCode is carried in the payload of error envelopes.
type ErrorCode string

const (
	CodeExpectAuth        ErrorCode = "EXPECT_AUTH"
	CodeDuplicateUsername ErrorCode = "DUPLICATE_USERNAME"
	CodeExpectAESKey      ErrorCode = "EXPECT_AES_KEY"
	CodeUnknownType       ErrorCode = "UNKNOWN_TYPE"
	CodeUserNotFound      ErrorCode = "USER_NOT_FOUND"
)

// EventLeave is the system event a client sends before disconnecting.
const EventLeave = "leave"

const timestampLayout = "2006-01-02T15:04:05Z"

// Timestamp formats t as ISO-8601 UTC with second precision.
func Timestamp(t time.Time) string { return t.UTC().Format(timestampLayout) }

// Now returns the current time formatted with Timestamp.
func Now() string { return Timestamp(time.Now()) }

// ParseTimestamp is the inverse of Timestamp.
func ParseTimestamp(s string) (time.Time, error) { return time.Parse(timestampLayout, s) }
