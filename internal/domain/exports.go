package domain

import (
	"time"

	interfaces "relaychat/internal/domain/interfaces"
	types "relaychat/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Username          = types.Username
	Fingerprint       = types.Fingerprint
	MessageType       = types.MessageType
	ErrorCode         = types.ErrorCode
	Envelope          = types.Envelope
	Message           = types.Message
	AuthPayload       = types.AuthPayload
	ServerKeyPayload  = types.ServerKeyPayload
	WrappedKeyPayload = types.WrappedKeyPayload
	ErrorPayload      = types.ErrorPayload
	SystemPayload     = types.SystemPayload
	UserListPayload   = types.UserListPayload
	SealedBody        = types.SealedBody
	EncryptedPayload  = types.EncryptedPayload
	TextBody          = types.TextBody
	FileOfferBody     = types.FileOfferBody
	FileAckBody       = types.FileAckBody
	FileChunkBody     = types.FileChunkBody
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Sender         = interfaces.Sender
	ChatSession    = interfaces.ChatSession
	FileTransfers  = interfaces.FileTransfers
	DownloadStore  = interfaces.DownloadStore
	ServerKeyStore = interfaces.ServerKeyStore
)

// Re-exported constants.
const (
	Broadcast = types.Broadcast

	TypeAuth      = types.TypeAuth
	TypeKey       = types.TypeKey
	TypePublic    = types.TypePublic
	TypePrivate   = types.TypePrivate
	TypeSystem    = types.TypeSystem
	TypeUserList  = types.TypeUserList
	TypeFileOffer = types.TypeFileOffer
	TypeFileChunk = types.TypeFileChunk
	TypeFileAck   = types.TypeFileAck
	TypeError     = types.TypeError

	CodeExpectAuth        = types.CodeExpectAuth
	CodeDuplicateUsername = types.CodeDuplicateUsername
	CodeExpectAESKey      = types.CodeExpectAESKey
	CodeUnknownType       = types.CodeUnknownType
	CodeUserNotFound      = types.CodeUserNotFound

	EventLeave = types.EventLeave
)

// NewEnvelope builds an envelope stamped with the current time.
func NewEnvelope(t MessageType, sender, to Username, payload any) (Envelope, error) {
	return types.NewEnvelope(t, sender, to, payload)
}

// Now returns the current wire timestamp.
func Now() string { return types.Now() }

// ParseTimestamp parses a wire timestamp.
func ParseTimestamp(s string) (time.Time, error) { return types.ParseTimestamp(s) }
