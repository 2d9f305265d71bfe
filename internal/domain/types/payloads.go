package types

// AuthPayload opens the handshake.
type AuthPayload struct {
	Username Username `json:"username"`
	AvatarID int      `json:"avatar_id"`
}

// ServerKeyPayload carries the relay's RSA public key.
type ServerKeyPayload struct {
	ServerPubPEM string `json:"server_pub_pem"`
}

// WrappedKeyPayload carries the client's session key wrapped under the
// relay's public key, base64 encoded.
type WrappedKeyPayload struct {
	Wrapped string `json:"wrapped"`
}

// ErrorPayload is the body of error envelopes.
type ErrorPayload struct {
	Code ErrorCode `json:"code"`
	User Username  `json:"user,omitempty"`
}

// SystemPayload is a server notice (Text) or a client event (Event).
type SystemPayload struct {
	Text  string `json:"text,omitempty"`
	Event string `json:"event,omitempty"`
}

// UserListPayload maps every connected identity to its avatar.
type UserListPayload struct {
	Users map[Username]int `json:"users"`
}

// SealedBody is an AES-GCM output split into base64 nonce, ciphertext and tag.
type SealedBody struct {
	N string `json:"n"`
	C string `json:"c"`
	T string `json:"t"`
}

// EncryptedPayload wraps a sealed body.
type EncryptedPayload struct {
	Enc *SealedBody `json:"enc"`
}

// TextBody is the body of pub and priv messages.
type TextBody struct {
	Text string `json:"text"`
}

// FileOfferBody announces a transfer.
type FileOfferBody struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Type   string `json:"type"`
	FileID string `json:"file_id"`
}

// FileAckBody accepts or rejects an offer.
type FileAckBody struct {
	ID     string `json:"id"`
	Accept bool   `json:"accept"`
}

// FileChunkBody is one slice of a transfer. Data is base64 on the wire.
type FileChunkBody struct {
	ID    string `json:"id"`
	Seq   int    `json:"seq"`
	Data  []byte `json:"data"`
	Final bool   `json:"final"`
}
