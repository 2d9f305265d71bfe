package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"relaychat/internal/domain"
)

const (
	SessionKeySize = 32
	NonceSize      = 12
	TagSize        = 16
)

var (
	// ErrDecrypt covers every body decryption failure.
	ErrDecrypt = errors.New("crypto: message authentication failed")
	// ErrKeySize is returned for session keys that are not 256 bits.
	ErrKeySize = errors.New("crypto: session key must be 32 bytes")
)

// NewSessionKey returns a fresh random 256-bit AES key.
func NewSessionKey() ([]byte, error) {
	k := make([]byte, SessionKeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, err
	}
	return k, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SessionKeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under key with a fresh random nonce and no
// associated data.
func Seal(key, plaintext []byte) (domain.SealedBody, error) {
	aead, err := newGCM(key)
	if err != nil {
		return domain.SealedBody{}, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return domain.SealedBody{}, err
	}
	out := aead.Seal(nil, nonce, plaintext, nil)
	split := len(out) - TagSize
	return domain.SealedBody{
		N: B64(nonce),
		C: B64(out[:split]),
		T: B64(out[split:]),
	}, nil
}

// Open verifies and decrypts a sealed body.
func Open(key []byte, s domain.SealedBody) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := UnB64(s.N)
	if err != nil || len(nonce) != NonceSize {
		return nil, ErrDecrypt
	}
	ct, err := UnB64(s.C)
	if err != nil {
		return nil, ErrDecrypt
	}
	tag, err := UnB64(s.T)
	if err != nil || len(tag) != TagSize {
		return nil, ErrDecrypt
	}
	pt, err := aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// EncryptBody serializes body to JSON and seals it.
func EncryptBody(key []byte, body any) (domain.EncryptedPayload, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return domain.EncryptedPayload{}, fmt.Errorf("crypto: encode body: %w", err)
	}
	sealed, err := Seal(key, raw)
	if err != nil {
		return domain.EncryptedPayload{}, err
	}
	return domain.EncryptedPayload{Enc: &sealed}, nil
}

// DecryptBody opens an encrypted payload and returns the JSON body. A payload
// that is not an encrypted wrapper, or whose plaintext is not JSON, fails with
// ErrDecrypt.
func DecryptBody(key []byte, payload json.RawMessage) (json.RawMessage, error) {
	var p domain.EncryptedPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Enc == nil {
		return nil, ErrDecrypt
	}
	pt, err := Open(key, *p.Enc)
	if err != nil {
		return nil, err
	}
	if !json.Valid(pt) {
		return nil, ErrDecrypt
	}
	return json.RawMessage(pt), nil
}
