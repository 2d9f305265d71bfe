package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ServerKeyBits is the modulus size of the relay key.
const ServerKeyBits = 2048

var (
	// ErrUnwrap is returned for any failure to recover a wrapped session key.
	ErrUnwrap = errors.New("crypto: cannot unwrap session key")
	// ErrNotRSAKey is returned when a PEM block holds a non-RSA key.
	ErrNotRSAKey = errors.New("crypto: not an RSA public key")
)

// GenerateServerKey returns a fresh RSA-2048 key pair.
func GenerateServerKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, ServerKeyBits)
}

// PublicKeyPEM encodes pub as a SubjectPublicKeyInfo PEM block.
func PublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM is the inverse of PublicKeyPEM.
func ParsePublicKeyPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("crypto: no PEM block in server key")
	}
	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse server key: %w", err)
	}
	pub, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, ErrNotRSAKey
	}
	return pub, nil
}

// WrapKey encrypts key under pub with RSA-OAEP/SHA-256 and returns base64.
func WrapKey(pub *rsa.PublicKey, key []byte) (string, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: wrap session key: %w", err)
	}
	return B64(ct), nil
}

// UnwrapKey recovers a session key wrapped by WrapKey. The result is always
// SessionKeySize bytes or an error.
func UnwrapKey(priv *rsa.PrivateKey, wrapped string) ([]byte, error) {
	ct, err := UnB64(wrapped)
	if err != nil {
		return nil, ErrUnwrap
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, ct, nil)
	if err != nil || len(key) != SessionKeySize {
		return nil, ErrUnwrap
	}
	return key, nil
}
