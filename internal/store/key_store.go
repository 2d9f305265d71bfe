package store

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"relaychat/internal/domain"
	"relaychat/internal/util/memzero"
)

const pemTypePrivateKey = "PRIVATE KEY"

// ErrNotRSA is returned when the key file holds a non-RSA key.
var ErrNotRSA = errors.New("store: key file does not hold an RSA key")

// KeyFileStore persists the relay's RSA key as PKCS#8. With a passphrase the
// DER is sealed; without one it is written as PEM. The file is always 0600.
type KeyFileStore struct {
	path string
	kdf  kdfParams
	mu   sync.Mutex
}

// NewKeyFileStore returns a store for the key file at path.
func NewKeyFileStore(path string) *KeyFileStore {
	return &KeyFileStore{path: path, kdf: defaultKDF()}
}

// Path returns the key file location.
func (s *KeyFileStore) Path() string { return s.path }

// SaveServerKey writes key, sealing it when passphrase is set.
func (s *KeyFileStore) SaveServerKey(passphrase string, key *rsa.PrivateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("store: encode key: %w", err)
	}
	defer memzero.Zero(der)

	var out []byte
	if passphrase == "" {
		out = pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der})
	} else if out, err = seal(passphrase, der, s.kdf); err != nil {
		return fmt.Errorf("store: seal key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return writeFile(s.path, out, 0o600)
}

// LoadServerKey reads the key. ok is false when no key file exists.
func (s *KeyFileStore) LoadServerKey(passphrase string) (*rsa.PrivateKey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(s.path)
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, nil
	}

	var der []byte
	if block, _ := pem.Decode(b); block != nil && bytes.HasPrefix(bytes.TrimSpace(b), []byte("-----BEGIN")) {
		if block.Type != pemTypePrivateKey {
			return nil, false, fmt.Errorf("store: unexpected PEM block %q", block.Type)
		}
		der = block.Bytes
	} else {
		if passphrase == "" {
			return nil, false, fmt.Errorf("store: %s is sealed: %w", s.path, ErrWrongPassphrase)
		}
		if der, err = open(passphrase, b); err != nil {
			return nil, false, err
		}
		defer memzero.Zero(der)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, false, fmt.Errorf("store: parse key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, false, ErrNotRSA
	}
	return key, true, nil
}

var _ domain.ServerKeyStore = (*KeyFileStore)(nil)
