package serverkey

import (
	"crypto/rsa"
	"fmt"
	"unicode"

	"gopkg.in/op/go-logging.v1"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// Service loads or creates the relay key.
type Service struct {
	store domain.ServerKeyStore
	log   *logging.Logger
}

// New returns a service backed by store. A nil store means the key lives only
// in memory.
func New(store domain.ServerKeyStore, log *logging.Logger) *Service {
	return &Service{store: store, log: log}
}

// LoadOrGenerate returns the relay key and its fingerprint.
func (s *Service) LoadOrGenerate(passphrase string) (*rsa.PrivateKey, domain.Fingerprint, error) {
	if s.store != nil {
		key, ok, err := s.store.LoadServerKey(passphrase)
		if err != nil {
			return nil, "", fmt.Errorf("load server key: %w", err)
		}
		if ok {
			fp, err := crypto.PublicKeyFingerprint(&key.PublicKey)
			if err != nil {
				return nil, "", err
			}
			s.log.Noticef("Loaded server key %s", fp)
			return key, fp, nil
		}
		if passphrase != "" && !isSecurePassphrase(passphrase) {
			return nil, "", ErrWeakPassphrase
		}
	}

	key, err := crypto.GenerateServerKey()
	if err != nil {
		return nil, "", err
	}
	fp, err := crypto.PublicKeyFingerprint(&key.PublicKey)
	if err != nil {
		return nil, "", err
	}
	if s.store != nil {
		if err := s.store.SaveServerKey(passphrase, key); err != nil {
			return nil, "", fmt.Errorf("save server key: %w", err)
		}
		s.log.Noticef("Generated and saved server key %s", fp)
	} else {
		s.log.Noticef("Generated ephemeral server key %s", fp)
	}
	return key, fp, nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len([]rune(passphrase)) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}
