package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const sealedFormatVersion = 1

// sealedAAD binds the ciphertext to this file format.
var sealedAAD = []byte("relaychat-sealed-v1")

// ErrWrongPassphrase is returned when the passphrase is incorrect or the
// sealed file has been modified.
var ErrWrongPassphrase = errors.New("store: wrong passphrase or corrupted key file")

type kdfParams struct {
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
}

func defaultKDF() kdfParams { return kdfParams{N: 1 << 15, R: 8, P: 1} }

// sealedFile is the on-disk JSON form of a passphrase-sealed secret.
type sealedFile struct {
	Version    int       `json:"version"`
	KDF        kdfParams `json:"scrypt"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

func deriveKey(passphrase string, salt []byte, p kdfParams) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, p.N, p.R, p.P, chacha20poly1305.KeySize)
}

// seal encrypts secret with XChaCha20-Poly1305 under a scrypt-derived key.
func seal(passphrase string, secret []byte, p kdfParams) ([]byte, error) {
	sf := sealedFile{
		Version: sealedFormatVersion,
		KDF:     p,
		Salt:    make([]byte, 16),
		Nonce:   make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(sf.Salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(sf.Nonce); err != nil {
		return nil, err
	}
	key, err := deriveKey(passphrase, sf.Salt, p)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	sf.Ciphertext = aead.Seal(nil, sf.Nonce, secret, sealedAAD)
	return json.Marshal(sf)
}

// open reverses seal.
func open(passphrase string, b []byte) ([]byte, error) {
	var sf sealedFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("store: parse sealed file: %w", err)
	}
	if sf.Version != sealedFormatVersion {
		return nil, fmt.Errorf("store: unsupported sealed file version %d", sf.Version)
	}
	key, err := deriveKey(passphrase, sf.Salt, sf.KDF)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sf.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	pt, err := aead.Open(nil, sf.Nonce, sf.Ciphertext, sealedAAD)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}
