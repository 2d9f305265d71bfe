package interfaces

import "crypto/rsa"

// DownloadStore persists completed inbound transfers.
type DownloadStore interface {
	SaveDownload(name string, data []byte) (path string, err error)
}

// ServerKeyStore persists the relay's long-term RSA key.
type ServerKeyStore interface {
	SaveServerKey(passphrase string, key *rsa.PrivateKey) error
	LoadServerKey(passphrase string) (*rsa.PrivateKey, bool, error)
}
