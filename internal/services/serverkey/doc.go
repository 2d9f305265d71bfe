// Package serverkey provides the relay's process-wide RSA key.
//
// Without a store a fresh key is generated per process. With a store the key
// is loaded if present, otherwise generated and saved; a non-empty passphrase
// must satisfy the strength policy before a new key is sealed under it.
package serverkey
