// Package crypto exposes the minimal primitives used by the relay and its
// clients.
//
// Contents
//
//   - RSA-2048 key generation and PEM encoding for the relay's process-wide
//     key (GenerateServerKey, PublicKeyPEM, ParsePublicKeyPEM)
//   - Session key wrap/unwrap with RSA-OAEP, SHA-256 for digest and MGF1
//     (WrapKey, UnwrapKey)
//   - AES-256-GCM body sealing split into nonce, ciphertext and tag
//     (Seal, Open, EncryptBody, DecryptBody)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Nonces
//
// Every Seal draws a fresh 96-bit nonce from crypto/rand. There is no counter
// and no reuse detection: uniqueness under one session key rests on the
// random source not repeating within a session's message volume, which holds
// with overwhelming probability well below 2^32 messages per key.
//
// # Failure
//
// Open and DecryptBody fail closed. Any malformed field or tag mismatch yields
// ErrDecrypt and no plaintext.
package crypto
