// Package main runs the relaychat relay.
//
// The relay accepts newline-delimited JSON envelopes over TCP. Each client
// authenticates with a unique username, receives the relay's RSA public key
// and answers with a fresh AES-256 session key wrapped under it. From then on
// every chat body is AES-GCM encrypted under that session key; the relay
// decrypts each message and re-encrypts it separately for every recipient.
//
// Usage
//
//	relay [--listen 0.0.0.0:5050] [--key-file relay.key [--ask-passphrase]]
//	      [--metrics-addr 127.0.0.1:9090] [--config relay.yaml]
//	relay fingerprint --key-file relay.key
//
// Behaviour
//
//   - Without --key-file a new key is generated at every start and clients
//     will see a different fingerprint each time.
//   - With --metrics-addr, Prometheus metrics are served at /metrics.
//   - SIGINT or SIGTERM closes every connection and exits.
//   - Chat history is never stored.
package main
