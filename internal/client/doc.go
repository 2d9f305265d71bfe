// Package client is one participant's connection to the relay.
//
// Connect performs the handshake: auth, then the relay's public key, then the
// wrapped session key. The receive loop is started before the wrapped key is
// sent so the join notice and first userlist pushed right after the handshake
// are never missed. Until a handler is attached with Subscribe, decoded
// messages queue in an unbounded backlog which is flushed in order on attach.
//
// When the loop ends for any reason a single synthetic system message with
// the text "Disconnected." is delivered.
package client
