// Package relay runs the central chat relay.
//
// The relay accepts TCP connections and runs one goroutine per connection.
// Each connection performs the handshake
//
//	client -> auth {username, avatar_id}
//	relay  -> key  {server_pub_pem}        (or error DUPLICATE_USERNAME / EXPECT_AUTH)
//	client -> key  {wrapped}               (RSA-OAEP wrapped AES-256 session key)
//
// after which the identity is announced to everyone with a system notice and a
// fresh userlist. In steady state pub, priv and file_* envelopes go to the
// router, system{event:"leave"} ends the session and anything else is answered
// with error UNKNOWN_TYPE.
//
// The shared state is the registry. Connections have no read or write
// deadline, so a peer that stops responding holds its goroutine until the
// transport fails, and a slow recipient can stall a fan-out.
package relay
