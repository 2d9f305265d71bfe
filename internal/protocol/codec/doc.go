// Package codec frames JSON values on a byte stream, one compact object per
// line terminated by '\n'.
//
// A Conn keeps a residual buffer so that partial reads and several lines
// arriving in one read are both handled: Receive returns exactly one value
// per call and keeps any excess bytes for the next call. Only one goroutine
// may call Receive on a Conn at a time; Send is safe for concurrent use.
package codec
