// Package memzero wipes key material from memory on a best-effort basis.
package memzero

import "runtime"

// Zero overwrites b with zeros. Copies the runtime or the GC may have made
// elsewhere are not reached.
//
//go:noinline
func Zero(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}
