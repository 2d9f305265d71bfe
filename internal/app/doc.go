// Package app wires the terminal client.
//
// NewWire connects to the relay and builds the download store and transfer
// manager around the session. App turns decoded messages into printed lines
// and input lines into outbound calls.
package app
