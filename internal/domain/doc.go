// Package domain defines the wire envelope, message bodies and the contracts
// shared by the relay and the client. Types live in domain/types and
// interfaces in domain/interfaces; this package re-exports both so callers
// need a single import.
package domain
