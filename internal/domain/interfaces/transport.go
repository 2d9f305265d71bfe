package interfaces

// Sender writes one value as a framed message on a connection. Implementations
// must be safe for concurrent use.
type Sender interface {
	Send(v any) error
}
