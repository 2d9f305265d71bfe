package transfer

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrBadSeq is returned for a negative seq or a seq past the final marker.
	ErrBadSeq = errors.New("transfer: chunk sequence out of range")
	// ErrIncomplete is returned by Bytes before every chunk has arrived.
	ErrIncomplete = errors.New("transfer: transfer incomplete")
	// ErrSizeMismatch is returned by Bytes when the data does not match the
	// size the offer declared.
	ErrSizeMismatch = errors.New("transfer: size does not match offer")
)

// Reassembly collects the chunks of one inbound transfer.
type Reassembly struct {
	ID   string
	Name string
	// Size is the declared length, or negative when unknown.
	Size int64

	chunks   map[int][]byte
	finalSeq int
}

// NewReassembly starts an empty transfer context.
func NewReassembly(id, name string, size int64) *Reassembly {
	return &Reassembly{
		ID:       id,
		Name:     name,
		Size:     size,
		chunks:   make(map[int][]byte),
		finalSeq: -1,
	}
}

// Add stores one chunk. A repeated seq replaces the earlier data.
func (r *Reassembly) Add(seq int, data []byte, final bool) error {
	if seq < 0 {
		return fmt.Errorf("%w: %d", ErrBadSeq, seq)
	}
	if r.finalSeq >= 0 && seq > r.finalSeq {
		return fmt.Errorf("%w: %d after final %d", ErrBadSeq, seq, r.finalSeq)
	}
	if final {
		for s := range r.chunks {
			if s > seq {
				return fmt.Errorf("%w: final %d before %d", ErrBadSeq, seq, s)
			}
		}
		r.finalSeq = seq
	}
	r.chunks[seq] = append([]byte(nil), data...)
	return nil
}

// Complete reports whether the final marker and every earlier seq arrived.
func (r *Reassembly) Complete() bool {
	return r.finalSeq >= 0 && len(r.chunks) == r.finalSeq+1
}

// Received returns the number of distinct chunks held.
func (r *Reassembly) Received() int { return len(r.chunks) }

// Bytes concatenates the chunks in seq order.
func (r *Reassembly) Bytes() ([]byte, error) {
	if !r.Complete() {
		return nil, ErrIncomplete
	}
	var buf bytes.Buffer
	for seq := 0; seq <= r.finalSeq; seq++ {
		buf.Write(r.chunks[seq])
	}
	if r.Size >= 0 && int64(buf.Len()) != r.Size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, buf.Len(), r.Size)
	}
	return buf.Bytes(), nil
}
