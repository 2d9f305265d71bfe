package client

import (
	"sync"

	"relaychat/internal/domain"
)

// inbox hands decoded messages to the attached handler, or queues them until
// one is attached. The handler runs under the lock so delivery order is the
// push order; it must not call Subscribe.
type inbox struct {
	mu      sync.Mutex
	handler func(domain.Message)
	backlog []domain.Message
}

func (b *inbox) push(m domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handler != nil {
		b.handler(m)
		return
	}
	b.backlog = append(b.backlog, m)
}

func (b *inbox) attach(h func(domain.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h != nil {
		for _, m := range b.backlog {
			h(m)
		}
		b.backlog = nil
	}
	b.handler = h
}

func (b *inbox) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.backlog)
}
