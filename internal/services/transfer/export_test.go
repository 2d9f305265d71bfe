package transfer

import "time"

// SetBroadcastTTL shortens the broadcast offer lifetime for tests.
func SetBroadcastTTL(m *Manager, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcastTTL = d
}
