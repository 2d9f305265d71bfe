// Package worker provides a set of managed background goroutines.
package worker

import "sync"

// Worker is a set of managed background goroutines.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once
	haltOnce sync.Once

	haltCh chan struct{}
}

// Go executes fn in a new goroutine. It is fn's responsibility to monitor
// HaltCh, or some other shutdown signal, and return.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt signals all goroutines started under the Worker to terminate and waits
// until they have returned. It is safe to call more than once.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() { close(w.haltCh) })
	w.Wait()
}

// HaltCh returns the channel that is closed by Halt.
func (w *Worker) HaltCh() <-chan struct{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

func (w *Worker) init() {
	w.haltCh = make(chan struct{})
}
