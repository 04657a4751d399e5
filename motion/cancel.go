package motion

import "sync"

// token is the cooperative cancellation signal shared between Stop and the
// motion loops. It is re-armed at the start of each motion or calibration
// run and tripped by Stop; there is no forced termination.
type token struct {
	mu sync.Mutex
	ch chan struct{}
}

func newToken() *token {
	return &token{ch: make(chan struct{})}
}

// reset arms the token for a new run, clearing any earlier trip.
func (t *token) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.ch:
		t.ch = make(chan struct{})
	default:
	}
}

// trip signals cancellation. Idempotent.
func (t *token) trip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.ch:
	default:
		close(t.ch)
	}
}

// tripped returns the channel closed when the current run is canceled.
func (t *token) tripped() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}
