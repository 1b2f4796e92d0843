package refresh

import "sync/atomic"

// Trigger is a monotonic invalidation counter. Invalidate marks the
// observed resource stale; it never fetches anything itself. The notify
// channel has capacity 1, so a burst of invalidations collapses into a
// single pending signal carrying the latest count.
type Trigger struct {
	n  atomic.Uint64
	ch chan struct{}
}

func NewTrigger() *Trigger {
	return &Trigger{ch: make(chan struct{}, 1)}
}

// Invalidate bumps the counter by exactly one and signals observers.
func (t *Trigger) Invalidate() {
	t.n.Add(1)
	select {
	case t.ch <- struct{}{}:
	default:
		// a signal is already pending; the observer will see the
		// latest count when it gets to it
	}
}

// Count returns the number of invalidations so far. It never decreases.
func (t *Trigger) Count() uint64 { return t.n.Load() }

// C is the observation channel. Intended for a single observer.
func (t *Trigger) C() <-chan struct{} { return t.ch }
