package refresh

import (
	"errors"
	"sync"
	"time"

	logx "peillute/pkg/logx"
)

var ErrScopeClosed = errors.New("refresh: scope closed")

type scopePhase int32

const (
	phaseMounted scopePhase = iota
	phaseUnmounting
	phaseUnmounted
)

// Scope binds subscriptions and cleanup callbacks to the lifetime of an
// owning component. Close cancels every owned subscription and runs the
// registered teardowns exactly once, in reverse registration order.
// A closed scope never re-enters the mounted state.
type Scope struct {
	sched *Scheduler
	log   logx.Logger

	mu        sync.Mutex
	phase     scopePhase
	handles   []*Handle
	teardowns []func()

	closeOnce sync.Once
}

// Mount creates a scope and runs setup once. If setup fails the scope is
// closed immediately (anything it registered before failing is torn down)
// and the error is returned.
func Mount(sched *Scheduler, log logx.Logger, setup func(*Scope) error) (*Scope, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	sc := &Scope{sched: sched, log: log}
	if setup != nil {
		if err := setup(sc); err != nil {
			sc.Close()
			return nil, err
		}
	}
	return sc, nil
}

// OnUnmount registers a cleanup callback. Callbacks run exactly once on
// Close, last registered first.
func (sc *Scope) OnUnmount(fn func()) {
	if fn == nil {
		return
	}
	sc.mu.Lock()
	if sc.phase != phaseMounted {
		sc.mu.Unlock()
		// The scope is already tearing down; run the cleanup now rather
		// than losing it.
		fn()
		return
	}
	sc.teardowns = append(sc.teardowns, fn)
	sc.mu.Unlock()
}

// Every schedules a repeating fetch owned by this scope. The returned
// handle may be cancelled early by the caller; the scope cancels whatever
// is still live when it closes.
func (sc *Scope) Every(name string, interval time.Duration, fn Fetcher) (*Handle, error) {
	sc.mu.Lock()
	if sc.phase != phaseMounted {
		sc.mu.Unlock()
		return nil, ErrScopeClosed
	}
	sc.mu.Unlock()

	h, err := sc.sched.Every(name, interval, fn)
	if err != nil {
		return nil, err
	}
	if err := sc.adopt(h); err != nil {
		// Closed between the checks; don't leak the new poller.
		h.Cancel()
		return nil, err
	}
	return h, nil
}

// Adopt ties an externally created handle to this scope's lifetime.
func (sc *Scope) Adopt(h *Handle) error {
	if h == nil {
		return nil
	}
	if err := sc.adopt(h); err != nil {
		h.Cancel()
		return err
	}
	return nil
}

func (sc *Scope) adopt(h *Handle) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.phase != phaseMounted {
		return ErrScopeClosed
	}
	sc.handles = append(sc.handles, h)
	return nil
}

// Closed reports whether teardown has started.
func (sc *Scope) Closed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.phase != phaseMounted
}

// Close unmounts the scope: cancels all owned subscriptions, waits for
// their loops to drain, then runs teardown callbacks in reverse order.
// Safe to call multiple times; only the first call does anything.
func (sc *Scope) Close() {
	sc.closeOnce.Do(func() {
		sc.mu.Lock()
		sc.phase = phaseUnmounting
		handles := sc.handles
		teardowns := sc.teardowns
		sc.handles = nil
		sc.teardowns = nil
		sc.mu.Unlock()

		for _, h := range handles {
			h.Cancel()
		}
		for _, h := range handles {
			<-h.Done()
		}
		for i := len(teardowns) - 1; i >= 0; i-- {
			teardowns[i]()
		}

		sc.mu.Lock()
		sc.phase = phaseUnmounted
		sc.mu.Unlock()
		sc.log.Debug("scope unmounted", logx.Int("subscriptions", len(handles)))
	})
}
