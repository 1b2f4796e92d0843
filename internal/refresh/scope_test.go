package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "peillute/pkg/logx"
)

func TestScopeCancelsSubscriptionsOnClose(t *testing.T) {
	t.Parallel()
	s := NewScheduler(logx.Nop(), nil)
	defer s.Close()

	var calls atomic.Uint64
	var h *Handle
	sc, err := Mount(s, logx.Nop(), func(sc *Scope) error {
		var err error
		h, err = sc.Every("view", 15*time.Millisecond, func(context.Context) error {
			calls.Add(1)
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 2 })
	sc.Close()

	if h.State() != StateCancelled {
		t.Fatalf("State = %v, want cancelled", h.State())
	}
	frozen := calls.Load()
	time.Sleep(60 * time.Millisecond)
	if n := calls.Load(); n != frozen {
		t.Fatalf("poller leaked past unmount: %d -> %d", frozen, n)
	}
}

func TestScopeTeardownOrderAndOnce(t *testing.T) {
	t.Parallel()
	s := NewScheduler(logx.Nop(), nil)
	defer s.Close()

	var order []int
	sc, err := Mount(s, logx.Nop(), func(sc *Scope) error {
		sc.OnUnmount(func() { order = append(order, 1) })
		sc.OnUnmount(func() { order = append(order, 2) })
		return nil
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	sc.Close()
	sc.Close() // second close is a no-op

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("teardown order = %v, want [2 1]", order)
	}
	if !sc.Closed() {
		t.Fatal("scope should report closed")
	}
}

func TestMountSetupErrorTearsDown(t *testing.T) {
	t.Parallel()
	s := NewScheduler(logx.Nop(), nil)
	defer s.Close()

	var cleaned atomic.Bool
	var h *Handle
	boom := errors.New("boom")
	_, err := Mount(s, logx.Nop(), func(sc *Scope) error {
		sc.OnUnmount(func() { cleaned.Store(true) })
		var serr error
		h, serr = sc.Every("partial", 10*time.Millisecond, func(context.Context) error { return nil })
		if serr != nil {
			return serr
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if !cleaned.Load() {
		t.Fatal("teardown did not run after failed setup")
	}
	if h.State() != StateCancelled {
		t.Fatalf("partially registered handle state = %v, want cancelled", h.State())
	}
}

func TestScopeRejectsWorkAfterClose(t *testing.T) {
	t.Parallel()
	s := NewScheduler(logx.Nop(), nil)
	defer s.Close()

	sc, err := Mount(s, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	sc.Close()

	if _, err := sc.Every("late", time.Second, func(context.Context) error { return nil }); !errors.Is(err, ErrScopeClosed) {
		t.Fatalf("err = %v, want ErrScopeClosed", err)
	}

	// OnUnmount after close runs the callback immediately instead of
	// losing it.
	ran := false
	sc.OnUnmount(func() { ran = true })
	if !ran {
		t.Fatal("late OnUnmount callback was dropped")
	}
}

func TestScopeAdopt(t *testing.T) {
	t.Parallel()
	s := NewScheduler(logx.Nop(), nil)
	defer s.Close()

	h, err := s.Every("stray", 10*time.Millisecond, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Every: %v", err)
	}

	sc, err := Mount(s, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if err := sc.Adopt(h); err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	sc.Close()
	if h.State() != StateCancelled {
		t.Fatalf("adopted handle state = %v, want cancelled", h.State())
	}

	// Adopting into a closed scope cancels instead of leaking.
	h2, err := s.Every("stray2", 10*time.Millisecond, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Every: %v", err)
	}
	if err := sc.Adopt(h2); !errors.Is(err, ErrScopeClosed) {
		t.Fatalf("err = %v, want ErrScopeClosed", err)
	}
	<-h2.Done()
	if h2.State() != StateCancelled {
		t.Fatalf("handle adopted into closed scope not cancelled")
	}
}
