package refresh

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	logx "peillute/pkg/logx"
)

// FetchFunc produces a fresh value for a cached resource.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Resource wraps a typed fetch behind a Trigger. Whenever the trigger's
// observed count changes, the resource re-runs the fetch and republishes
// the result to its sink. A failed fetch leaves the previously cached
// value in place.
type Resource[T any] struct {
	name    string
	log     logx.Logger
	trigger *Trigger
	fetch   FetchFunc[T]
	sink    *Sink[T]
	warn    *rate.Limiter
}

// BindResource attaches fetch to trigger for the lifetime of scope.
//
// It performs one immediate fetch (the initial load), then observes the
// trigger from its own goroutine. Invalidations arriving while a fetch is
// outstanding coalesce: the observer re-fetches once more and sees the
// latest counter value (at-least-once freshness, not exactly-once
// execution). The observer stops when the scope unmounts.
func BindResource[T any](scope *Scope, log logx.Logger, name string, trigger *Trigger, fetch FetchFunc[T], sink *Sink[T]) (*Resource[T], error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Resource[T]{
		name:    name,
		log:     log,
		trigger: trigger,
		fetch:   fetch,
		sink:    sink,
		warn:    rate.NewLimiter(rate.Every(failLogInterval), 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	// Initial load happens on the caller's goroutine so the sink is
	// primed before Bind returns (when the fetch succeeds).
	r.refetch(ctx)

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger.C():
			}
			if ctx.Err() != nil {
				return
			}
			r.refetch(ctx)
		}
	}()

	scope.OnUnmount(func() {
		cancel()
		<-done
	})
	return r, nil
}

func (r *Resource[T]) refetch(ctx context.Context) {
	seen := r.trigger.Count()
	v, err := r.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil && r.warn.Allow() {
			r.log.Warn("resource fetch failed",
				logx.String("resource", r.name), logx.Uint64("trigger", seen), logx.Err(err))
		}
		return
	}
	r.sink.Write(v)
}

// Invalidate marks the resource stale. It returns immediately; the
// observer goroutine performs the actual fetch.
func (r *Resource[T]) Invalidate() { r.trigger.Invalidate() }

// Sink exposes the value stream.
func (r *Resource[T]) Sink() *Sink[T] { return r.sink }

// AutoRefresh schedules a scope-owned subscription whose only job is to
// invalidate the trigger once per interval. Combined with BindResource
// this reproduces "poll a cached resource every N seconds".
func AutoRefresh(scope *Scope, name string, interval time.Duration, trigger *Trigger) (*Handle, error) {
	return scope.Every(name, interval, func(context.Context) error {
		trigger.Invalidate()
		return nil
	})
}
