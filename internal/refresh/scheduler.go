package refresh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"peillute/internal/eventbus"
	logx "peillute/pkg/logx"
)

// Bus event types published by the scheduler.
const (
	EventTick        = "refresh.tick"
	EventFetchFailed = "refresh.fetch_failed"
	EventCancelled   = "refresh.cancelled"
)

// TickEvent is the Data payload for scheduler bus events.
type TickEvent struct {
	Name  string
	Tick  uint64
	Took  time.Duration
	Error string
}

var (
	ErrSchedulerClosed = errors.New("refresh: scheduler closed")
	ErrBadInterval     = errors.New("refresh: interval must be > 0")
	ErrNilFetcher      = errors.New("refresh: fetcher is required")
)

// Fetcher is the operation a subscription repeats. Its error is observed
// only for logging; returning an error never terminates the subscription.
type Fetcher func(ctx context.Context) error

// State tracks a subscription's lifecycle. Cancelled is terminal.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// How often a persistently failing fetcher is allowed to reach the log.
const failLogInterval = 10 * time.Second

// Scheduler owns periodic fetch subscriptions. The zero value is not
// usable; construct with NewScheduler.
type Scheduler struct {
	log logx.Logger
	bus eventbus.Bus

	mu     sync.Mutex
	closed bool
	seq    uint64
	live   map[uint64]*Handle

	wg sync.WaitGroup
}

func NewScheduler(log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{log: log, bus: bus, live: map[uint64]*Handle{}}
}

// Handle cancels one subscription. Cancel is idempotent; after the first
// call no new fetcher invocation begins. Done is closed once the polling
// loop has fully exited (including any in-flight fetch).
type Handle struct {
	name     string
	interval time.Duration

	state  atomic.Int32
	ticks  atomic.Uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *Handle) Name() string            { return h.name }
func (h *Handle) Interval() time.Duration { return h.interval }
func (h *Handle) State() State            { return State(h.state.Load()) }
func (h *Handle) Done() <-chan struct{}   { return h.done }

// Ticks reports how many fetcher invocations have started.
func (h *Handle) Ticks() uint64 { return h.ticks.Load() }

func (h *Handle) Cancel() { h.cancel() }

// Every registers a repeating fetch. The first invocation happens only
// after one full interval has elapsed; any initial load is the caller's
// responsibility, performed once before scheduling.
func (s *Scheduler) Every(name string, interval time.Duration, fn Fetcher) (*Handle, error) {
	if interval <= 0 {
		return nil, ErrBadInterval
	}
	if fn == nil {
		return nil, ErrNilFetcher
	}
	if strings.TrimSpace(name) == "" {
		name = "subscription"
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		name:     name,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrSchedulerClosed
	}
	s.seq++
	id := s.seq
	s.live[id] = h
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, id, h, fn)

	s.log.Debug("subscription started",
		logx.String("name", name), logx.Duration("interval", interval))
	return h, nil
}

func (s *Scheduler) run(ctx context.Context, id uint64, h *Handle, fn Fetcher) {
	defer s.wg.Done()
	defer close(h.done)
	defer func() {
		h.state.Store(int32(StateCancelled))
		s.mu.Lock()
		delete(s.live, id)
		s.mu.Unlock()
		s.publish(EventCancelled, TickEvent{Name: h.name, Tick: h.ticks.Load()})
		s.log.Debug("subscription cancelled",
			logx.String("name", h.name), logx.Uint64("ticks", h.ticks.Load()))
	}()

	h.state.Store(int32(StateRunning))

	t := time.NewTicker(h.interval)
	defer t.Stop()

	// A fetcher that fails on every tick would otherwise flood the log.
	warn := rate.NewLimiter(rate.Every(failLogInterval), 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		// If cancellation raced the tick, cancellation wins.
		select {
		case <-ctx.Done():
			return
		default:
		}

		n := h.ticks.Add(1)
		start := time.Now()
		err := fn(ctx)
		took := time.Since(start)

		if err != nil {
			// Errors caused by our own cancellation are not failures.
			if ctx.Err() == nil {
				if warn.Allow() {
					s.log.Warn("fetch failed",
						logx.String("name", h.name), logx.Uint64("tick", n),
						logx.Duration("took", took), logx.Err(err))
				}
				s.publish(EventFetchFailed, TickEvent{Name: h.name, Tick: n, Took: took, Error: err.Error()})
			}
			continue
		}
		s.publish(EventTick, TickEvent{Name: h.name, Tick: n, Took: took})
	}
}

func (s *Scheduler) publish(typ string, data TickEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Len reports the number of live subscriptions (for diagnostics/tests).
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Close cancels every live subscription and waits for their loops to
// drain. Further Every calls fail with ErrSchedulerClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	handles := make([]*Handle, 0, len(s.live))
	for _, h := range s.live {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	s.wg.Wait()
	s.log.Debug("scheduler closed", logx.Int("cancelled", len(handles)))
}
