package refresh

import "sync"

// Sink is a last-write-wins cell holding the most recent fetch result.
// Consumers read through Get or Subscribe; nobody holds a raw alias into
// scheduler-owned memory. Concurrent writers race benignly: the most
// recent completed Write is what readers observe.
type Sink[T any] struct {
	mu   sync.RWMutex
	val  T
	set  bool
	subs map[uint64]func(T)
	next uint64
}

func NewSink[T any]() *Sink[T] {
	return &Sink[T]{subs: map[uint64]func(T){}}
}

// Write stores v and notifies subscribers. Callbacks run on the writer's
// goroutine, outside the sink lock.
func (s *Sink[T]) Write(v T) {
	s.mu.Lock()
	s.val = v
	s.set = true
	fns := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Get returns the current value and whether one has ever been written.
func (s *Sink[T]) Get() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.val, s.set
}

// Subscribe registers fn for every subsequent Write and returns a cancel
// function. Cancel is idempotent.
func (s *Sink[T]) Subscribe(fn func(T)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.next++
	id := s.next
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
