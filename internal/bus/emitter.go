// Package bus provides the in-process typed event emitter used by channels,
// agent sessions, and subscription delivery. Emission is synchronous and
// ordered; handler panics are isolated; streams bridge the emitter into
// channel-based consumers with a bounded buffer and an overflow policy.
package bus

import (
	"log/slog"
	"sync"
)

// OverflowPolicy controls what a full stream buffer does with new values.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest buffered value to admit the new one.
	DropOldest OverflowPolicy = iota
	// Block stalls the emitter until the consumer drains the buffer.
	Block
)

// Emitter fans values out to registered handlers and streams.
// The zero value is not usable; construct with NewEmitter.
type Emitter[T any] struct {
	mu        sync.Mutex
	inflight  sync.WaitGroup
	handlers  []*handlerEntry[T]
	streams   []*stream[T]
	completed bool
	logger    *slog.Logger
}

type handlerEntry[T any] struct {
	fn   func(T)
	once bool
	done bool
}

type stream[T any] struct {
	ch     chan T
	done   chan struct{}
	policy OverflowPolicy
	closed bool
}

// NewEmitter creates an emitter. A nil logger falls back to slog.Default.
func NewEmitter[T any](logger *slog.Logger) *Emitter[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter[T]{logger: logger}
}

// On registers a handler and returns its disposer. Handlers registered
// after Complete never receive values.
func (e *Emitter[T]) On(fn func(T)) func() {
	return e.register(fn, false)
}

// Once registers a handler that auto-disposes after its first delivery.
func (e *Emitter[T]) Once(fn func(T)) func() {
	return e.register(fn, true)
}

func (e *Emitter[T]) register(fn func(T), once bool) func() {
	entry := &handlerEntry[T]{fn: fn, once: once}

	e.mu.Lock()
	if e.completed {
		entry.done = true
	} else {
		e.handlers = append(e.handlers, entry)
	}
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		entry.done = true
		e.mu.Unlock()
	}
}

// Emit delivers v to every live handler in registration order, then to
// every stream. A panicking handler is logged and the remaining handlers
// still run. Handlers are never invoked while the emitter lock is held.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	if e.completed {
		e.mu.Unlock()
		return
	}
	e.inflight.Add(1)
	live := make([]*handlerEntry[T], 0, len(e.handlers))
	for _, h := range e.handlers {
		if h.done {
			continue
		}
		live = append(live, h)
		if h.once {
			h.done = true
		}
	}
	streams := make([]*stream[T], len(e.streams))
	copy(streams, e.streams)
	e.mu.Unlock()
	defer e.inflight.Done()

	for _, h := range live {
		e.invoke(h.fn, v)
	}
	for _, s := range streams {
		deliver(s, v)
	}
}

func (e *Emitter[T]) invoke(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "panic", r)
		}
	}()
	fn(v)
}

func deliver[T any](s *stream[T], v T) {
	if s.policy == Block {
		select {
		case s.ch <- v:
		case <-s.done:
		}
		return
	}

	for {
		select {
		case s.ch <- v:
			return
		case <-s.done:
			return
		default:
		}
		// Full: evict the oldest and retry.
		select {
		case <-s.ch:
		default:
		}
	}
}

// Stream returns a buffered channel of future values plus a disposer. The
// channel is closed by the disposer or by Complete; consumers treat close
// as end of sequence. Capacity must be at least 1.
func (e *Emitter[T]) Stream(capacity int, policy OverflowPolicy) (<-chan T, func()) {
	if capacity < 1 {
		capacity = 1
	}
	s := &stream[T]{ch: make(chan T, capacity), done: make(chan struct{}), policy: policy}

	e.mu.Lock()
	if e.completed {
		e.mu.Unlock()
		s.closed = true
		close(s.done)
		close(s.ch)
		return s.ch, func() {}
	}
	e.streams = append(e.streams, s)
	e.mu.Unlock()

	return s.ch, func() { e.closeStreams([]*stream[T]{s}) }
}

// closeStreams detaches the given streams, releases any emitter blocked on
// them, waits for in-flight emissions to drain, and closes the channels so
// consumers observe end of sequence.
func (e *Emitter[T]) closeStreams(streams []*stream[T]) {
	var owned []*stream[T]

	e.mu.Lock()
	for _, s := range streams {
		if s.closed {
			continue
		}
		s.closed = true
		owned = append(owned, s)
		for i, cur := range e.streams {
			if cur == s {
				e.streams = append(e.streams[:i], e.streams[i+1:]...)
				break
			}
		}
	}
	e.mu.Unlock()

	if len(owned) == 0 {
		return
	}
	for _, s := range owned {
		close(s.done)
	}
	// No sender may touch s.ch after this point.
	e.inflight.Wait()
	for _, s := range owned {
		close(s.ch)
	}
}

// Complete marks the emitter terminal: subsequent Emit calls are no-ops,
// later-registered handlers never fire, and all streams are closed so
// in-flight consumers observe end of sequence.
func (e *Emitter[T]) Complete() {
	e.mu.Lock()
	if e.completed {
		e.mu.Unlock()
		return
	}
	e.completed = true
	for _, h := range e.handlers {
		h.done = true
	}
	e.handlers = nil
	streams := make([]*stream[T], len(e.streams))
	copy(streams, e.streams)
	e.mu.Unlock()

	e.closeStreams(streams)
}

// Completed reports whether the emitter is terminal.
func (e *Emitter[T]) Completed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}
