package stream

import (
	"log"
	"sync"
)

// emitter fans an event out to registered listeners in insertion order.
// A panicking listener is logged and must not prevent delivery to the
// listeners registered after it.
type emitter[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// subscribe registers fn and returns its unsubscribe function. Unsubscribing
// twice is harmless.
func (e *emitter[T]) subscribe(fn func(T)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.subs = append(e.subs, subscriber[T]{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

func (e *emitter[T]) emit(logger *log.Logger, v T) {
	e.mu.Lock()
	subs := make([]subscriber[T], len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, s := range subs {
		deliver(logger, s.fn, v)
	}
}

func deliver[T any](logger *log.Logger, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Printf("[stream] listener panic recovered: %v", r)
		}
	}()
	fn(v)
}

func (e *emitter[T]) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}
