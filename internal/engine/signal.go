package engine

import (
	"sync"
	"time"
)

// SignalSource delivers focus/visibility/fullscreen signals from the
// candidate's browser. Monitors depend only on this interface, never on a
// transport, so tests can drive them directly.
type SignalSource interface {
	// Subscribe registers a handler and returns an unsubscribe func.
	Subscribe(fn func(at time.Time)) (cancel func())
}

// Feed is the transport-fed SignalSource implementation. REST and
// WebSocket handlers call Emit when the client reports an event.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]func(time.Time)
	nextID int
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]func(time.Time))}
}

// Subscribe implements SignalSource.
func (f *Feed) Subscribe(fn func(at time.Time)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
		})
	}
}

// Emit delivers a signal to every subscriber on the caller's goroutine.
func (f *Feed) Emit(at time.Time) {
	f.mu.Lock()
	handlers := make([]func(time.Time), 0, len(f.subs))
	for _, fn := range f.subs {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()

	for _, fn := range handlers {
		fn(at)
	}
}
