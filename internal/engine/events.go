package engine

import "sync"

// EventType names an engine event pushed to session observers.
type EventType string

const (
	// EventLowTime fires once when remaining time crosses the warning threshold.
	EventLowTime EventType = "low_time"
	// EventViolationWarning carries the running violation count and limit.
	EventViolationWarning EventType = "violation_warning"
	// EventTerminated means the backend closed the session for integrity reasons.
	EventTerminated EventType = "terminated"
	// EventSubmitted means the session completed successfully.
	EventSubmitted EventType = "submitted"
	// EventSubmitFailed means an automatic submission exhausted its retries.
	EventSubmitFailed EventType = "submit_failed"
	// EventFullscreenLost asks the client to re-enter fullscreen.
	EventFullscreenLost EventType = "fullscreen_lost"
)

// Event is a single engine notification.
type Event struct {
	Type             EventType `json:"type"`
	RemainingSeconds int       `json:"remaining_seconds,omitempty"`
	ViolationCount   int       `json:"violation_count,omitempty"`
	ViolationLimit   int       `json:"violation_limit,omitempty"`
	// Auto distinguishes a timer-driven submission from a manual one.
	Auto bool `json:"auto,omitempty"`
}

// broadcaster fans engine events out to WebSocket streams. Slow consumers
// are skipped rather than blocking the engine.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a new observer. The returned cancel func is
// idempotent and must be called when the observer goes away.
func (b *broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 16)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default: // drop for slow consumers
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
