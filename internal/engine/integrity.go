package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultDedupeWindow bounds how close together a document-hidden and a
// window-blur signal may land and still count as one real switch-away.
// Browsers fire both for a single tab switch; counting them twice would
// terminate candidates at half the configured limit.
const DefaultDedupeWindow = time.Second

// IntegrityMonitor counts focus-loss violations and reports each one to
// the Remote, which decides whether the session is terminated. The local
// count is optimistic: it advances even when the report fails.
type IntegrityMonitor struct {
	remote    Remote
	sessionID uuid.UUID
	limit     int
	window    time.Duration
	now       func() time.Time
	log       zerolog.Logger

	// suspended reports whether a submission is already underway, in
	// which case signals are ignored.
	suspended func() bool

	onWarning    func(count, limit int)
	onTerminated func()

	mu        sync.Mutex
	count     int
	lastEvent time.Time
	cancels   []func()
}

func newIntegrityMonitor(
	remote Remote,
	sessionID uuid.UUID,
	seedCount, limit int,
	window time.Duration,
	now func() time.Time,
	log zerolog.Logger,
	suspended func() bool,
	onWarning func(count, limit int),
	onTerminated func(),
) *IntegrityMonitor {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &IntegrityMonitor{
		remote:       remote,
		sessionID:    sessionID,
		limit:        limit,
		window:       window,
		now:          now,
		log:          log.With().Str("component", "integrity").Logger(),
		suspended:    suspended,
		onWarning:    onWarning,
		onTerminated: onTerminated,
		count:        seedCount,
	}
}

// Attach subscribes to both focus-loss sources. Either firing counts as a
// violation; the pair is de-duplicated within the window.
func (m *IntegrityMonitor) Attach(documentHidden, windowBlur SignalSource) {
	m.mu.Lock()
	m.cancels = append(m.cancels,
		documentHidden.Subscribe(m.handleSignal),
		windowBlur.Subscribe(m.handleSignal),
	)
	m.mu.Unlock()
}

// Detach unsubscribes from all signal sources.
func (m *IntegrityMonitor) Detach() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Count returns the running violation count.
func (m *IntegrityMonitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *IntegrityMonitor) handleSignal(at time.Time) {
	if m.suspended() {
		return
	}

	m.mu.Lock()
	if !m.lastEvent.IsZero() && at.Sub(m.lastEvent) < m.window {
		m.mu.Unlock()
		return
	}
	m.lastEvent = at
	m.count++
	count := m.count
	m.mu.Unlock()

	terminated, err := m.remote.ReportViolation(context.Background(), m.sessionID)
	if err != nil {
		// Known gap: the local count advanced but the backend never saw
		// this violation. No retry — the next violation report carries a
		// fresh server-side increment.
		m.log.Warn().Err(err).Int("count", count).Msg("Violation report failed")
		return
	}

	if terminated {
		m.log.Info().Int("count", count).Msg("Session terminated by backend")
		m.onTerminated()
		return
	}

	if count < m.limit {
		m.onWarning(count, m.limit)
	}
}
