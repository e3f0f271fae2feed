package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FullscreenMonitor enforces the fullscreen mandate softly: exiting
// fullscreen raises a warning and a re-enter prompt, nothing more. It is
// structurally independent of the IntegrityMonitor — leaving fullscreen
// does not touch the tab-switch count.
type FullscreenMonitor struct {
	log zerolog.Logger

	// inProgress gates warnings: exits after the session closed are noise.
	inProgress func() bool
	onExit     func()

	mu      sync.Mutex
	cancels []func()
}

func newFullscreenMonitor(log zerolog.Logger, inProgress func() bool, onExit func()) *FullscreenMonitor {
	return &FullscreenMonitor{
		log:        log.With().Str("component", "fullscreen").Logger(),
		inProgress: inProgress,
		onExit:     onExit,
	}
}

// Attach subscribes to the fullscreen-exit signal source.
func (m *FullscreenMonitor) Attach(exit SignalSource) {
	m.mu.Lock()
	m.cancels = append(m.cancels, exit.Subscribe(m.handleExit))
	m.mu.Unlock()
}

// Detach unsubscribes from all signal sources.
func (m *FullscreenMonitor) Detach() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (m *FullscreenMonitor) handleExit(at time.Time) {
	if !m.inProgress() {
		return
	}
	// Soft enforcement: re-entry failure on the client is logged there and
	// never blocks the candidate.
	m.log.Info().Time("at", at).Msg("Fullscreen exited")
	m.onExit()
}
