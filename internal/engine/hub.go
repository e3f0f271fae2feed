package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Hub is the registry of live engines, one per in-progress session. A
// candidate reconnecting (page reload, second tab) gets the same engine;
// terminal engines evict themselves.
type Hub struct {
	loader *Loader
	log    zerolog.Logger

	mu      sync.Mutex
	engines map[uuid.UUID]*Engine
}

// NewHub creates a Hub backed by the given Loader.
func NewHub(loader *Loader, log zerolog.Logger) *Hub {
	return &Hub{
		loader:  loader,
		log:     log.With().Str("component", "hub").Logger(),
		engines: make(map[uuid.UUID]*Engine),
	}
}

// Get returns the live engine for a session, loading and starting it on
// first access. A terminal session fails with ErrSessionClosed.
func (h *Hub) Get(ctx context.Context, sessionID uuid.UUID) (*Engine, error) {
	h.mu.Lock()
	if eng, ok := h.engines[sessionID]; ok {
		h.mu.Unlock()
		if eng.Done() {
			return nil, ErrSessionClosed
		}
		return eng, nil
	}
	h.mu.Unlock()

	// Load outside the lock; a racing load for the same session is
	// resolved below, keeping the losing engine unstarted.
	eng, err := h.loader.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if existing, ok := h.engines[sessionID]; ok {
		h.mu.Unlock()
		if existing.Done() {
			return nil, ErrSessionClosed
		}
		return existing, nil
	}
	h.engines[sessionID] = eng
	eng.onFinish = func() { h.remove(sessionID) }
	h.mu.Unlock()

	eng.Start()
	h.log.Info().Str("session_id", sessionID.String()).Msg("Engine started")
	return eng, nil
}

// Peek returns an already-live engine without loading.
func (h *Hub) Peek(sessionID uuid.UUID) (*Engine, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	eng, ok := h.engines[sessionID]
	return eng, ok
}

// Shutdown stops every live countdown. Sessions stay IN_PROGRESS in the
// backing store and resume from absolute timestamps on the next boot.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	engines := make([]*Engine, 0, len(h.engines))
	for _, eng := range h.engines {
		engines = append(engines, eng)
	}
	h.engines = make(map[uuid.UUID]*Engine)
	h.mu.Unlock()

	for _, eng := range engines {
		eng.countdown.Stop()
		if eng.integrity != nil {
			eng.integrity.Detach()
		}
		if eng.fullscreen != nil {
			eng.fullscreen.Detach()
		}
		eng.events.close()
	}
	h.log.Info().Int("count", len(engines)).Msg("Hub shut down")
}

func (h *Hub) remove(sessionID uuid.UUID) {
	h.mu.Lock()
	delete(h.engines, sessionID)
	h.mu.Unlock()
}
