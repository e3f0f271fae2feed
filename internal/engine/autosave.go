package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultThrottle is the minimum gap between throttled answer syncs.
const DefaultThrottle = 10 * time.Second

// Synchronizer drains the AnswerStore to the Remote. Durability comes from
// redundancy of opportunities — throttle, navigation checkpoint, final
// sweep — not from guaranteed delivery: a failed sync is logged and simply
// waits for the next opportunity.
type Synchronizer struct {
	remote    Remote
	store     *AnswerStore
	sessionID uuid.UUID
	throttle  time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu       sync.Mutex
	lastSync time.Time // last successful sync, zero until the first one
}

func newSynchronizer(remote Remote, store *AnswerStore, sessionID uuid.UUID, throttle time.Duration, now func() time.Time, log zerolog.Logger) *Synchronizer {
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	return &Synchronizer{
		remote:    remote,
		store:     store,
		sessionID: sessionID,
		throttle:  throttle,
		now:       now,
		log:       log.With().Str("component", "autosave").Logger(),
	}
}

// OnAnswer is the throttled path: called after every answer edit, it syncs
// the edited record only if the throttle window has elapsed since the last
// successful sync.
func (s *Synchronizer) OnAnswer(ctx context.Context, questionID uuid.UUID) {
	s.mu.Lock()
	due := s.lastSync.IsZero() || s.now().Sub(s.lastSync) >= s.throttle
	s.mu.Unlock()
	if !due {
		return
	}
	s.syncOne(ctx, questionID)
}

// Flush is the checkpoint path: a forced, best-effort sync of one question
// triggered by navigation, independent of the throttle timer. Its failure
// never blocks the move.
func (s *Synchronizer) Flush(ctx context.Context, questionID uuid.UUID) {
	if !s.store.isDirty(questionID) {
		return
	}
	s.syncOne(ctx, questionID)
}

// Sweep is the submission path: it attempts to sync every answer with
// non-empty content, continuing past individual failures so one broken
// sync cannot block the rest.
func (s *Synchronizer) Sweep(ctx context.Context) {
	for _, id := range s.store.nonEmpty() {
		s.syncOne(ctx, id)
	}
}

func (s *Synchronizer) syncOne(ctx context.Context, questionID uuid.UUID) {
	snapshot, ok := s.store.Answer(questionID)
	if !ok {
		return
	}

	if err := s.remote.SyncAnswer(ctx, s.sessionID, questionID, snapshot); err != nil {
		// Recoverable by design: the next throttle/checkpoint/sweep
		// opportunity carries the full current value.
		s.log.Warn().Err(err).
			Str("question_id", questionID.String()).
			Msg("Answer sync failed")
		return
	}

	at := s.now()
	s.store.markSynced(questionID, snapshot, at)
	s.mu.Lock()
	s.lastSync = at
	s.mu.Unlock()
}
