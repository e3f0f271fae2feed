package engine

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/staffdeck/assess-backend/internal/model"
)

// Loader builds a ready-to-start Engine from a session identifier.
type Loader struct {
	remote Remote
	opts   Options
	log    zerolog.Logger
	// shuffle is swappable in tests; production uses the unseeded
	// global source — reproducibility is not required.
	shuffle func(n int, swap func(i, j int))
}

// NewLoader creates a Loader. opts tune every engine it produces.
func NewLoader(remote Remote, opts Options, log zerolog.Logger) *Loader {
	return &Loader{
		remote:  remote,
		opts:    opts.withDefaults(),
		log:     log.With().Str("component", "loader").Logger(),
		shuffle: rand.Shuffle,
	}
}

// Load fetches the session, its definition, and prior answers, and
// assembles the engine. A session whose remaining time is already zero
// still loads: the countdown auto-submits it within one tick. Failures
// are fatal — the caller redirects out of the session context.
func (l *Loader) Load(ctx context.Context, sessionID uuid.UUID) (*Engine, error) {
	res, err := l.remote.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if res.Session.IsTerminal() {
		return nil, ErrSessionClosed
	}

	questions := l.sequence(ctx, res)

	if res.Session.ShuffleOptions {
		for i := range questions {
			l.shuffleOptions(&questions[i])
		}
	}

	eng := newEngine(l.remote, res, questions, l.opts, l.log)

	// Restore prior answers. Restored records are clean: they came from
	// the backend, there is nothing to sync.
	for qid, value := range res.PriorAnswers {
		if _, known := eng.indexByID[qid]; !known {
			l.log.Warn().
				Str("session_id", sessionID.String()).
				Str("question_id", qid.String()).
				Msg("Dropping saved answer for unknown question")
			continue
		}
		eng.store.restore(qid, value)
	}

	l.log.Info().
		Str("session_id", sessionID.String()).
		Int("questions", len(questions)).
		Int("answers", len(res.PriorAnswers)).
		Int("violations", res.ViolationCount).
		Msg("Session loaded")

	return eng, nil
}

// sequence flattens top-level questions and all section questions into one
// ordered slice, shuffling when the session asks for it. A previously
// recorded sequence wins over a fresh shuffle so reloads keep their order.
func (l *Loader) sequence(ctx context.Context, res *LoadResult) []model.Question {
	def := res.Assessment

	flat := make([]model.Question, 0, len(def.Questions))
	flat = append(flat, def.Questions...)
	for _, sec := range def.Sections {
		for _, q := range sec.Questions {
			if q.Section == "" {
				q.Section = sec.Label
			}
			flat = append(flat, q)
		}
	}

	if !res.Session.ShuffleQuestions {
		return flat
	}

	if len(res.Sequence) > 0 {
		return reorder(flat, res.Sequence)
	}

	l.shuffle(len(flat), func(i, j int) {
		flat[i], flat[j] = flat[j], flat[i]
	})

	order := make([]uuid.UUID, len(flat))
	for i := range flat {
		order[i] = flat[i].ID
	}
	if err := l.remote.RecordSequence(ctx, res.Session.ID, order); err != nil {
		// Best effort: a reload will just shuffle again.
		l.log.Warn().Err(err).
			Str("session_id", res.Session.ID.String()).
			Msg("Failed to record question sequence")
	}

	return flat
}

// shuffleOptions randomizes option presentation order. Option identities
// ride along untouched, so correctness mapping and previously recorded
// answers stay valid.
func (l *Loader) shuffleOptions(q *model.Question) {
	if len(q.Options) < 2 {
		return
	}
	shuffled := make([]model.Option, len(q.Options))
	copy(shuffled, q.Options)
	l.shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	q.Options = shuffled
}

// reorder arranges questions by a recorded ID sequence. Questions missing
// from the sequence (definition changed between loads) keep their
// definition order at the tail.
func reorder(questions []model.Question, order []uuid.UUID) []model.Question {
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	out := make([]model.Question, 0, len(questions))
	seen := make(map[uuid.UUID]struct{}, len(order))
	for _, id := range order {
		if q, ok := byID[id]; ok {
			out = append(out, q)
			seen[id] = struct{}{}
		}
	}
	for _, q := range questions {
		if _, ok := seen[q.ID]; !ok {
			out = append(out, q)
		}
	}
	return out
}
