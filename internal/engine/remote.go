package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/staffdeck/assess-backend/internal/model"
)

// Load error kinds. Load failures are fatal for the session view: the
// caller surfaces them and redirects out, never retries.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session already reached a terminal state")
)

// LoadResult bundles everything needed to reconstruct a live session.
type LoadResult struct {
	Session    *model.AssessmentSession
	Assessment *model.AssessmentPayload
	// PriorAnswers are answers synced by an earlier page load, keyed by
	// question ID.
	PriorAnswers map[uuid.UUID]model.AnswerValue
	// ViolationCount seeds the integrity monitor so a reload does not
	// reset the count to zero.
	ViolationCount int
	// Sequence is the question order recorded by a previous load of a
	// shuffled session, empty on first load.
	Sequence []uuid.UUID
}

// Remote is the backing collaborator the engine persists through. Sync and
// violation reports are best-effort; only LoadSession and Complete failures
// ever reach the candidate.
type Remote interface {
	LoadSession(ctx context.Context, sessionID uuid.UUID) (*LoadResult, error)

	// SyncAnswer persists one answer snapshot. Snapshots are idempotent
	// full values, so out-of-order completion is last-write-wins safe.
	SyncAnswer(ctx context.Context, sessionID, questionID uuid.UUID, value model.AnswerValue) error

	// RecordSequence persists the shuffled question order so reloads and
	// proctor views see the same presentation.
	RecordSequence(ctx context.Context, sessionID uuid.UUID, order []uuid.UUID) error

	// ReportViolation records one focus-loss event and reports whether the
	// backend terminated the session as a result.
	ReportViolation(ctx context.Context, sessionID uuid.UUID) (terminated bool, err error)

	// Complete closes the session out. Called at most once per session.
	Complete(ctx context.Context, sessionID uuid.UUID) error
}
