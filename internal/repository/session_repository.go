package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/staffdeck/assess-backend/internal/model"
)

// SessionRepository handles assessment session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// GetByID retrieves one session row.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.AssessmentSession, error) {
	s := &model.AssessmentSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, assessment_id, candidate_id, started_at, finished_at,
		        duration_seconds, status, tab_switch_count, tab_switch_limit,
		        proctoring_enabled, fullscreen_required,
		        shuffle_questions, shuffle_options
		 FROM assessment_sessions
		 WHERE id = $1`, id,
	).Scan(
		&s.ID, &s.AssessmentID, &s.CandidateID, &s.StartedAt, &s.FinishedAt,
		&s.DurationSeconds, &s.Status, &s.TabSwitchCount, &s.TabSwitchLimit,
		&s.ProctoringEnabled, &s.FullscreenRequired,
		&s.ShuffleQuestions, &s.ShuffleOptions,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Complete marks a session SUBMITTED. The WHERE clause keeps the
// transition one-way: a terminated session stays terminated.
func (r *SessionRepository) Complete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET status = $1, finished_at = NOW()
		 WHERE id = $2 AND status NOT IN ($3, $4)`,
		model.SessionStatusSubmitted, id,
		model.SessionStatusSubmitted, model.SessionStatusTerminated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s already closed", id)
	}
	return nil
}

// Terminate marks a session TERMINATED (integrity short-circuit).
func (r *SessionRepository) Terminate(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET status = $1, finished_at = NOW()
		 WHERE id = $2 AND status NOT IN ($3, $4)`,
		model.SessionStatusTerminated, id,
		model.SessionStatusSubmitted, model.SessionStatusTerminated)
	return err
}

// IncrementTabSwitch bumps the violation counter and returns the new count.
func (r *SessionRepository) IncrementTabSwitch(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`UPDATE assessment_sessions
		 SET tab_switch_count = tab_switch_count + 1
		 WHERE id = $1
		 RETURNING tab_switch_count`, id,
	).Scan(&count)
	return count, err
}

// GetSequence returns the recorded question order, nil when none exists.
func (r *SessionRepository) GetSequence(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT question_sequence FROM assessment_sessions WHERE id = $1`, id,
	).Scan(&raw)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var order []uuid.UUID
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode question sequence: %w", err)
	}
	return order, nil
}

// ListAnswers returns the persisted answers for a session, keyed by
// question ID. Used as the fallback when the Redis answers hash is cold.
func (r *SessionRepository) ListAnswers(ctx context.Context, id uuid.UUID) (map[uuid.UUID]model.AnswerValue, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer FROM session_answers WHERE session_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[uuid.UUID]model.AnswerValue)
	for rows.Next() {
		var qid uuid.UUID
		var raw []byte
		if err := rows.Scan(&qid, &raw); err != nil {
			return nil, err
		}
		value, err := model.ParseAnswerValue(string(raw))
		if err != nil {
			return nil, fmt.Errorf("decode answer for question %s: %w", qid, err)
		}
		answers[qid] = value
	}
	return answers, rows.Err()
}

