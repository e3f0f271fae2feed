package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/staffdeck/assess-backend/internal/model"
)

// AssessmentRepository handles assessment definition data access.
// Definitions are authored in a separate module; this service only reads.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

// GetByID retrieves an assessment header row.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a := &model.Assessment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title FROM assessments WHERE id = $1`, id,
	).Scan(&a.ID, &a.Title)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListIDs returns every assessment that has at least one live session,
// used to prewarm payload caches at boot.
func (r *AssessmentRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT assessment_id FROM assessment_sessions WHERE status IN ($1, $2)`,
		model.SessionStatusInProgress, model.SessionStatusSubmitting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
