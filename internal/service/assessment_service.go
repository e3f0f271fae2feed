package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/staffdeck/assess-backend/internal/config"
	"github.com/staffdeck/assess-backend/internal/model"
	"github.com/staffdeck/assess-backend/internal/repository"
)

// ErrNoQuestions means an assessment definition is empty and cannot be served.
var ErrNoQuestions = errors.New("assessment has no questions")

// AssessmentService serves candidate-facing assessment payloads through a
// Redis cache, falling back to PostgreSQL on a miss and self-healing the
// cache afterwards.
type AssessmentService struct {
	assessmentRepo *repository.AssessmentRepository
	questionRepo   *repository.QuestionRepository
	rdb            *redis.Client
	log            zerolog.Logger
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(
	assessmentRepo *repository.AssessmentRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *AssessmentService {
	return &AssessmentService{
		assessmentRepo: assessmentRepo,
		questionRepo:   questionRepo,
		rdb:            rdb,
		log:            log.With().Str("component", "assessment_service").Logger(),
	}
}

// GetPayload retrieves the cached candidate payload, warming the cache
// from PostgreSQL on a miss.
func (s *AssessmentService) GetPayload(ctx context.Context, assessmentID uuid.UUID) (*model.AssessmentPayload, error) {
	key := config.CacheKey.AssessmentPayloadKey(assessmentID.String())

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var payload model.AssessmentPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &payload, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	// Cache miss: build from the source of truth and self-heal.
	return s.WarmCache(ctx, assessmentID)
}

// WarmCache loads an assessment from PostgreSQL into Redis and returns the
// built payload.
func (s *AssessmentService) WarmCache(ctx context.Context, assessmentID uuid.UUID) (*model.AssessmentPayload, error) {
	assessment, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}

	questions, err := s.questionRepo.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	payload := buildPayload(assessment, questions)

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	key := config.CacheKey.AssessmentPayloadKey(assessmentID.String())
	if err := s.rdb.Set(ctx, key, payloadJSON, 0).Err(); err != nil {
		// The payload is still usable; only the cache write failed.
		s.log.Warn().Err(err).
			Str("assessment_id", assessmentID.String()).
			Msg("Failed to cache payload")
	}

	s.log.Debug().
		Str("assessment_id", assessmentID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")

	return payload, nil
}

// PrewarmAllCaches loads every assessment with live sessions into Redis on
// startup, avoiding lazy-load races under a thundering herd of candidates.
func (s *AssessmentService) PrewarmAllCaches(ctx context.Context) error {
	ids, err := s.assessmentRepo.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list assessments: %w", err)
	}

	if len(ids) == 0 {
		s.log.Info().Msg("No live assessments to prewarm")
		return nil
	}

	warmed := 0
	for _, id := range ids {
		if _, err := s.WarmCache(ctx, id); err != nil {
			s.log.Warn().Err(err).
				Str("assessment_id", id.String()).
				Msg("Failed to warm assessment, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

// buildPayload groups flat question rows back into sections, keeping the
// top-level questions first in authored order.
func buildPayload(assessment *model.Assessment, questions []model.Question) *model.AssessmentPayload {
	payload := &model.AssessmentPayload{
		AssessmentID: assessment.ID,
		Title:        assessment.Title,
	}

	sectionIdx := make(map[string]int)
	for _, q := range questions {
		if q.Section == "" {
			payload.Questions = append(payload.Questions, q)
			continue
		}
		i, ok := sectionIdx[q.Section]
		if !ok {
			i = len(payload.Sections)
			sectionIdx[q.Section] = i
			payload.Sections = append(payload.Sections, model.Section{Label: q.Section})
		}
		payload.Sections[i].Questions = append(payload.Sections[i].Questions, q)
	}
	return payload
}
