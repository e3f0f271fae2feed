package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/staffdeck/assess-backend/internal/config"
	"github.com/staffdeck/assess-backend/internal/engine"
	"github.com/staffdeck/assess-backend/internal/model"
	"github.com/staffdeck/assess-backend/internal/repository"
)

// SessionService is the engine's Remote: it backs live sessions with
// PostgreSQL rows, Redis caches, and the persist queues drained by the
// background workers.
type SessionService struct {
	sessionRepo       *repository.SessionRepository
	assessmentService *AssessmentService
	rdb               *redis.Client
	log               zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessionRepo *repository.SessionRepository,
	assessmentService *AssessmentService,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessionRepo:       sessionRepo,
		assessmentService: assessmentService,
		rdb:               rdb,
		log:               log.With().Str("component", "session_service").Logger(),
	}
}

var _ engine.Remote = (*SessionService)(nil)

// LoadSession assembles everything a live engine needs. Redis is the fast
// path for answers, violation count, and sequence; PostgreSQL is the
// fallback, with the cache self-healed after a miss.
func (s *SessionService) LoadSession(ctx context.Context, sessionID uuid.UUID) (*engine.LoadResult, error) {
	sess, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	payload, err := s.assessmentService.GetPayload(ctx, sess.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment payload: %w", err)
	}

	answers, err := s.loadAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	violations, err := s.loadViolationCount(ctx, sess)
	if err != nil {
		return nil, err
	}

	sequence, err := s.loadSequence(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &engine.LoadResult{
		Session:        sess,
		Assessment:     payload,
		PriorAnswers:   answers,
		ViolationCount: violations,
		Sequence:       sequence,
	}, nil
}

// SyncAnswer writes the snapshot to the Redis answers hash and queues it
// for durable persistence (outbox).
func (s *SessionService) SyncAnswer(ctx context.Context, sessionID, questionID uuid.UUID, value model.AnswerValue) error {
	encoded, err := value.Encode()
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}

	queued, _ := json.Marshal(map[string]interface{}{
		"session_id":  sessionID.String(),
		"question_id": questionID.String(),
		"answer":      encoded,
	})

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, config.CacheKey.SessionAnswersKey(sessionID.String()), questionID.String(), encoded)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, queued)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sync answer: %w", err)
	}
	return nil
}

// RecordSequence caches the shuffled question order and queues it for
// durable persistence.
func (s *SessionService) RecordSequence(ctx context.Context, sessionID uuid.UUID, order []uuid.UUID) error {
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode sequence: %w", err)
	}

	queued, _ := json.Marshal(map[string]interface{}{
		"session_id": sessionID.String(),
		"order":      order,
	})

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.SessionSequenceKey(sessionID.String()), orderJSON, 0)
	pipe.RPush(ctx, config.WorkerKey.PersistSequencesQueue, queued)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record sequence: %w", err)
	}
	return nil
}

// ReportViolation records one focus-loss event. PostgreSQL owns the
// authoritative count; Redis mirrors it for fast load seeding. When the
// new count reaches the session's limit the session is terminated here,
// server-side, and the caller is told so.
func (s *SessionService) ReportViolation(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	sess, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}
	if sess.IsTerminal() {
		return true, nil
	}

	count, err := s.sessionRepo.IncrementTabSwitch(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("increment violation count: %w", err)
	}

	// Mirror for load seeding; best effort.
	countKey := config.CacheKey.SessionViolationCountKey(sessionID.String())
	if err := s.rdb.Set(ctx, countKey, count, 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to mirror violation count")
	}

	queued, _ := json.Marshal(map[string]interface{}{
		"session_id":      sessionID.String(),
		"timestamp":       time.Now().Unix(),
		"resulting_count": count,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, queued).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to queue violation event")
	}

	if sess.TabSwitchLimit > 0 && count >= sess.TabSwitchLimit {
		if err := s.sessionRepo.Terminate(ctx, sessionID); err != nil {
			return false, fmt.Errorf("terminate session: %w", err)
		}
		s.log.Info().
			Str("session_id", sessionID.String()).
			Int("count", count).
			Int("limit", sess.TabSwitchLimit).
			Msg("Session terminated: violation limit reached")
		return true, nil
	}

	return false, nil
}

// Complete closes the session out and drops its transient Redis state.
// Every answer worth keeping has already been swept into the persist queue.
func (s *SessionService) Complete(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.sessionRepo.Complete(ctx, sessionID); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	id := sessionID.String()
	if err := s.rdb.Del(ctx,
		config.CacheKey.SessionAnswersKey(id),
		config.CacheKey.SessionStartKey(id),
		config.CacheKey.SessionViolationCountKey(id),
		config.CacheKey.SessionSequenceKey(id),
	).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", id).Msg("Failed to clear session cache")
	}

	return nil
}

// ─── Load fallback helpers ──────────────────────────────────────────

func (s *SessionService) loadAnswers(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]model.AnswerValue, error) {
	key := config.CacheKey.SessionAnswersKey(sessionID.String())

	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get cached answers: %w", err)
	}

	if len(raw) == 0 {
		// Cache cold (evicted, or first load on this node). Fall back to
		// PostgreSQL and self-heal the hash.
		persisted, err := s.sessionRepo.ListAnswers(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("list persisted answers: %w", err)
		}
		if len(persisted) > 0 {
			fields := make(map[string]interface{}, len(persisted))
			for qid, value := range persisted {
				if encoded, err := value.Encode(); err == nil {
					fields[qid.String()] = encoded
				}
			}
			if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
				s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to self-heal answers cache")
			}
		}
		return persisted, nil
	}

	answers := make(map[uuid.UUID]model.AnswerValue, len(raw))
	for field, encoded := range raw {
		qid, err := uuid.Parse(field)
		if err != nil {
			s.log.Warn().Str("field", field).Msg("Skipping malformed answer key")
			continue
		}
		value, err := model.ParseAnswerValue(encoded)
		if err != nil {
			s.log.Warn().Err(err).Str("question_id", field).Msg("Skipping malformed answer value")
			continue
		}
		answers[qid] = value
	}
	return answers, nil
}

func (s *SessionService) loadViolationCount(ctx context.Context, sess *model.AssessmentSession) (int, error) {
	key := config.CacheKey.SessionViolationCountKey(sess.ID.String())

	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Seed from the session row and self-heal.
		if err := s.rdb.Set(ctx, key, sess.TabSwitchCount, 0).Err(); err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to self-heal violation count")
		}
		return sess.TabSwitchCount, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get violation count: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid violation count in cache: %w", err)
	}
	return count, nil
}

func (s *SessionService) loadSequence(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	key := config.CacheKey.SessionSequenceKey(sessionID.String())

	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		sequence, err := s.sessionRepo.GetSequence(ctx, sessionID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get persisted sequence: %w", err)
		}
		return sequence, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached sequence: %w", err)
	}

	var sequence []uuid.UUID
	if err := json.Unmarshal(raw, &sequence); err != nil {
		return nil, fmt.Errorf("decode cached sequence: %w", err)
	}
	return sequence, nil
}
