package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/staffdeck/assess-backend/internal/config"
)

const (
	SequenceBatchSize    = 50
	SequenceBatchTimeout = 2 * time.Second
	SequencePollTimeout  = 1 * time.Second
)

// SequenceWorker persists per-session shuffled question orders so a
// reload presents the questions the way the candidate first saw them.
type SequenceWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewSequenceWorker creates a new SequenceWorker.
func NewSequenceWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SequenceWorker {
	return &SequenceWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "sequence_worker").Logger(),
	}
}

type sequencePayload struct {
	SessionID string   `json:"session_id"`
	Order     []string `json:"order"`
}

func (w *SequenceWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SequenceWorker started")

	batch := make([]*sequencePayload, 0, SequenceBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= SequenceBatchSize || time.Since(lastFlush) >= SequenceBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, SequencePollTimeout, config.WorkerKey.PersistSequencesQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p sequencePayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

func (w *SequenceWorker) flushSafe(ctx context.Context, batch []*sequencePayload) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkUpdate(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("Bulk sequence update failed, using fallback")

		for _, p := range batch {
			if err := w.persistSingle(ctx, p); err != nil {
				w.log.Error().Err(err).Msg("persistSingle failed — requeueing")
				raw, _ := json.Marshal(p)
				w.rdb.RPush(ctx, config.WorkerKey.PersistSequencesQueue, raw)
			}
		}
	}
}

func (w *SequenceWorker) bulkUpdate(ctx context.Context, batch []*sequencePayload) error {
	n := len(batch)

	sessionIDs := make([]uuid.UUID, 0, n)
	ordersBytes := make([][]byte, 0, n)

	for _, p := range batch {
		sID, err := uuid.Parse(p.SessionID)
		if err != nil {
			return err
		}

		ob, _ := json.Marshal(p.Order)

		sessionIDs = append(sessionIDs, sID)
		ordersBytes = append(ordersBytes, ob)
	}

	query := `
		UPDATE assessment_sessions AS s
		SET question_sequence = t.seq
		FROM (
			SELECT u.session_id, u.seq
			FROM UNNEST(
				$1::uuid[],
				$2::jsonb[]
			) AS u (session_id, seq)
		) AS t
		WHERE s.id = t.session_id
	`

	_, err := w.pool.Exec(ctx, query, sessionIDs, ordersBytes)
	return err
}

func (w *SequenceWorker) persistSingle(ctx context.Context, p *sequencePayload) error {
	sID, err := uuid.Parse(p.SessionID)
	if err != nil {
		return err
	}

	ob, _ := json.Marshal(p.Order)

	_, err = w.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET question_sequence = $1
		 WHERE id = $2`,
		ob, sID,
	)

	return err
}
