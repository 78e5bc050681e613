package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/config"
	"github.com/stemsi/drivertest-bot/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultRetryDelay = 5 * time.Second
)

// ArchiveStore writes finished attempts to the archive.
type ArchiveStore interface {
	CopyResults(ctx context.Context, batch []model.TestResult) error
	Insert(ctx context.Context, res model.TestResult) error
}

// ResultArchiveWorker consumes persist_results_queue and archives results
// to PostgreSQL in batches.
type ResultArchiveWorker struct {
	rdb        *redis.Client
	store      ArchiveStore
	batchSize  int
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewResultArchiveWorker creates a new ResultArchiveWorker.
func NewResultArchiveWorker(rdb *redis.Client, store ArchiveStore, log zerolog.Logger) *ResultArchiveWorker {
	return &ResultArchiveWorker{
		rdb:        rdb,
		store:      store,
		batchSize:  defaultBatchSize,
		retryDelay: defaultRetryDelay,
		log:        log.With().Str("component", "archive_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ResultArchiveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

// processNext waits up to a second for the first item, then takes whatever
// else is queued up to the batch size.
func (w *ResultArchiveWorker) processNext(ctx context.Context) {
	queue := config.WorkerKey.PersistResultsQueue

	first, err := w.rdb.BLPop(ctx, time.Second, queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(first) < 2 {
		return
	}

	raw := []string{first[1]}
	if w.batchSize > 1 {
		more, err := w.rdb.LPopCount(ctx, queue, w.batchSize-1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			w.log.Error().Err(err).Msg("LPop error")
		}
		raw = append(raw, more...)
	}

	if failed := w.persist(ctx, raw); len(failed) > 0 {
		w.requeue(ctx, failed)
		w.log.Warn().Int("count", len(failed)).Dur("retry_in", w.retryDelay).Msg("Archive write failed, requeued")
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
}

// persist writes a batch and returns the raw payloads that still need to be
// written. A failed bulk copy falls back to row inserts so one duplicate
// does not hold back the rest.
func (w *ResultArchiveWorker) persist(ctx context.Context, raw []string) []string {
	batch := make([]model.TestResult, 0, len(raw))
	payloads := make([]string, 0, len(raw))
	for _, r := range raw {
		var res model.TestResult
		if err := json.Unmarshal([]byte(r), &res); err != nil {
			w.log.Error().Err(err).Msg("Dropping malformed result payload")
			continue
		}
		batch = append(batch, res)
		payloads = append(payloads, r)
	}
	if len(batch) == 0 {
		return nil
	}

	err := w.store.CopyResults(ctx, batch)
	if err == nil {
		w.log.Info().Int("count", len(batch)).Msg("Results archived")
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk copy failed, inserting row by row")

	var failed []string
	for i, res := range batch {
		if err := w.store.Insert(ctx, res); err != nil {
			w.log.Error().Err(err).
				Int64("telegram_id", res.TelegramID).
				Str("attempt_id", res.AttemptID.String()).
				Msg("Archive insert failed")
			failed = append(failed, payloads[i])
		}
	}
	return failed
}

func (w *ResultArchiveWorker) requeue(ctx context.Context, raw []string) {
	args := make([]interface{}, len(raw))
	for i, r := range raw {
		args[i] = r
	}
	if err := w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistResultsQueue, args...).Err(); err != nil {
		w.log.Error().Err(err).Int("count", len(raw)).Msg("Requeue failed, results lost from archive")
	}
}

// drain archives everything left in the queue before shutdown.
func (w *ResultArchiveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPopCount(ctx, config.WorkerKey.PersistResultsQueue, w.batchSize).Result()
		if err != nil || len(raw) == 0 {
			break
		}
		if failed := w.persist(ctx, raw); len(failed) > 0 {
			w.requeue(ctx, failed)
			w.log.Error().Int("count", len(failed)).Msg("Drain left results in queue")
			break
		}
		drained += len(raw)
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
