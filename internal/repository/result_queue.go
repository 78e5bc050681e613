package repository

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/drivertest-bot/internal/config"
	"github.com/stemsi/drivertest-bot/internal/model"
)

// ResultQueue buffers finished results for the archive worker.
type ResultQueue struct {
	rdb *redis.Client
}

// NewResultQueue creates a new ResultQueue.
func NewResultQueue(rdb *redis.Client) *ResultQueue {
	return &ResultQueue{rdb: rdb}
}

// Enqueue appends a result to the persistence queue.
func (q *ResultQueue) Enqueue(ctx context.Context, r model.TestResult) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw).Err()
}

// Len reports how many results are waiting to be archived.
func (q *ResultQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, config.WorkerKey.PersistResultsQueue).Result()
}
