package repository

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/drivertest-bot/internal/config"
	"github.com/stemsi/drivertest-bot/internal/model"
)

// MonitorRepository fans session lifecycle events out over Redis pub/sub so
// admin dashboards can follow running tests.
type MonitorRepository struct {
	rdb *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{rdb: rdb}
}

// Publish sends one event to the monitor channel.
func (r *MonitorRepository) Publish(ctx context.Context, ev model.SessionEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, config.CacheKey.SessionMonitorChannel(), raw).Err()
}

// Subscribe opens a subscription to the monitor channel. The caller closes it.
func (r *MonitorRepository) Subscribe(ctx context.Context) *redis.PubSub {
	return r.rdb.Subscribe(ctx, config.CacheKey.SessionMonitorChannel())
}
