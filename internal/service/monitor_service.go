package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/model"
)

// EventSubscriber opens a subscription to session lifecycle events.
type EventSubscriber interface {
	Subscribe(ctx context.Context) *redis.PubSub
}

// MonitorService streams session events to admin dashboards.
type MonitorService struct {
	events EventSubscriber
	log    zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(events EventSubscriber, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		events: events,
		log:    log.With().Str("component", "monitor").Logger(),
	}
}

// Stream subscribes and decodes events into the returned channel until ctx
// is cancelled. Undecodable payloads are skipped.
func (s *MonitorService) Stream(ctx context.Context) (<-chan model.SessionEvent, error) {
	sub := s.events.Subscribe(ctx)
	// Wait for the subscription confirmation so no event is lost after return.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan model.SessionEvent, 32)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev model.SessionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.log.Warn().Err(err).Msg("Dropping malformed monitor event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
