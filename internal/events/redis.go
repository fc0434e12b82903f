package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"jobmate/scrape-service/internal/scrapejob"
)

// RedisPublisher publishes status events on the EVENT_SCRAPE_STATUS channel
// so the Gateway can forward them to browsers.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: scrapejob.EventStatusChanged}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev scrapejob.StatusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// Multi publishes to every sink and joins their errors.
type Multi []scrapejob.Publisher

func (m Multi) Publish(ctx context.Context, ev scrapejob.StatusEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ scrapejob.Publisher = (*RedisPublisher)(nil)
	_ scrapejob.Publisher = Multi(nil)
)
