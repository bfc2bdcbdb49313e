// Package cache keeps participant event maps in Redis in front of the
// database store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"studyline/internal/domain"
	"studyline/internal/logger"
)

// EventStore is the backing store wrapped by EventCache.
type EventStore interface {
	PublishEvent(ctx context.Context, ev domain.ActivityEvent) (bool, error)
	GetEvents(ctx context.Context, healthCode string) (map[string]int64, error)
	DeleteEvent(ctx context.Context, healthCode, key string) error
}

// EventCache is a read-through cache of GetEvents. Cached maps are keyed by
// a per-participant generation that every write bumps, so a map loaded before
// a write can never be served after it. Redis failures degrade to the store.
type EventCache struct {
	next EventStore
	rdb  *redis.Client
	ttl  time.Duration
	log  *logger.Logger
}

func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewEventCache(next EventStore, rdb *redis.Client, ttl time.Duration, log *logger.Logger) *EventCache {
	if log == nil {
		log = logger.Nop()
	}
	return &EventCache{next: next, rdb: rdb, ttl: ttl, log: log}
}

// GenerationKey holds the participant's cache generation.
func GenerationKey(healthCode string) string {
	return "studyline:events:gen:" + healthCode
}

// EventsKey holds the participant's event map cached at generation gen.
func EventsKey(healthCode string, gen int64) string {
	return fmt.Sprintf("studyline:events:%s:%d", healthCode, gen)
}

func (c *EventCache) generation(ctx context.Context, healthCode string) (int64, error) {
	gen, err := c.rdb.Get(ctx, GenerationKey(healthCode)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *EventCache) GetEvents(ctx context.Context, healthCode string) (map[string]int64, error) {
	gen, err := c.generation(ctx, healthCode)
	if err != nil {
		c.log.Warn("event cache read failed", "health_code", healthCode, "error", err)
		return c.next.GetEvents(ctx, healthCode)
	}
	key := EventsKey(healthCode, gen)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached map[string]int64
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			return cached, nil
		}
		c.log.Warn("discarding corrupt cached event map", "health_code", healthCode)
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("event cache read failed", "health_code", healthCode, "error", err)
	}

	events, err := c.next.GetEvents(ctx, healthCode)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(events); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log.Warn("event cache write failed", "health_code", healthCode, "error", err)
		}
	}
	return events, nil
}

func (c *EventCache) PublishEvent(ctx context.Context, ev domain.ActivityEvent) (bool, error) {
	changed, err := c.next.PublishEvent(ctx, ev)
	if err != nil {
		return false, err
	}
	if changed {
		c.invalidate(ctx, ev.HealthCode)
	}
	return changed, nil
}

func (c *EventCache) DeleteEvent(ctx context.Context, healthCode, key string) error {
	if err := c.next.DeleteEvent(ctx, healthCode, key); err != nil {
		return err
	}
	c.invalidate(ctx, healthCode)
	return nil
}

// invalidate moves the participant to a fresh generation. The generation
// outlives any map cached under it.
func (c *EventCache) invalidate(ctx context.Context, healthCode string) {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, GenerationKey(healthCode))
		if c.ttl > 0 {
			pipe.Expire(ctx, GenerationKey(healthCode), 2*c.ttl)
		}
		return nil
	})
	if err != nil {
		c.log.Warn("event cache invalidation failed", "health_code", healthCode, "error", err)
	}
}
