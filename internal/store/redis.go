package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis key layout.
const (
	DefaultRedisKeyPrefix = "listingpipe"
	redisSeenSetSuffix    = ":seen:ids"
	redisFirstSeenSuffix  = ":seen:first_seen"
)

// Redis connection retry defaults.
const (
	DefaultRedisConnectTimeout = 30 * time.Second
	DefaultRedisRetryInterval  = 500 * time.Millisecond
	DefaultRedisMaxWait        = 5 * time.Second
	DefaultRedisPingTimeout    = 2 * time.Second
)

// RedisSeenStore keeps the seen set in a Redis set, with first-seen times in a
// companion hash. SADD makes recording idempotent.
type RedisSeenStore struct {
	client    *redis.Client
	setKey    string
	firstSeen string
}

var _ SeenRepo = (*RedisSeenStore)(nil)

// NewRedisSeenStore connects using the redis:// URL from opts and waits for
// the server to answer a ping.
func NewRedisSeenStore(ctx context.Context, opts ...Option) (*RedisSeenStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("RedisSeenStore URL not set")
		return nil, fmt.Errorf("redis URL not set")
	}
	client, err := OpenRedis(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return NewRedisSeenStoreFromClient(client, DefaultRedisKeyPrefix), nil
}

// NewRedisSeenStoreFromClient wraps an existing client.
func NewRedisSeenStoreFromClient(client *redis.Client, prefix string) *RedisSeenStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisSeenStore{
		client:    client,
		setKey:    prefix + redisSeenSetSuffix,
		firstSeen: prefix + redisFirstSeenSuffix,
	}
}

// OpenRedis parses url and pings until the server answers or
// DefaultRedisConnectTimeout elapses, backing off exponentially.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, DefaultRedisConnectTimeout)
	defer cancel()

	wait := DefaultRedisRetryInterval
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, DefaultRedisPingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err == nil {
			slog.Debug("OpenRedis: connected", "addr", opt.Addr, "attempts", attempt)
			return client, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			client.Close()
			slog.Error("OpenRedis: redis unavailable", "addr", opt.Addr, "attempts", attempt, "error", err)
			return nil, fmt.Errorf("redis unavailable at %s after %d attempts: %w", opt.Addr, attempt, err)
		case <-timer.C:
			slog.Warn("OpenRedis: connection failed, retrying", "addr", opt.Addr, "attempt", attempt, "next_retry_in", wait, "error", err)
			wait *= 2
			if wait > DefaultRedisMaxWait {
				wait = DefaultRedisMaxWait
			}
		}
	}
}

func (s *RedisSeenStore) LoadSeen(ctx context.Context) ([]models.SeenRecord, error) {
	ids, err := s.client.SMembers(ctx, s.setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load seen ids: %w", err)
	}
	times, err := s.client.HGetAll(ctx, s.firstSeen).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load first-seen times: %w", err)
	}

	records := make([]models.SeenRecord, 0, len(ids))
	for _, id := range ids {
		rec := models.SeenRecord{ID: id}
		if ts, ok := times[id]; ok {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				rec.FirstSeenAt = t.UTC()
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisSeenStore) RecordSeen(ctx context.Context, rec models.SeenRecord) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.setKey, rec.ID)
		pipe.HSetNX(ctx, s.firstSeen, rec.ID, rec.FirstSeenAt.UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record seen id %s: %w", rec.ID, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisSeenStore) Close() error {
	return s.client.Close()
}

// clear removes both keys (for tests).
func (s *RedisSeenStore) clear(ctx context.Context) error {
	return s.client.Del(ctx, s.setKey, s.firstSeen).Err()
}
