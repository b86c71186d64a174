// Package cache holds the Redis read-through cache for resolved links.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/shortlink/pkg/logging"
	"github.com/wadjakorntonsri/shortlink/pkg/ports"
)

const (
	KeyPrefix  = "shortlink:"
	DefaultTTL = 10 * time.Minute

	breakerFailures = 5
	breakerCooldown = 30 * time.Second
	scanBatch       = 500
)

// entry is the cached form of a link. It keeps the password hash, which
// the public JSON form of domain.Link omits.
type entry struct {
	ID           int64      `json:"id"`
	ShortCode    string     `json:"c"`
	OriginalURL  string     `json:"u"`
	Title        string     `json:"t,omitempty"`
	Description  string     `json:"d,omitempty"`
	Owner        string     `json:"o,omitempty"`
	PasswordHash string     `json:"p,omitempty"`
	IsActive     bool       `json:"a"`
	ClickCount   int64      `json:"n"`
	ExpiresAt    *time.Time `json:"x,omitempty"`
	CreatedAt    time.Time  `json:"ca"`
	UpdatedAt    time.Time  `json:"ua"`
}

func toEntry(l *domain.Link) entry {
	return entry{
		ID: l.ID, ShortCode: l.ShortCode, OriginalURL: l.OriginalURL, Title: l.Title,
		Description: l.Description, Owner: l.Owner, PasswordHash: l.PasswordHash,
		IsActive: l.IsActive, ClickCount: l.ClickCount, ExpiresAt: l.ExpiresAt,
		CreatedAt: l.CreatedAt, UpdatedAt: l.UpdatedAt,
	}
}

func (e entry) link() *domain.Link {
	return &domain.Link{
		ID: e.ID, ShortCode: e.ShortCode, OriginalURL: e.OriginalURL, Title: e.Title,
		Description: e.Description, Owner: e.Owner, PasswordHash: e.PasswordHash,
		IsActive: e.IsActive, ClickCount: e.ClickCount, ExpiresAt: e.ExpiresAt,
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	}
}

// RedisCache is a ports.LinkCache on Redis. Calls go through a circuit
// breaker so a Redis outage costs one fast error instead of a timeout on
// every redirect.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	cb     *gobreaker.CircuitBreaker[[]byte]
}

// Open parses a redis:// URL, checks the server answers and returns the cache.
func Open(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client, ttl), nil
}

func New(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "redis-cache",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("cache circuit breaker state changed")
		},
	})
	return &RedisCache{client: client, ttl: ttl, cb: cb}
}

func key(code string) string {
	return KeyPrefix + code
}

func (c *RedisCache) Get(ctx context.Context, code string) (*domain.Link, error) {
	raw, err := c.cb.Execute(func() ([]byte, error) {
		b, err := c.client.Get(ctx, key(code)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil || raw == nil {
		return nil, err
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// A bad entry is dropped and treated as a miss.
		_ = c.client.Del(ctx, key(code)).Err()
		return nil, nil
	}
	return e.link(), nil
}

func (c *RedisCache) Set(ctx context.Context, link *domain.Link) error {
	raw, err := json.Marshal(toEntry(link))
	if err != nil {
		return err
	}
	_, err = c.cb.Execute(func() ([]byte, error) {
		return nil, c.client.Set(ctx, key(link.ShortCode), raw, c.ttl).Err()
	})
	return err
}

func (c *RedisCache) Delete(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = key(code)
	}
	_, err := c.cb.Execute(func() ([]byte, error) {
		return nil, c.client.Del(ctx, keys...).Err()
	})
	return err
}

// Clear removes every key under KeyPrefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	_, err := c.cb.Execute(func() ([]byte, error) {
		iter := c.client.Scan(ctx, 0, KeyPrefix+"*", scanBatch).Iterator()
		batch := make([]string, 0, scanBatch)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == scanBatch {
				if err := c.client.Del(ctx, batch...).Err(); err != nil {
					return nil, err
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			return nil, c.client.Del(ctx, batch...).Err()
		}
		return nil, nil
	})
	return err
}

// State reports the breaker state, for health output.
func (c *RedisCache) State() string {
	return c.cb.State().String()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ ports.LinkCache = (*RedisCache)(nil)
