package embed

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"

	"github.com/thebtf/issuestream/internal/metrics"
	"github.com/thebtf/issuestream/pkg/models"
)

// Embedder is the minimal surface the cache wraps.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache memoizes embeddings in Redis keyed by the text's title-hash
// digest. A cache failure degrades to a direct embedder call; it is
// logged, never fatal.
type Cache struct {
	inner   Embedder
	pool    *redis.Pool
	ttl     time.Duration
	log     zerolog.Logger
	lookups *metrics.EmbedCache
}

// CacheConfig holds Redis cache configuration.
type CacheConfig struct {
	Addr    string        // Redis address, host:port
	TTL     time.Duration // Entry lifetime (default: 24h)
	MaxIdle int           // Idle connections kept in the pool (default: 4)
}

// NewCache wraps inner with a Redis-backed memoization layer. lookups
// may be nil when the binary runs without instruments.
func NewCache(inner Embedder, cfg CacheConfig, lookups *metrics.EmbedCache, log zerolog.Logger) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 4
	}
	pool := &redis.Pool{
		MaxIdle:     maxIdle,
		IdleTimeout: 5 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", cfg.Addr)
		},
	}
	return &Cache{
		inner:   inner,
		pool:    pool,
		ttl:     ttl,
		log:     log.With().Str("component", "embed-cache").Logger(),
		lookups: lookups,
	}
}

// Embed returns the cached vector for text when present, otherwise
// embeds and stores it.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := "emb:" + models.TitleHash(text)

	vec, ok := c.get(ctx, key)
	c.lookups.Lookup(ctx, ok)
	if ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(ctx, key, vec)
	return vec, nil
}

func (c *Cache) get(ctx context.Context, key string) ([]float32, bool) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("redis unavailable; embedding without cache")
		return nil, false
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", key))
	if err != nil {
		if !errors.Is(err, redis.ErrNil) {
			c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("corrupt cache entry; dropping")
		_, _ = conn.Do("DEL", key)
		return nil, false
	}
	return vec, true
}

func (c *Cache) put(ctx context.Context, key string, vec []float32) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return
	}
	defer conn.Close()

	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if _, err := conn.Do("SETEX", key, int(c.ttl.Seconds()), data); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Close releases the Redis pool.
func (c *Cache) Close() error {
	return c.pool.Close()
}
