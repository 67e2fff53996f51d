// Package cache keeps extraction results in Redis, keyed by the SHA-256 of
// the image bytes and the record kind.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"runcard/pkg/ocr"
)

// ErrMiss is returned by Get when no entry exists.
var ErrMiss = errors.New("cache: miss")

const keyPrefix = "runcard:extract:"

// Cache is a Redis-backed result cache.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Open parses a redis:// URL and pings the server.
func Open(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb, ttl), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key is the Redis key for a digest and kind.
func Key(digest string, kind ocr.RecordKind) string {
	return keyPrefix + string(kind) + ":" + digest
}

// Get returns the cached record for digest, or ErrMiss.
func (c *Cache) Get(ctx context.Context, digest string, kind ocr.RecordKind) (*ocr.Record, error) {
	b, err := c.rdb.Get(ctx, Key(digest, kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var rec ocr.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	return &rec, nil
}

// Put stores rec under digest for the configured TTL.
func (c *Cache) Put(ctx context.Context, digest string, kind ocr.RecordKind, rec *ocr.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, Key(digest, kind), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
