package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIndex keeps entries in Redis with a server-side expiry equal to the
// TTL, so several API processes sharing one staging volume share hits.
type RedisIndex struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// RedisConfig configures the Redis connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisIndex connects and pings the server
func NewRedisIndex(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisIndex, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisIndexFromClient(rdb, cfg.Prefix, ttl), nil
}

// NewRedisIndexFromClient wraps an existing client
func NewRedisIndexFromClient(rdb *redis.Client, prefix string, ttl time.Duration) *RedisIndex {
	if prefix == "" {
		prefix = "spotdl:cache:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisIndex{rdb: rdb, keyPrefix: prefix, ttl: ttl, now: time.Now}
}

func (r *RedisIndex) key(fingerprint string) string {
	return r.keyPrefix + fingerprint
}

func (r *RedisIndex) Lookup(ctx context.Context, fingerprint string) (Entry, error) {
	val, err := r.rdb.Get(ctx, r.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode entry %s: %w", fingerprint, err)
	}
	if entry.Expired(r.now(), r.ttl) || !fileExists(entry.FilePath) {
		return Entry{}, ErrMiss
	}
	return entry, nil
}

func (r *RedisIndex) Store(ctx context.Context, fingerprint, filePath string) error {
	b, err := json.Marshal(Entry{
		Fingerprint: fingerprint,
		FilePath:    filePath,
		CreatedAt:   r.now(),
	})
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(fingerprint), b, r.ttl).Err()
}

// Sweep scans for entries that outlived the TTL without being expired by
// the server (e.g. written with a longer TTL by another process).
func (r *RedisIndex) Sweep(ctx context.Context) ([]Entry, error) {
	now := r.now()
	var removed []Entry

	iter := r.rdb.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := r.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(val, &entry); err != nil || entry.Expired(now, r.ttl) {
			if err := r.rdb.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("redis del %s: %w", key, err)
			}
			removed = append(removed, entry)
		}
	}
	return removed, iter.Err()
}

func (r *RedisIndex) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.rdb.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

// Close releases the client
func (r *RedisIndex) Close() error {
	return r.rdb.Close()
}
