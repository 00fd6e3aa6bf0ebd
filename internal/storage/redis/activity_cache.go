// Package redis is a shared ActivityCache backend for multi-replica
// deployments.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/storage"
)

const defaultKeyPrefix = "persona:activity:"

// putScript writes the entry hash and bumps fetched_at past the stored value
// so that it stays strictly increasing across replicas.
var putScript = redis.NewScript(`
local ts = tonumber(ARGV[3])
local prev = tonumber(redis.call('HGET', KEYS[1], 'fetched_at'))
if prev and prev >= ts then ts = prev + 1 end
redis.call('HSET', KEYS[1], 'record', ARGV[1], 'complete', ARGV[2], 'fetched_at', string.format('%.0f', ts))
local ttl = tonumber(ARGV[4])
if ttl > 0 then redis.call('PEXPIRE', KEYS[1], ttl) end
return ts
`)

// ActivityCache implements storage.ActivityCache on Redis hashes.
type ActivityCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() int64
}

// Option configures an ActivityCache.
type Option func(*ActivityCache)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(c *ActivityCache) { c.prefix = prefix }
}

// WithRetention expires untouched entries after d. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(c *ActivityCache) { c.ttl = d }
}

// NewActivityCache creates a cache over an existing client.
func NewActivityCache(client redis.UniversalClient, opts ...Option) *ActivityCache {
	c := &ActivityCache{
		client: client,
		prefix: defaultKeyPrefix,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial parses a redis:// URL and pings the server.
func Dial(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Compile-time interface check.
var _ storage.ActivityCache = (*ActivityCache)(nil)

func (c *ActivityCache) key(address domain.WalletAddress) string {
	return c.prefix + string(address)
}

// Get returns the stored entry for address. Returns ErrNotFound on miss.
func (c *ActivityCache) Get(ctx context.Context, address domain.WalletAddress) (*domain.CacheEntry, error) {
	fields, err := c.client.HGetAll(ctx, c.key(address)).Result()
	if err != nil {
		return nil, fmt.Errorf("get activity cache entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrNotFound
	}

	fetchedAt, err := strconv.ParseInt(fields["fetched_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse fetched_at: %w", err)
	}

	var rec domain.ActivityRecord
	if err := json.Unmarshal([]byte(fields["record"]), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal activity record: %w", err)
	}

	return &domain.CacheEntry{
		Record:    &rec,
		FetchedAt: fetchedAt,
		Complete:  fields["complete"] == "1",
	}, nil
}

// Put replaces the entry for address. Last write wins.
func (c *ActivityCache) Put(ctx context.Context, address domain.WalletAddress, record *domain.ActivityRecord, complete bool) error {
	if address == "" || record == nil {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal activity record: %w", err)
	}

	flag := "0"
	if complete {
		flag = "1"
	}

	err = putScript.Run(ctx, c.client, []string{c.key(address)},
		string(data), flag, c.now(), c.ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("put activity cache entry: %w", err)
	}
	return nil
}
