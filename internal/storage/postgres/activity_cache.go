package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/storage"
)

// ActivityCache implements storage.ActivityCache using PostgreSQL.
// One row per address; the upsert bumps fetched_at past the stored value so
// it is strictly increasing even under clock skew between writers.
type ActivityCache struct {
	pool *Pool
	now  func() int64
}

// NewActivityCache creates a new ActivityCache.
func NewActivityCache(pool *Pool) *ActivityCache {
	return &ActivityCache{
		pool: pool,
		now:  func() int64 { return time.Now().UnixMilli() },
	}
}

// Compile-time interface check.
var _ storage.ActivityCache = (*ActivityCache)(nil)

// Get returns the stored entry for address. Returns ErrNotFound on miss.
func (c *ActivityCache) Get(ctx context.Context, address domain.WalletAddress) (*domain.CacheEntry, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT record, complete, fetched_at
		FROM activity_cache
		WHERE address = $1
	`, string(address))

	var (
		data  []byte
		entry domain.CacheEntry
	)
	if err := row.Scan(&data, &entry.Complete, &entry.FetchedAt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get activity cache entry: %w", err)
	}

	var rec domain.ActivityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal activity record: %w", err)
	}
	entry.Record = &rec
	return &entry, nil
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

	_, err = c.pool.Exec(ctx, `
		INSERT INTO activity_cache (address, record, complete, fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE
		SET record = EXCLUDED.record,
		    complete = EXCLUDED.complete,
		    fetched_at = GREATEST(EXCLUDED.fetched_at, activity_cache.fetched_at + 1)
	`, string(address), data, complete, c.now())
	if err != nil {
		return fmt.Errorf("upsert activity cache entry: %w", err)
	}
	return nil
}
