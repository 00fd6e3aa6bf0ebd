package memory

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/storage"
)

// ActivityCache is an in-memory implementation of storage.ActivityCache.
// Entries are immutable once stored and swapped atomically, so readers never
// wait on writers, including writers for the same address.
type ActivityCache struct {
	entries sync.Map // domain.WalletAddress -> *domain.CacheEntry
	now     func() int64
}

// NewActivityCache creates a new in-memory activity cache.
func NewActivityCache() *ActivityCache {
	return &ActivityCache{now: func() int64 { return time.Now().UnixMilli() }}
}

// WithClock overrides the clock used to stamp FetchedAt (Unix ms).
func (c *ActivityCache) WithClock(now func() int64) *ActivityCache {
	c.now = now
	return c
}

// Get returns the stored entry for address. Returns ErrNotFound on miss.
func (c *ActivityCache) Get(_ context.Context, address domain.WalletAddress) (*domain.CacheEntry, error) {
	v, ok := c.entries.Load(address)
	if !ok {
		return nil, storage.ErrNotFound
	}
	entry := *v.(*domain.CacheEntry)
	return &entry, nil
}

// Put replaces the entry for address. Last write wins.
func (c *ActivityCache) Put(_ context.Context, address domain.WalletAddress, record *domain.ActivityRecord, complete bool) error {
	if address == "" || record == nil {
		return storage.ErrInvalidInput
	}

	next := &domain.CacheEntry{
		Record:   copyRecord(record),
		Complete: complete,
	}

	for {
		fetchedAt := c.now()
		prev, loaded := c.entries.Load(address)
		if !loaded {
			next.FetchedAt = fetchedAt
			if _, raced := c.entries.LoadOrStore(address, next); !raced {
				return nil
			}
			continue
		}

		// Keep FetchedAt strictly increasing even if the clock stalls.
		prevEntry := prev.(*domain.CacheEntry)
		if fetchedAt <= prevEntry.FetchedAt {
			fetchedAt = prevEntry.FetchedAt + 1
		}
		next.FetchedAt = fetchedAt
		if c.entries.CompareAndSwap(address, prev, next) {
			return nil
		}
	}
}

// Len returns the number of cached addresses.
func (c *ActivityCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sweep drops entries fetched more than maxAge ago. Returns the number dropped.
func (c *ActivityCache) Sweep(maxAge time.Duration) int {
	cutoff := c.now() - maxAge.Milliseconds()
	dropped := 0
	c.entries.Range(func(k, v any) bool {
		if v.(*domain.CacheEntry).FetchedAt <= cutoff {
			// Only drop the entry we inspected; a concurrent Put wins.
			if c.entries.CompareAndDelete(k, v) {
				dropped++
			}
		}
		return true
	})
	return dropped
}

// StartSweeper runs Sweep on the given cron spec (e.g. "@every 10m") until
// the returned stop function is called.
func (c *ActivityCache) StartSweeper(spec string, maxAge time.Duration, logger zerolog.Logger) (func(), error) {
	sched := cron.New()
	_, err := sched.AddFunc(spec, func() {
		if n := c.Sweep(maxAge); n > 0 {
			logger.Debug().Int("dropped", n).Msg("activity cache sweep")
		}
	})
	if err != nil {
		return nil, err
	}
	sched.Start()
	return func() { <-sched.Stop().Done() }, nil
}

// copyRecord copies slices and maps so callers cannot mutate a stored record.
func copyRecord(r *domain.ActivityRecord) *domain.ActivityRecord {
	c := &domain.ActivityRecord{
		Address:      r.Address,
		Transactions: append([]domain.Transaction(nil), r.Transactions...),
		NFTTrades:    append([]domain.NFTTrade(nil), r.NFTTrades...),
	}
	if r.Aggregates != nil {
		c.Aggregates = make(map[string]float64, len(r.Aggregates))
		for k, v := range r.Aggregates {
			c.Aggregates[k] = v
		}
	}
	if r.HasCode != nil {
		v := *r.HasCode
		c.HasCode = &v
	}
	return c
}

// Verify interface compliance at compile time.
var _ storage.ActivityCache = (*ActivityCache)(nil)
