package fetcher

import (
	"context"
	"errors"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/storage"
)

// Lookup returns the cached record when a fresh, complete entry exists.
// Missing, stale and incomplete entries are misses; backend errors are
// logged and also reported as misses.
func (f *Fetcher) Lookup(ctx context.Context, address domain.WalletAddress) (*domain.ActivityRecord, bool) {
	entry, err := f.cache.Get(ctx, address)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		f.opts.Metrics.RecordCacheLookup("miss")
		return nil, false
	case err != nil:
		f.opts.Logger.Warn().Err(err).Str("address", address.String()).Msg("activity cache read failed")
		f.opts.Metrics.RecordCacheLookup("error")
		return nil, false
	}

	if !entry.Fresh(f.opts.Now().UnixMilli(), f.opts.MaxAge.Milliseconds()) {
		f.opts.Metrics.RecordCacheLookup("stale")
		return nil, false
	}

	f.opts.Metrics.RecordCacheLookup("hit")
	return entry.Record, true
}
