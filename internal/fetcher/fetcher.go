// Package fetcher resolves a wallet's activity from the cache or, on a miss,
// from the upstream provider.
package fetcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/observability"
	"github.com/nice-bills/chain-segment/internal/provider"
	"github.com/nice-bills/chain-segment/internal/storage"
)

// Default configuration values.
const (
	DefaultMaxAge           = 24 * time.Hour
	DefaultRoundTripTimeout = 30 * time.Second
)

// Options configures a Fetcher.
type Options struct {
	// MaxAge is how long a complete cache entry may be served.
	MaxAge time.Duration
	// RoundTripTimeout bounds each individual provider call.
	RoundTripTimeout time.Duration
	// CodeChecker is optional; without it bytecode presence stays unknown.
	CodeChecker provider.CodeChecker
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
	// Now overrides the clock used for freshness checks.
	Now func() time.Time
}

// Fetcher implements the cache-then-provider activity lookup.
type Fetcher struct {
	cache    storage.ActivityCache
	provider provider.Provider
	opts     Options
	group    singleflight.Group

	// Shared upstream calls outlive their callers but not the fetcher.
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates a Fetcher. Zero option values take the package defaults.
func New(cache storage.ActivityCache, prov provider.Provider, opts Options) *Fetcher {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.RoundTripTimeout <= 0 {
		opts.RoundTripTimeout = DefaultRoundTripTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Fetcher{cache: cache, provider: prov, opts: opts, ctx: ctx, cancel: cancel}
}

// Close abandons shared upstream calls and waits for them to return, so no
// cache write happens after it. Fetch fails with context.Canceled afterwards.
func (f *Fetcher) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	f.cancel()
	f.inflight.Wait()
}

// Fetch returns the activity for address. A fresh, complete cache entry is
// returned without contacting the provider. Concurrent misses for the same
// address share one provider round trip. Fetch does not retry.
func (f *Fetcher) Fetch(ctx context.Context, address domain.WalletAddress) (*domain.ActivityRecord, error) {
	if rec, ok := f.Lookup(ctx, address); ok {
		return rec, nil
	}

	// The shared call must not die with whichever caller started it.
	ch := f.group.DoChan(string(address), func() (interface{}, error) {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return nil, context.Canceled
		}
		f.inflight.Add(1)
		f.mu.Unlock()
		defer f.inflight.Done()
		return f.fetchUpstream(f.ctx, address)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.ctx.Done():
		return nil, f.ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.ActivityRecord), nil
	}
}

// fetchUpstream queries all provider calls in parallel and stores the result.
func (f *Fetcher) fetchUpstream(ctx context.Context, address domain.WalletAddress) (*domain.ActivityRecord, error) {
	log := f.opts.Logger.With().Str("address", address.String()).Logger()

	var (
		aggs  *provider.AggregatesPage
		txs   *provider.TransactionsPage
		nfts  *provider.NFTTradesPage
		code  *bool
		g, gc = errgroup.WithContext(ctx)
	)

	g.Go(func() error {
		return f.call(gc, "aggregates", func(c context.Context) (err error) {
			aggs, err = f.provider.Aggregates(c, address)
			return err
		})
	})
	g.Go(func() error {
		return f.call(gc, "transactions", func(c context.Context) (err error) {
			txs, err = f.provider.Transactions(c, address)
			return err
		})
	})
	g.Go(func() error {
		return f.call(gc, "nft_trades", func(c context.Context) (err error) {
			nfts, err = f.provider.NFTTrades(c, address)
			return err
		})
	})
	if f.opts.CodeChecker != nil {
		g.Go(func() error {
			var has bool
			err := f.call(gc, "has_code", func(c context.Context) (err error) {
				has, err = f.opts.CodeChecker.HasCode(c, address)
				return err
			})
			if err != nil {
				log.Warn().Err(err).Msg("bytecode check failed, account kind left to heuristic")
				return nil
			}
			code = &has
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Debug().Err(err).Msg("provider fetch failed")
		return nil, err
	}

	rec := &domain.ActivityRecord{
		Address:      address,
		Transactions: txs.Items,
		NFTTrades:    nfts.Items,
		Aggregates:   aggs.Values,
		HasCode:      code,
	}
	complete := !aggs.Truncated && !txs.Truncated && !nfts.Truncated

	if err := f.cache.Put(ctx, address, rec, complete); err != nil {
		log.Error().Err(err).Msg("failed to store activity in cache")
	}
	if !complete {
		log.Info().Msg("provider returned truncated activity, entry will not be served from cache")
	}
	return rec, nil
}

// call runs one provider request under its own timeout and normalizes the error.
func (f *Fetcher) call(ctx context.Context, name string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, f.opts.RoundTripTimeout)
	defer cancel()

	start := time.Now()
	err := classify(callCtx, fn(callCtx))
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	f.opts.Metrics.RecordProviderCall(name, outcome, time.Since(start))
	return err
}

func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	return domain.NewError(domain.KindUpstreamUnavailable, "provider call failed", err)
}
