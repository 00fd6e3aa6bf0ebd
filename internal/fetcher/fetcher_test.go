package fetcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/provider"
	"github.com/nice-bills/chain-segment/internal/provider/stub"
	"github.com/nice-bills/chain-segment/internal/storage"
	"github.com/nice-bills/chain-segment/internal/storage/memory"
)

const testAddr = domain.WalletAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFetcher(t *testing.T, prov provider.Provider, opts Options) (*Fetcher, *memory.ActivityCache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1700000000000)}
	cache := memory.NewActivityCache().WithClock(func() int64 { return clock.Now().UnixMilli() })
	opts.Now = clock.Now
	if opts.MaxAge == 0 {
		opts.MaxAge = time.Hour
	}
	return New(cache, prov, opts), cache, clock
}

func whaleRecord() *domain.ActivityRecord {
	return &domain.ActivityRecord{
		Address: testAddr,
		Transactions: []domain.Transaction{
			{Hash: "0x01", Timestamp: 1, Direction: domain.DirectionOut, Kind: domain.TxKindNative, GasCostETH: 0.01},
		},
		Aggregates: map[string]float64{domain.FeatureTxCount: 500},
	}
}

func TestFetch_CachesWithinWindow(t *testing.T) {
	prov := stub.NewProvider()
	prov.AddRecord(whaleRecord())
	f, _, clock := newFetcher(t, prov, Options{})
	ctx := context.Background()

	first, err := f.Fetch(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, 500.0, first.Aggregates[domain.FeatureTxCount])

	clock.Advance(59 * time.Minute)
	second, err := f.Fetch(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, first.Aggregates, second.Aggregates)
	assert.Equal(t, 1, prov.Calls("aggregates"))
	assert.Equal(t, 1, prov.Calls("transactions"))

	clock.Advance(time.Minute)
	_, err = f.Fetch(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, 2, prov.Calls("aggregates"))
}

func TestFetch_TruncatedIsNotServedFromCache(t *testing.T) {
	prov := stub.NewProvider()
	prov.AddRecord(whaleRecord())
	prov.Truncate = true
	f, cache, _ := newFetcher(t, prov, Options{})
	ctx := context.Background()

	rec, err := f.Fetch(ctx, testAddr)
	require.NoError(t, err)
	assert.Len(t, rec.Transactions, 1)

	entry, err := cache.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.False(t, entry.Complete)

	_, err = f.Fetch(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, 2, prov.Calls("aggregates"))
}

func TestFetch_ErrorsPropagateWithoutCaching(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", domain.NewError(domain.KindUpstreamRateLimited, "429", nil), domain.ErrUpstreamRateLimited},
		{"rejected", domain.NewError(domain.KindInvalidAddress, "400", nil), domain.ErrInvalidAddress},
		{"plain error", errors.New("connection reset"), domain.ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prov := stub.NewProvider()
			prov.FailNext(tt.err)
			f, cache, _ := newFetcher(t, prov, Options{})

			_, err := f.Fetch(context.Background(), testAddr)
			assert.ErrorIs(t, err, tt.want)

			_, err = cache.Get(context.Background(), testAddr)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

// blockingProvider holds every Aggregates call until release is closed.
type blockingProvider struct {
	*stub.Provider
	release chan struct{}
	entered atomic.Int32
}

func (p *blockingProvider) Aggregates(ctx context.Context, address domain.WalletAddress) (*provider.AggregatesPage, error) {
	p.entered.Add(1)
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.Provider.Aggregates(ctx, address)
}

func TestFetch_ConcurrentMissesShareOneRoundTrip(t *testing.T) {
	prov := &blockingProvider{Provider: stub.NewProvider(), release: make(chan struct{})}
	prov.AddRecord(whaleRecord())
	f, _, _ := newFetcher(t, prov, Options{})

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Fetch(context.Background(), testAddr)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return prov.entered.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(prov.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, prov.Calls("aggregates"))
}

func TestFetch_RoundTripTimeout(t *testing.T) {
	prov := &blockingProvider{Provider: stub.NewProvider(), release: make(chan struct{})}
	defer close(prov.release)
	f, _, _ := newFetcher(t, prov, Options{RoundTripTimeout: 20 * time.Millisecond})

	_, err := f.Fetch(context.Background(), testAddr)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestFetch_CallerCancellation(t *testing.T) {
	prov := &blockingProvider{Provider: stub.NewProvider(), release: make(chan struct{})}
	f, _, _ := newFetcher(t, prov, Options{RoundTripTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, testAddr)
		done <- err
	}()
	require.Eventually(t, func() bool { return prov.entered.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	close(prov.release)
}

func TestClose_AbandonsSharedRoundTrip(t *testing.T) {
	prov := &blockingProvider{Provider: stub.NewProvider(), release: make(chan struct{})}
	defer close(prov.release)
	prov.AddRecord(whaleRecord())
	f, cache, _ := newFetcher(t, prov, Options{RoundTripTimeout: time.Minute})

	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), testAddr)
		done <- err
	}()
	require.Eventually(t, func() bool { return prov.entered.Load() == 1 }, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		f.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not abandon the upstream call")
	}

	assert.ErrorIs(t, <-done, context.Canceled)
	_, err := cache.Get(context.Background(), testAddr)
	assert.ErrorIs(t, err, storage.ErrNotFound, "nothing is cached after Close")

	_, err = f.Fetch(context.Background(), testAddr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), prov.entered.Load())
}

type codeChecker struct {
	has bool
	err error
}

func (c codeChecker) HasCode(context.Context, domain.WalletAddress) (bool, error) {
	return c.has, c.err
}

func TestFetch_CodeChecker(t *testing.T) {
	prov := stub.NewProvider()

	f, _, _ := newFetcher(t, prov, Options{CodeChecker: codeChecker{has: true}})
	rec, err := f.Fetch(context.Background(), testAddr)
	require.NoError(t, err)
	require.NotNil(t, rec.HasCode)
	assert.True(t, *rec.HasCode)

	f, _, _ = newFetcher(t, prov, Options{CodeChecker: codeChecker{err: domain.ErrUpstreamUnavailable}})
	rec, err = f.Fetch(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Nil(t, rec.HasCode)
}

type brokenCache struct{ storage.ActivityCache }

func (brokenCache) Get(context.Context, domain.WalletAddress) (*domain.CacheEntry, error) {
	return nil, errors.New("connection refused")
}

func (brokenCache) Put(context.Context, domain.WalletAddress, *domain.ActivityRecord, bool) error {
	return errors.New("connection refused")
}

func TestFetch_CacheFailureIsAMiss(t *testing.T) {
	prov := stub.NewProvider()
	prov.AddRecord(whaleRecord())
	f := New(brokenCache{}, prov, Options{})

	rec, err := f.Fetch(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Equal(t, 500.0, rec.Aggregates[domain.FeatureTxCount])
}
