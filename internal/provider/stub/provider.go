package stub

import (
	"context"
	"sync"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/provider"
)

// Provider implements provider.Provider from in-memory fixtures.
// Unknown addresses return empty, complete pages.
type Provider struct {
	mu sync.Mutex

	Activity map[domain.WalletAddress]*domain.ActivityRecord
	// Errs are returned in order by the next calls to Aggregates, one per call.
	Errs []error
	// Truncate marks every page as truncated.
	Truncate bool

	calls map[string]int
}

// NewProvider creates an empty stub provider.
func NewProvider() *Provider {
	return &Provider{
		Activity: make(map[domain.WalletAddress]*domain.ActivityRecord),
		calls:    make(map[string]int),
	}
}

// AddRecord registers the activity returned for rec.Address.
func (p *Provider) AddRecord(rec *domain.ActivityRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Activity[rec.Address] = rec
}

// FailNext queues errors for the next Aggregates calls.
func (p *Provider) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Errs = append(p.Errs, errs...)
}

// Calls returns how many times method was invoked.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

func (p *Provider) record(method string, address domain.WalletAddress) (*domain.ActivityRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[method]++
	if method == "aggregates" && len(p.Errs) > 0 {
		err := p.Errs[0]
		p.Errs = p.Errs[1:]
		if err != nil {
			return nil, err
		}
	}
	rec := p.Activity[address]
	if rec == nil {
		rec = &domain.ActivityRecord{Address: address}
	}
	return rec, nil
}

// Aggregates returns the fixture's aggregates.
func (p *Provider) Aggregates(ctx context.Context, address domain.WalletAddress) (*provider.AggregatesPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := p.record("aggregates", address)
	if err != nil {
		return nil, err
	}
	values := make(map[string]float64, len(rec.Aggregates))
	for k, v := range rec.Aggregates {
		values[k] = v
	}
	return &provider.AggregatesPage{Values: values, Truncated: p.Truncate}, nil
}

// Transactions returns the fixture's transactions.
func (p *Provider) Transactions(ctx context.Context, address domain.WalletAddress) (*provider.TransactionsPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := p.record("transactions", address)
	if err != nil {
		return nil, err
	}
	return &provider.TransactionsPage{
		Items:     append([]domain.Transaction(nil), rec.Transactions...),
		Truncated: p.Truncate,
	}, nil
}

// NFTTrades returns the fixture's NFT trades.
func (p *Provider) NFTTrades(ctx context.Context, address domain.WalletAddress) (*provider.NFTTradesPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := p.record("nft_trades", address)
	if err != nil {
		return nil, err
	}
	return &provider.NFTTradesPage{
		Items:     append([]domain.NFTTrade(nil), rec.NFTTrades...),
		Truncated: p.Truncate,
	}, nil
}

// HasCode reports the fixture's bytecode flag, false when unknown.
func (p *Provider) HasCode(_ context.Context, address domain.WalletAddress) (bool, error) {
	rec, err := p.record("has_code", address)
	if err != nil {
		return false, err
	}
	return rec.HasCode != nil && *rec.HasCode, nil
}

var (
	_ provider.Provider    = (*Provider)(nil)
	_ provider.CodeChecker = (*Provider)(nil)
)
