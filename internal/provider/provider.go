// Package provider defines the upstream activity source consulted by the
// fetcher on a cache miss.
package provider

import (
	"context"

	"github.com/nice-bills/chain-segment/internal/domain"
)

// AggregatesPage holds provider-computed feature values keyed by feature name.
type AggregatesPage struct {
	Values    map[string]float64
	Truncated bool
}

// TransactionsPage holds transactions in ascending timestamp order.
type TransactionsPage struct {
	Items     []domain.Transaction
	Truncated bool
}

// NFTTradesPage holds NFT trades in ascending timestamp order.
type NFTTradesPage struct {
	Items     []domain.NFTTrade
	Truncated bool
}

// Provider returns ledger activity for one address.
//
// Errors are *domain.Error values: KindUpstreamRateLimited for throttling,
// KindInvalidAddress when the upstream rejects the address, and
// KindUpstreamUnavailable for transport failures, timeouts and 5xx.
type Provider interface {
	Aggregates(ctx context.Context, address domain.WalletAddress) (*AggregatesPage, error)
	Transactions(ctx context.Context, address domain.WalletAddress) (*TransactionsPage, error)
	NFTTrades(ctx context.Context, address domain.WalletAddress) (*NFTTradesPage, error)
}

// CodeChecker reports whether deployed bytecode exists at an address.
type CodeChecker interface {
	HasCode(ctx context.Context, address domain.WalletAddress) (bool, error)
}
