// Package chain answers bytecode-presence queries over EVM JSON-RPC.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/provider"
)

// DefaultTimeout bounds a single eth_getCode call.
const DefaultTimeout = 10 * time.Second

// CodeChecker implements provider.CodeChecker with eth_getCode at the latest block.
type CodeChecker struct {
	client  *ethclient.Client
	timeout time.Duration
}

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*CodeChecker, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &CodeChecker{client: client, timeout: DefaultTimeout}, nil
}

var _ provider.CodeChecker = (*CodeChecker)(nil)

// HasCode reports whether any bytecode is deployed at address.
func (c *CodeChecker) HasCode(ctx context.Context, address domain.WalletAddress) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	code, err := c.client.CodeAt(ctx, common.HexToAddress(string(address)), nil)
	if err != nil {
		return false, domain.NewError(domain.KindUpstreamUnavailable, "eth_getCode", err)
	}
	return len(code) > 0, nil
}

// Close releases the RPC connection.
func (c *CodeChecker) Close() {
	c.client.Close()
}
