// Package dune reads wallet activity from saved Dune Analytics queries.
package dune

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/provider"
)

// Default configuration values.
const (
	DefaultBaseURL  = "https://api.dune.com"
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 1000
	DefaultMaxPages = 5
	DefaultRPS      = 1.0
	DefaultBurst    = 2

	apiKeyHeader = "X-Dune-API-Key"
	maxBodyBytes = 16 << 20
)

// Queries names the saved query ids. A zero id skips that call.
type Queries struct {
	Aggregates   int
	Transactions int
	NFTTrades    int
}

// Client implements provider.Provider against the Dune query-results API.
type Client struct {
	baseURL  string
	apiKey   string
	queries  Queries
	client   *http.Client
	limiter  *rate.Limiter
	pageSize int
	maxPages int
	log      zerolog.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API host.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithPaging sets the page size and the page cap per call.
func WithPaging(pageSize, maxPages int) ClientOption {
	return func(c *Client) {
		if pageSize > 0 {
			c.pageSize = pageSize
		}
		if maxPages > 0 {
			c.maxPages = maxPages
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new Dune client.
func NewClient(apiKey string, queries Queries, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		queries:  queries,
		client:   &http.Client{Timeout: DefaultTimeout},
		limiter:  rate.NewLimiter(rate.Limit(DefaultRPS), DefaultBurst),
		pageSize: DefaultPageSize,
		maxPages: DefaultMaxPages,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	_ provider.Provider = (*Client)(nil)
)

// Aggregates reads the first row of the aggregates query.
func (c *Client) Aggregates(ctx context.Context, address domain.WalletAddress) (*provider.AggregatesPage, error) {
	page := &provider.AggregatesPage{Values: map[string]float64{}}
	if c.queries.Aggregates == 0 {
		return page, nil
	}

	res, err := c.results(ctx, c.queries.Aggregates, address, 0, 1)
	if err != nil {
		return nil, err
	}
	page.Values = parseAggregates(res.body)
	page.Truncated = !res.finished
	return page, nil
}

// Transactions reads the transactions query, following next_offset up to the page cap.
func (c *Client) Transactions(ctx context.Context, address domain.WalletAddress) (*provider.TransactionsPage, error) {
	page := &provider.TransactionsPage{}
	if c.queries.Transactions == 0 {
		return page, nil
	}

	truncated, err := c.paginate(ctx, c.queries.Transactions, address, func(body []byte) bool {
		items, ok := parseTransactions(body)
		page.Items = append(page.Items, items...)
		return ok
	})
	if err != nil {
		return nil, err
	}
	sortTransactions(page.Items)
	page.Truncated = truncated
	return page, nil
}

// NFTTrades reads the NFT trades query, following next_offset up to the page cap.
func (c *Client) NFTTrades(ctx context.Context, address domain.WalletAddress) (*provider.NFTTradesPage, error) {
	page := &provider.NFTTradesPage{}
	if c.queries.NFTTrades == 0 {
		return page, nil
	}

	truncated, err := c.paginate(ctx, c.queries.NFTTrades, address, func(body []byte) bool {
		items, ok := parseNFTTrades(body)
		page.Items = append(page.Items, items...)
		return ok
	})
	if err != nil {
		return nil, err
	}
	sortNFTTrades(page.Items)
	page.Truncated = truncated
	return page, nil
}

// paginate fetches pages until the result is exhausted or maxPages is hit.
// consume returns false when a page had rows it could not decode.
func (c *Client) paginate(ctx context.Context, queryID int, address domain.WalletAddress, consume func([]byte) bool) (bool, error) {
	truncated := false
	offset := 0
	for pageNum := 0; ; pageNum++ {
		res, err := c.results(ctx, queryID, address, offset, c.pageSize)
		if err != nil {
			return false, err
		}
		if !consume(res.body) {
			c.log.Warn().Int("query_id", queryID).Str("address", address.String()).Msg("dropped malformed rows")
			truncated = true
		}
		if !res.finished {
			return true, nil
		}
		if res.nextOffset <= offset {
			return truncated, nil
		}
		if pageNum+1 >= c.maxPages {
			return true, nil
		}
		offset = res.nextOffset
	}
}

type resultPage struct {
	body       []byte
	finished   bool
	nextOffset int // 0 when absent
}

// results performs one paced GET and maps the response status to a domain error kind.
func (c *Client) results(ctx context.Context, queryID int, address domain.WalletAddress, offset, limit int) (*resultPage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, transportError(ctx, err)
		}
	}

	q := url.Values{}
	q.Set("wallet", string(address))
	q.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	endpoint := fmt.Sprintf("%s/api/v1/query/%d/results?%s", c.baseURL, queryID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}

	c.log.Debug().
		Int("query_id", queryID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("dune results")

	if err := statusError(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return parsePage(body)
}

func statusError(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return domain.NewError(domain.KindUpstreamRateLimited, "dune rate limit", nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.NewError(domain.KindInvalidAddress, "rejected by dune: "+errorMessage(body), nil)
	default:
		return domain.NewError(domain.KindUpstreamUnavailable,
			fmt.Sprintf("dune status %d: %s", status, errorMessage(body)), nil)
	}
}

// transportError keeps caller cancellation distinct from upstream failure.
func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return domain.NewError(domain.KindUpstreamUnavailable, "dune request failed", err)
}
