package domain

// Direction is the flow direction of a transaction relative to the analyzed wallet.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// TxKind classifies a transaction by what it moved.
type TxKind string

const (
	TxKindNative       TxKind = "native"
	TxKindERC20        TxKind = "erc20"
	TxKindDexTrade     TxKind = "dex_trade"
	TxKindContractCall TxKind = "contract_call"
)

// NFTSide is the side the analyzed wallet took in an NFT trade.
type NFTSide string

const (
	NFTSideBuy  NFTSide = "buy"
	NFTSideSell NFTSide = "sell"
)

// Transaction is one ledger transaction touching the wallet.
type Transaction struct {
	Hash        string    `json:"hash"`
	Timestamp   int64     `json:"timestamp"`    // Unix timestamp in milliseconds
	GasCostETH  float64   `json:"gas_cost_eth"` // paid by the sender
	Direction   Direction `json:"direction"`
	Kind        TxKind    `json:"kind"`
	ValueUSD    float64   `json:"value_usd"`    // token or trade value, 0 if unpriced
	NativeValue float64   `json:"native_value"` // ETH moved
	// InitiatorContract is true when the transaction was originated by a
	// contract (internal transaction) rather than by an externally owned account.
	InitiatorContract bool `json:"initiator_contract"`
}

// NFTTrade is one NFT sale the wallet took part in.
type NFTTrade struct {
	Timestamp  int64   `json:"timestamp"` // Unix timestamp in milliseconds
	ValueUSD   float64 `json:"value_usd"`
	Side       NFTSide `json:"side"`
	Collection string  `json:"collection"`
	TokenID    string  `json:"token_id"`
}

// ActivityRecord is the raw, per-wallet activity returned by the fetcher.
// Records are never mutated once built; a re-fetch produces a new record.
type ActivityRecord struct {
	Address      WalletAddress      `json:"address"`
	Transactions []Transaction      `json:"transactions"` // ordered by timestamp ASC
	NFTTrades    []NFTTrade         `json:"nft_trades"`   // ordered by timestamp ASC
	Aggregates   map[string]float64 `json:"aggregates,omitempty"`
	// HasCode reports bytecode presence at the address; nil when unknown.
	HasCode *bool `json:"has_code,omitempty"`
}

// IsEmpty reports whether the record carries no activity at all.
func (r *ActivityRecord) IsEmpty() bool {
	return r == nil || (len(r.Transactions) == 0 && len(r.NFTTrades) == 0 && len(r.Aggregates) == 0)
}

// CacheEntry wraps a fetched record with its fetch time and completeness.
type CacheEntry struct {
	Record    *ActivityRecord
	FetchedAt int64 // Unix timestamp in milliseconds
	Complete  bool  // provider returned a non-error, non-truncated response
}

// Fresh reports whether the entry may be served at time now (ms).
func (e *CacheEntry) Fresh(nowMs, maxAgeMs int64) bool {
	if e == nil || !e.Complete {
		return false
	}
	return nowMs-e.FetchedAt < maxAgeMs
}
