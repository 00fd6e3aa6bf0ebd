package domain

// FeatureSchemaVersion identifies the feature order below. Model artifacts
// declare the version they were fit against and are rejected on mismatch.
const FeatureSchemaVersion = "wallet-features/v1"

// Feature names in canonical order. The order is part of the inference contract.
const (
	FeatureTxCount            = "tx_count"
	FeatureActiveDays         = "active_days"
	FeatureAvgTxPerDay        = "avg_tx_per_day"
	FeatureTotalGasSpent      = "total_gas_spent"
	FeatureTotalNFTBuys       = "total_nft_buys"
	FeatureTotalNFTSells      = "total_nft_sells"
	FeatureTotalNFTVolumeUSD  = "total_nft_volume_usd"
	FeatureUniqueNFTsOwned    = "unique_nfts_owned"
	FeatureDexTrades          = "dex_trades"
	FeatureAvgTradeSizeUSD    = "avg_trade_size_usd"
	FeatureTotalTradedUSD     = "total_traded_usd"
	FeatureERC20ReceiveUSD    = "erc20_receive_usd"
	FeatureERC20SendUSD       = "erc20_send_usd"
	FeatureNativeBalanceDelta = "native_balance_delta"
)

// FeatureNames lists every feature in canonical order.
var FeatureNames = []string{
	FeatureTxCount,
	FeatureActiveDays,
	FeatureAvgTxPerDay,
	FeatureTotalGasSpent,
	FeatureTotalNFTBuys,
	FeatureTotalNFTSells,
	FeatureTotalNFTVolumeUSD,
	FeatureUniqueNFTsOwned,
	FeatureDexTrades,
	FeatureAvgTradeSizeUSD,
	FeatureTotalTradedUSD,
	FeatureERC20ReceiveUSD,
	FeatureERC20SendUSD,
	FeatureNativeBalanceDelta,
}

// FeatureIndex returns the canonical position of name, or -1.
func FeatureIndex(name string) int {
	for i, n := range FeatureNames {
		if n == name {
			return i
		}
	}
	return -1
}

// AccountKind separates externally owned accounts from contracts.
type AccountKind string

const (
	AccountUnknown  AccountKind = "unknown"
	AccountEOA      AccountKind = "eoa"
	AccountContract AccountKind = "contract"
)

// FeatureVector is the raw feature vector in canonical order.
type FeatureVector struct {
	Names       []string
	Values      []float64
	AccountKind AccountKind
}

// Map returns the vector as name → value, for display.
func (v FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.Names))
	for i, n := range v.Names {
		if i < len(v.Values) {
			m[n] = v.Values[i]
		}
	}
	return m
}

// Get returns the value of a named feature, 0 if absent.
func (v FeatureVector) Get(name string) float64 {
	for i, n := range v.Names {
		if n == name && i < len(v.Values) {
			return v.Values[i]
		}
	}
	return 0
}

// NormalizedVector is a FeatureVector after the frozen power transform.
// Only the normalizer constructs it; the scorer never accepts raw features.
type NormalizedVector struct {
	Names  []string
	Values []float64
}
