// Package features reduces an activity record to the model's feature vector.
package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nice-bills/chain-segment/internal/domain"
)

const msPerDay = int64(24 * time.Hour / time.Millisecond)

// Extract computes the feature vector for rec in domain.FeatureNames order.
// It is pure and total: a nil or empty record yields all zeros.
//
// Provider aggregates win for every feature they report. The rest are derived
// from transactions not initiated by a contract and from NFT trades:
//   - tx_count = number of such transactions
//   - active_days = distinct UTC days with a transaction or NFT trade
//   - avg_tx_per_day = tx_count / active_days, 0 when active_days = 0
//   - total_gas_spent = gas in ETH over outgoing transactions
//   - total_nft_buys, total_nft_sells = trade counts by side
//   - total_nft_volume_usd = sum of NFT trade USD values
//   - unique_nfts_owned = distinct tokens whose latest trade is a buy
//   - dex_trades = number of dex_trade transactions
//   - total_traded_usd = USD volume of dex_trade transactions
//   - avg_trade_size_usd = total_traded_usd / dex_trades, 0 when dex_trades = 0
//   - erc20_receive_usd, erc20_send_usd = ERC-20 USD value by direction
//   - native_balance_delta = native in - native out - gas, in ETH
//
// The two ratios are recomputed from the final numerator and denominator
// unless the provider reported the ratio itself.
func Extract(rec *domain.ActivityRecord) domain.FeatureVector {
	vec := domain.FeatureVector{
		Names:       append([]string(nil), domain.FeatureNames...),
		Values:      make([]float64, len(domain.FeatureNames)),
		AccountKind: ClassifyAccount(rec),
	}
	if rec == nil {
		return vec
	}

	derived := derive(rec)
	reported := make(map[string]bool, len(rec.Aggregates))
	for i, name := range vec.Names {
		if v, ok := rec.Aggregates[name]; ok {
			vec.Values[i] = finite(v)
			reported[name] = true
			continue
		}
		vec.Values[i] = derived[name]
	}

	set := func(name string, v float64) {
		if !reported[name] {
			vec.Values[domain.FeatureIndex(name)] = finite(v)
		}
	}
	set(domain.FeatureAvgTxPerDay, ratio(vec.Get(domain.FeatureTxCount), vec.Get(domain.FeatureActiveDays)))
	set(domain.FeatureAvgTradeSizeUSD, ratio(vec.Get(domain.FeatureTotalTradedUSD), vec.Get(domain.FeatureDexTrades)))

	return vec
}

func derive(rec *domain.ActivityRecord) map[string]float64 {
	out := make(map[string]float64, len(domain.FeatureNames))
	days := make(map[int64]struct{})

	var nativeIn, nativeOut float64
	for _, tx := range rec.Transactions {
		if tx.InitiatorContract {
			continue
		}
		out[domain.FeatureTxCount]++
		days[floorDiv(tx.Timestamp, msPerDay)] = struct{}{}

		if tx.Direction == domain.DirectionOut {
			out[domain.FeatureTotalGasSpent] += tx.GasCostETH
			nativeOut += tx.NativeValue
		} else {
			nativeIn += tx.NativeValue
		}

		switch tx.Kind {
		case domain.TxKindDexTrade:
			out[domain.FeatureDexTrades]++
			out[domain.FeatureTotalTradedUSD] += tx.ValueUSD
		case domain.TxKindERC20:
			if tx.Direction == domain.DirectionOut {
				out[domain.FeatureERC20SendUSD] += tx.ValueUSD
			} else {
				out[domain.FeatureERC20ReceiveUSD] += tx.ValueUSD
			}
		}
	}
	out[domain.FeatureNativeBalanceDelta] = nativeIn - nativeOut - out[domain.FeatureTotalGasSpent]

	trades := make([]domain.NFTTrade, len(rec.NFTTrades))
	copy(trades, rec.NFTTrades)
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp < trades[j].Timestamp })

	held := make(map[string]struct{})
	for _, t := range trades {
		days[floorDiv(t.Timestamp, msPerDay)] = struct{}{}
		out[domain.FeatureTotalNFTVolumeUSD] += t.ValueUSD
		key := t.Collection + "/" + t.TokenID
		switch t.Side {
		case domain.NFTSideBuy:
			out[domain.FeatureTotalNFTBuys]++
			held[key] = struct{}{}
		case domain.NFTSideSell:
			out[domain.FeatureTotalNFTSells]++
			delete(held, key)
		}
	}
	out[domain.FeatureUniqueNFTsOwned] = float64(len(held))
	out[domain.FeatureActiveDays] = float64(len(days))

	for k, v := range out {
		out[k] = finite(v)
	}
	return out
}

// ClassifyAccount applies the EOA/contract heuristic. Known bytecode decides.
// Otherwise an address with transactions but none it paid gas for is treated
// as a contract, since contracts cannot originate transactions.
func ClassifyAccount(rec *domain.ActivityRecord) domain.AccountKind {
	if rec == nil {
		return domain.AccountUnknown
	}
	if rec.HasCode != nil {
		if *rec.HasCode {
			return domain.AccountContract
		}
		return domain.AccountEOA
	}
	if len(rec.Transactions) == 0 {
		return domain.AccountUnknown
	}
	for _, tx := range rec.Transactions {
		if tx.Direction == domain.DirectionOut && !tx.InitiatorContract {
			return domain.AccountEOA
		}
	}
	return domain.AccountContract
}

// FromMap builds a vector from named values. Missing features are 0; unknown
// names are rejected.
func FromMap(values map[string]float64) (domain.FeatureVector, error) {
	vec := domain.FeatureVector{
		Names:       append([]string(nil), domain.FeatureNames...),
		Values:      make([]float64, len(domain.FeatureNames)),
		AccountKind: domain.AccountUnknown,
	}
	for name, v := range values {
		idx := domain.FeatureIndex(name)
		if idx < 0 {
			return domain.FeatureVector{}, fmt.Errorf("unknown feature %q", name)
		}
		vec.Values[idx] = v
	}
	return vec, nil
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
