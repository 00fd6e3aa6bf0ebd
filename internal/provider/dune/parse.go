package dune

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/nice-bills/chain-segment/internal/domain"
)

// blockTimeLayouts are the timestamp encodings Dune emits for timestamp columns.
var blockTimeLayouts = []string{
	"2006-01-02 15:04:05.000 MST",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

var weiPerETH = decimal.New(1, 18)

func parsePage(body []byte) (*resultPage, error) {
	if !gjson.ValidBytes(body) {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, "dune returned invalid JSON", nil)
	}
	doc := gjson.ParseBytes(body)
	finished := doc.Get("is_execution_finished")
	return &resultPage{
		body:       body,
		finished:   !finished.Exists() || finished.Bool(),
		nextOffset: int(doc.Get("next_offset").Int()),
	}, nil
}

func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return msg.String()
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// parseAggregates reads result.rows[0]. Only known feature names with finite
// numeric values are kept; the rest are left for the feature engine to derive.
func parseAggregates(body []byte) map[string]float64 {
	values := make(map[string]float64)
	row := gjson.GetBytes(body, "result.rows.0")
	if !row.Exists() {
		return values
	}
	for _, name := range domain.FeatureNames {
		v := row.Get(name)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		f, ok := number(v)
		if !ok {
			continue
		}
		values[name] = f
	}
	return values
}

func parseTransactions(body []byte) ([]domain.Transaction, bool) {
	var (
		items []domain.Transaction
		ok    = true
	)
	gjson.GetBytes(body, "result.rows").ForEach(func(_, row gjson.Result) bool {
		ts, tsOK := blockTime(row.Get("block_time"))
		if !tsOK {
			ok = false
			return true
		}
		items = append(items, domain.Transaction{
			Hash:              row.Get("hash").String(),
			Timestamp:         ts,
			GasCostETH:        weiToETH(row.Get("gas_cost_wei")),
			Direction:         domain.Direction(strings.ToLower(row.Get("direction").String())),
			Kind:              txKind(row.Get("kind").String()),
			ValueUSD:          floatOrZero(row.Get("value_usd")),
			NativeValue:       weiToETH(row.Get("value_wei")),
			InitiatorContract: row.Get("initiator_is_contract").Bool(),
		})
		return true
	})
	return items, ok
}

func parseNFTTrades(body []byte) ([]domain.NFTTrade, bool) {
	var (
		items []domain.NFTTrade
		ok    = true
	)
	gjson.GetBytes(body, "result.rows").ForEach(func(_, row gjson.Result) bool {
		ts, tsOK := blockTime(row.Get("block_time"))
		side := domain.NFTSide(strings.ToLower(row.Get("trade_type").String()))
		if !tsOK || (side != domain.NFTSideBuy && side != domain.NFTSideSell) {
			ok = false
			return true
		}
		items = append(items, domain.NFTTrade{
			Timestamp:  ts,
			ValueUSD:   floatOrZero(row.Get("amount_usd")),
			Side:       side,
			Collection: strings.ToLower(row.Get("nft_contract_address").String()),
			TokenID:    row.Get("token_id").String(),
		})
		return true
	})
	return items, ok
}

func txKind(raw string) domain.TxKind {
	switch k := domain.TxKind(strings.ToLower(raw)); k {
	case domain.TxKindNative, domain.TxKindERC20, domain.TxKindDexTrade, domain.TxKindContractCall:
		return k
	default:
		return domain.TxKindContractCall
	}
}

// blockTime returns Unix ms. Numbers are seconds unless already in ms.
func blockTime(v gjson.Result) (int64, bool) {
	switch v.Type {
	case gjson.Number:
		n := v.Int()
		if n > 1e12 {
			return n, true
		}
		return n * 1000, true
	case gjson.String:
		for _, layout := range blockTimeLayouts {
			if t, err := time.Parse(layout, v.Str); err == nil {
				return t.UnixMilli(), true
			}
		}
	}
	return 0, false
}

// weiToETH converts an integer wei amount, given as string or number, to ETH.
func weiToETH(v gjson.Result) float64 {
	if !v.Exists() || v.Type == gjson.Null {
		return 0
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return 0
	}
	return d.Div(weiPerETH).InexactFloat64()
}

func number(v gjson.Result) (float64, bool) {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Float()
	case gjson.String:
		d, err := decimal.NewFromString(v.Str)
		if err != nil {
			return 0, false
		}
		f = d.InexactFloat64()
	case gjson.True:
		f = 1
	case gjson.False:
		f = 0
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func floatOrZero(v gjson.Result) float64 {
	f, _ := number(v)
	return f
}

func sortTransactions(txs []domain.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Timestamp < txs[j].Timestamp })
}

func sortNFTTrades(trades []domain.NFTTrade) {
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp < trades[j].Timestamp })
}
