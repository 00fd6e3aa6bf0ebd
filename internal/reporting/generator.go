package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/idhash"
	"github.com/nice-bills/chain-segment/internal/storage"
)

// Generator produces reports from the result sink.
type Generator struct {
	sink storage.ResultSink
	now  func() time.Time
}

// NewGenerator creates a new report generator.
func NewGenerator(sink storage.ResultSink) *Generator {
	return &Generator{
		sink: sink,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the persona distribution and, for each given address,
// its result history.
func (g *Generator) Generate(ctx context.Context, addresses ...domain.WalletAddress) (*Report, error) {
	counts, err := g.sink.CountByPersona(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by persona: %w", err)
	}

	r := &Report{GeneratedAt: g.now()}
	for _, c := range counts {
		r.TotalResults += c
	}
	r.Distribution = distribution(counts, r.TotalResults)

	seen := make(map[domain.WalletAddress]struct{}, len(addresses))
	sorted := make([]domain.WalletAddress, 0, len(addresses))
	for _, a := range addresses {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		sorted = append(sorted, a)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	r.Addresses = sorted

	for _, addr := range sorted {
		records, err := g.sink.GetByAddress(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("results for %s: %w", addr, err)
		}
		for _, rec := range records {
			r.History = append(r.History, HistoryRow{
				Address:      rec.Address,
				JobID:        rec.JobID,
				Persona:      rec.Persona,
				ClusterIndex: rec.ClusterIndex,
				Confidence:   rec.Confidence,
				AccountKind:  rec.AccountKind,
				ModelVersion: idhash.Short(rec.ModelVersion),
				CompletedAt:  rec.CompletedAt,
			})
		}
		if len(records) > 1 {
			first, last := records[0], records[len(records)-1]
			if first.Persona != last.Persona {
				r.Changes = append(r.Changes, PersonaChangeRow{
					Address:      addr,
					FirstPersona: first.Persona,
					LastPersona:  last.Persona,
					Runs:         len(records),
				})
			}
		}
	}

	return r, nil
}

func distribution(counts map[string]uint64, total uint64) []PersonaCountRow {
	rows := make([]PersonaCountRow, 0, len(counts))
	for persona, c := range counts {
		row := PersonaCountRow{Persona: persona, Count: c}
		if total > 0 {
			row.Share = float64(c) / float64(total)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Persona < rows[j].Persona
	})
	return rows
}
