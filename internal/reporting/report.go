package reporting

import (
	"time"

	"github.com/nice-bills/chain-segment/internal/domain"
)

// Report summarizes stored persona results.
type Report struct {
	// Metadata
	GeneratedAt  time.Time
	TotalResults uint64
	Addresses    []domain.WalletAddress // requested, deduplicated and sorted

	// Persona distribution (sorted by count desc, persona asc)
	Distribution []PersonaCountRow

	// Per-address history for the requested addresses (address asc, completed_at asc)
	History []HistoryRow

	// Addresses whose persona differs between their first and latest result
	Changes []PersonaChangeRow
}

// PersonaCountRow is one persona's share of all results.
type PersonaCountRow struct {
	Persona string
	Count   uint64
	Share   float64 // Count / TotalResults, 0 when there are no results
}

// HistoryRow is one stored result.
type HistoryRow struct {
	Address      domain.WalletAddress
	JobID        string
	Persona      string
	ClusterIndex int
	Confidence   float64
	AccountKind  domain.AccountKind
	ModelVersion string // short form
	CompletedAt  int64  // Unix ms
}

// PersonaChangeRow records a persona that moved across runs.
type PersonaChangeRow struct {
	Address      domain.WalletAddress
	FirstPersona string
	LastPersona  string
	Runs         int
}
