package storage

import (
	"context"

	"github.com/nice-bills/chain-segment/internal/domain"
)

// ActivityCache maps a wallet address to its last fetched activity.
// Freshness is decided by the caller via domain.CacheEntry.Fresh.
type ActivityCache interface {
	// Get returns the stored entry for address. Returns ErrNotFound on miss.
	// Get never calls the upstream provider.
	Get(ctx context.Context, address domain.WalletAddress) (*domain.CacheEntry, error)

	// Put replaces the entry for address. Last write wins; the stored
	// FetchedAt is strictly increasing per address.
	Put(ctx context.Context, address domain.WalletAddress, record *domain.ActivityRecord, complete bool) error
}

// JobStore persists analysis jobs.
type JobStore interface {
	// Insert adds a new job. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, job *domain.Job) error

	// GetByID retrieves a snapshot of a job. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Job, error)

	// Transition applies upd if the job is currently in state from and
	// from → upd.State is a legal edge. Returns ErrInvalidTransition otherwise,
	// ErrNotFound for unknown ids.
	Transition(ctx context.Context, id string, from domain.JobState, upd domain.JobUpdate) (*domain.Job, error)

	// GetByState retrieves all jobs in a state, ordered by created_at ASC.
	GetByState(ctx context.Context, state domain.JobState) ([]*domain.Job, error)
}

// PersonaResultRecord is one completed analysis as written to the result sink.
type PersonaResultRecord struct {
	JobID        string
	Address      domain.WalletAddress
	Persona      string
	ClusterIndex int
	Confidence   float64 // confidence of the assigned persona
	AccountKind  domain.AccountKind
	ModelVersion string
	Features     []float64 // raw features in canonical order
	CompletedAt  int64     // Unix ms
}

// ResultSink receives completed results for analytics. Append-only.
type ResultSink interface {
	// Insert adds a result. Returns ErrDuplicateKey if job_id exists.
	Insert(ctx context.Context, r *PersonaResultRecord) error

	// GetByAddress retrieves results for an address, ordered by completed_at ASC.
	GetByAddress(ctx context.Context, address domain.WalletAddress) ([]*PersonaResultRecord, error)

	// CountByPersona returns the number of results per persona label.
	CountByPersona(ctx context.Context) (map[string]uint64, error)
}
