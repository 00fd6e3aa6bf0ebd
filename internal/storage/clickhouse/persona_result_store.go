package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/storage"
)

// PersonaResultStore implements storage.ResultSink using ClickHouse.
// MergeTree does not enforce keys, so Insert checks job_id first.
type PersonaResultStore struct {
	conn *Conn
}

// NewPersonaResultStore creates a new PersonaResultStore.
func NewPersonaResultStore(conn *Conn) *PersonaResultStore {
	return &PersonaResultStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ResultSink = (*PersonaResultStore)(nil)

// Insert adds a result. Returns ErrDuplicateKey if job_id exists.
func (s *PersonaResultStore) Insert(ctx context.Context, r *storage.PersonaResultRecord) error {
	if r == nil || r.JobID == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, r.JobID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	features := r.Features
	if features == nil {
		features = []float64{}
	}

	err = s.conn.Exec(ctx, `
		INSERT INTO persona_results (
			job_id, address, persona, cluster_index, confidence,
			account_kind, model_version, features, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.JobID, string(r.Address), r.Persona, uint16(r.ClusterIndex), r.Confidence,
		string(r.AccountKind), r.ModelVersion, features, time.UnixMilli(r.CompletedAt).UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert persona result: %w", err)
	}
	return nil
}

// GetByAddress retrieves results for an address, ordered by completed_at ASC.
func (s *PersonaResultStore) GetByAddress(ctx context.Context, address domain.WalletAddress) ([]*storage.PersonaResultRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT job_id, address, persona, cluster_index, confidence,
		       account_kind, model_version, features, completed_at
		FROM persona_results
		WHERE address = ?
		ORDER BY completed_at ASC, job_id ASC
	`, string(address))
	if err != nil {
		return nil, fmt.Errorf("query persona results: %w", err)
	}
	defer rows.Close()

	var result []*storage.PersonaResultRecord
	for rows.Next() {
		var (
			r            storage.PersonaResultRecord
			addr, kind   string
			clusterIndex uint16
			completedAt  time.Time
		)
		if err := rows.Scan(
			&r.JobID, &addr, &r.Persona, &clusterIndex, &r.Confidence,
			&kind, &r.ModelVersion, &r.Features, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan persona result: %w", err)
		}
		r.Address = domain.WalletAddress(addr)
		r.AccountKind = domain.AccountKind(kind)
		r.ClusterIndex = int(clusterIndex)
		r.CompletedAt = completedAt.UnixMilli()
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persona results: %w", err)
	}
	return result, nil
}

// CountByPersona returns the number of results per persona label.
func (s *PersonaResultStore) CountByPersona(ctx context.Context) (map[string]uint64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT persona, count() AS n
		FROM persona_results
		GROUP BY persona
	`)
	if err != nil {
		return nil, fmt.Errorf("query persona counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var (
			persona string
			n       uint64
		)
		if err := rows.Scan(&persona, &n); err != nil {
			return nil, fmt.Errorf("scan persona count: %w", err)
		}
		counts[persona] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persona counts: %w", err)
	}
	return counts, nil
}

func (s *PersonaResultStore) exists(ctx context.Context, jobID string) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `SELECT count() FROM persona_results WHERE job_id = ?`, jobID)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
