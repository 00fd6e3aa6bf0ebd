package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/storage"
)

// ResultSink is an in-memory implementation of storage.ResultSink.
type ResultSink struct {
	mu   sync.RWMutex
	data map[string]*storage.PersonaResultRecord // keyed by job id
}

// NewResultSink creates a new in-memory result sink.
func NewResultSink() *ResultSink {
	return &ResultSink{
		data: make(map[string]*storage.PersonaResultRecord),
	}
}

// Insert adds a result. Returns ErrDuplicateKey if job_id exists.
func (s *ResultSink) Insert(_ context.Context, r *storage.PersonaResultRecord) error {
	if r == nil || r.JobID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.JobID]; exists {
		return storage.ErrDuplicateKey
	}

	recordCopy := *r
	recordCopy.Features = append([]float64(nil), r.Features...)
	s.data[r.JobID] = &recordCopy
	return nil
}

// GetByAddress retrieves results for an address, ordered by completed_at ASC.
func (s *ResultSink) GetByAddress(_ context.Context, address domain.WalletAddress) ([]*storage.PersonaResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.PersonaResultRecord
	for _, r := range s.data {
		if r.Address == address {
			recordCopy := *r
			recordCopy.Features = append([]float64(nil), r.Features...)
			result = append(result, &recordCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CompletedAt < result[j].CompletedAt
	})

	return result, nil
}

// CountByPersona returns the number of results per persona label.
func (s *ResultSink) CountByPersona(_ context.Context) (map[string]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]uint64)
	for _, r := range s.data {
		counts[r.Persona]++
	}
	return counts, nil
}

// Verify interface compliance at compile time.
var _ storage.ResultSink = (*ResultSink)(nil)
