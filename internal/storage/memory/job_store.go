package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/storage"
)

// JobStore is an in-memory implementation of storage.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Job // keyed by job id
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		data: make(map[string]*domain.Job),
	}
}

// Insert adds a new job. Returns ErrDuplicateKey if the id exists.
func (s *JobStore) Insert(_ context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" || !job.State.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[job.ID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	s.data[job.ID] = job.Clone()
	return nil
}

// GetByID retrieves a job by its ID. Returns ErrNotFound if not exists.
func (s *JobStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return job.Clone(), nil
}

// Transition applies upd if the job is in state from and the edge is legal.
func (s *JobStore) Transition(_ context.Context, id string, from domain.JobState, upd domain.JobUpdate) (*domain.Job, error) {
	if !domain.CanTransition(from, upd.State) {
		return nil, storage.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if job.State != from {
		return nil, storage.ErrInvalidTransition
	}

	next := job.Clone()
	next.State = upd.State
	next.Attempts = upd.Attempts
	switch upd.State {
	case domain.JobRunning:
		next.StartedAt = upd.At
		next.Owner = upd.Owner
	case domain.JobCompleted:
		next.Result = upd.Result.Clone()
		next.FinishedAt = upd.At
	case domain.JobFailed:
		next.ErrorKind = upd.ErrorKind
		next.ErrorDetail = upd.ErrorDetail
		next.FinishedAt = upd.At
	}
	s.data[id] = next

	return next.Clone(), nil
}

// GetByState retrieves all jobs in a state, ordered by created_at ASC.
func (s *JobStore) GetByState(_ context.Context, state domain.JobState) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Job
	for _, j := range s.data {
		if j.State == state {
			result = append(result, j.Clone())
		}
	}

	// Sort by created_at ASC, id for ties
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.JobStore = (*JobStore)(nil)
