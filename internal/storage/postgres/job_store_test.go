package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/storage"
)

const testAddr = domain.WalletAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func TestJobStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJobStore(pool)
	ctx := context.Background()

	job := &domain.Job{
		ID:        "job-001",
		Address:   testAddr,
		State:     domain.JobPending,
		CreatedAt: 1700000000000,
	}
	require.NoError(t, store.Insert(ctx, job))

	got, err := store.GetByID(ctx, "job-001")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.Address, got.Address)
	assert.Equal(t, domain.JobPending, got.State)
	assert.Nil(t, got.Result)
	assert.Equal(t, job.CreatedAt, got.CreatedAt)

	err = store.Insert(ctx, job)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobStore_TransitionToCompleted(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJobStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &domain.Job{
		ID: "job-002", Address: testAddr, State: domain.JobPending, CreatedAt: 1,
	}))

	running, err := store.Transition(ctx, "job-002", domain.JobPending, domain.JobUpdate{
		State: domain.JobRunning, Owner: "worker-a", At: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, running.State)
	assert.Equal(t, int64(2), running.StartedAt)
	assert.Equal(t, "worker-a", running.Owner)

	result := &domain.PersonaResult{
		ClusterIndex: 1,
		Persona:      "Whale",
		Confidences:  map[string]float64{"Whale": 0.75, "Bot": 0.25},
		Stats:        map[string]float64{domain.FeatureTxCount: 500},
		AccountKind:  domain.AccountEOA,
		ModelVersion: "abc",
	}
	done, err := store.Transition(ctx, "job-002", domain.JobRunning, domain.JobUpdate{
		State: domain.JobCompleted, Result: result, Attempts: 2, At: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, done.State)
	assert.Equal(t, 2, done.Attempts)
	assert.Equal(t, int64(3), done.FinishedAt)
	require.NotNil(t, done.Result)
	assert.Equal(t, result.Confidences, done.Result.Confidences)
	assert.Equal(t, result.Stats, done.Result.Stats)

	// Terminal state cannot be left.
	_, err = store.Transition(ctx, "job-002", domain.JobRunning, domain.JobUpdate{State: domain.JobFailed, At: 4})
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	again, err := store.GetByID(ctx, "job-002")
	require.NoError(t, err)
	assert.Equal(t, done, again)
}

func TestJobStore_TransitionToFailed(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJobStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &domain.Job{
		ID: "job-003", Address: testAddr, State: domain.JobPending, CreatedAt: 1,
	}))
	_, err := store.Transition(ctx, "job-003", domain.JobPending, domain.JobUpdate{State: domain.JobRunning, At: 2})
	require.NoError(t, err)

	failed, err := store.Transition(ctx, "job-003", domain.JobRunning, domain.JobUpdate{
		State:       domain.JobFailed,
		ErrorKind:   domain.KindUpstreamUnavailable,
		ErrorDetail: "connection refused",
		Attempts:    1,
		At:          3,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.KindUpstreamUnavailable, failed.ErrorKind)
	assert.Equal(t, "connection refused", failed.ErrorDetail)
	assert.Nil(t, failed.Result)

	_, err = store.Transition(ctx, "missing", domain.JobPending, domain.JobUpdate{State: domain.JobRunning})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobStore_GetByState(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJobStore(pool)
	ctx := context.Background()

	for i, id := range []string{"b", "a", "c"} {
		require.NoError(t, store.Insert(ctx, &domain.Job{
			ID: id, Address: testAddr, State: domain.JobPending, CreatedAt: int64(10 - i),
		}))
	}
	_, err := store.Transition(ctx, "a", domain.JobPending, domain.JobUpdate{State: domain.JobRunning, At: 20})
	require.NoError(t, err)

	pending, err := store.GetByState(ctx, domain.JobPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "c", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)
}
