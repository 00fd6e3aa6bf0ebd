package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/storage"
)

// JobStore implements storage.JobStore using PostgreSQL.
// Transitions are a single conditional UPDATE, so concurrent writers for the
// same job serialize on the row lock and at most one wins.
type JobStore struct {
	pool *Pool
}

// NewJobStore creates a new JobStore.
func NewJobStore(pool *Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Compile-time interface check.
var _ storage.JobStore = (*JobStore)(nil)

const jobColumns = `job_id, address, state, result, error_kind, error_detail, attempts, created_at, started_at, finished_at, owner`

// Insert adds a new job. Returns ErrDuplicateKey if the id exists.
func (s *JobStore) Insert(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" || !job.State.IsValid() {
		return storage.ErrInvalidInput
	}

	result, err := marshalResult(job.Result)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO analysis_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		job.ID,
		string(job.Address),
		string(job.State),
		result,
		string(job.ErrorKind),
		job.ErrorDetail,
		job.Attempts,
		job.CreatedAt,
		job.StartedAt,
		job.FinishedAt,
		job.Owner,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its ID. Returns ErrNotFound if not exists.
func (s *JobStore) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE job_id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return job, nil
}

// Transition applies upd if the job is in state from and the edge is legal.
func (s *JobStore) Transition(ctx context.Context, id string, from domain.JobState, upd domain.JobUpdate) (*domain.Job, error) {
	if !domain.CanTransition(from, upd.State) {
		return nil, storage.ErrInvalidTransition
	}

	var query string
	var args []any
	switch upd.State {
	case domain.JobRunning:
		query = `
			UPDATE analysis_jobs
			SET state = $3, attempts = $4, started_at = $5, owner = $6
			WHERE job_id = $1 AND state = $2
			RETURNING ` + jobColumns
		args = []any{id, string(from), string(upd.State), upd.Attempts, upd.At, upd.Owner}
	case domain.JobCompleted:
		result, err := marshalResult(upd.Result)
		if err != nil {
			return nil, err
		}
		query = `
			UPDATE analysis_jobs
			SET state = $3, attempts = $4, finished_at = $5, result = $6
			WHERE job_id = $1 AND state = $2
			RETURNING ` + jobColumns
		args = []any{id, string(from), string(upd.State), upd.Attempts, upd.At, result}
	case domain.JobFailed:
		query = `
			UPDATE analysis_jobs
			SET state = $3, attempts = $4, finished_at = $5, error_kind = $6, error_detail = $7
			WHERE job_id = $1 AND state = $2
			RETURNING ` + jobColumns
		args = []any{id, string(from), string(upd.State), upd.Attempts, upd.At, string(upd.ErrorKind), upd.ErrorDetail}
	}

	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if !isNotFoundError(err) {
		return nil, fmt.Errorf("transition job: %w", err)
	}

	// No row updated: either the job does not exist or it left `from`.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM analysis_jobs WHERE job_id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}
	return nil, storage.ErrInvalidTransition
}

// GetByState retrieves all jobs in a state, ordered by created_at ASC.
func (s *JobStore) GetByState(ctx context.Context, state domain.JobState) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM analysis_jobs
		WHERE state = $1
		ORDER BY created_at ASC, job_id ASC
	`, string(state))
	if err != nil {
		return nil, fmt.Errorf("query jobs by state: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func marshalResult(r *domain.PersonaResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal persona result: %w", err)
	}
	return data, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                     domain.Job
		address, state, errKind string
		result                  []byte
	)
	err := row.Scan(
		&job.ID,
		&address,
		&state,
		&result,
		&errKind,
		&job.ErrorDetail,
		&job.Attempts,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
		&job.Owner,
	)
	if err != nil {
		return nil, err
	}

	job.Address = domain.WalletAddress(address)
	job.State = domain.JobState(state)
	job.ErrorKind = domain.ErrorKind(errKind)
	if len(result) > 0 {
		var r domain.PersonaResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("unmarshal persona result: %w", err)
		}
		job.Result = &r
	}
	return &job, nil
}
