// Package orchestrator runs persona analysis jobs: it accepts an address,
// records a pending job and drives it through fetch, feature extraction,
// scoring and explanation to a terminal state.
//
// Several processes may share one job store. Each records its Owner on the
// jobs it starts, and Recover only touches running jobs with the same owner,
// so every process needs a distinct, stable Owner.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/explain"
	"github.com/nice-bills/chain-segment/internal/features"
	"github.com/nice-bills/chain-segment/internal/observability"
	"github.com/nice-bills/chain-segment/internal/storage"
)

// Default configuration values.
const (
	DefaultMaxRunning       = 4
	DefaultMaxFetchAttempts = 4
	DefaultInitialBackoff   = 500 * time.Millisecond
	DefaultMaxBackoff       = 10 * time.Second
	DefaultExplainTimeout   = 15 * time.Second
	DefaultStoreRetries     = 5
	DefaultStoreBackoff     = 100 * time.Millisecond
	DefaultFinishTimeout    = 30 * time.Second
)

// Fetcher supplies the activity record for an address.
type Fetcher interface {
	Fetch(ctx context.Context, address domain.WalletAddress) (*domain.ActivityRecord, error)
}

// Predictor maps a raw feature vector to a persona result.
type Predictor interface {
	Predict(v domain.FeatureVector) (*domain.PersonaResult, error)
}

// Options configures the orchestrator.
type Options struct {
	Jobs      storage.JobStore
	Fetcher   Fetcher
	Predictor Predictor

	// Explainer is optional. Without it results carry no narrative.
	Explainer explain.Explainer
	// Sink is optional. Completed results are copied to it for analytics.
	Sink storage.ResultSink

	// MaxRunning bounds how many jobs are in the running state at once.
	// Jobs above the bound wait in pending.
	MaxRunning int
	// MaxFetchAttempts bounds fetch attempts per job. Only rate-limit
	// failures are retried.
	MaxFetchAttempts int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	ExplainTimeout   time.Duration

	// StoreRetries bounds retries of a job state write that failed in the
	// store. StoreBackoff is the first wait between them.
	StoreRetries int
	StoreBackoff time.Duration

	// Owner is recorded on every job this orchestrator starts.
	Owner string

	Metrics *observability.Metrics
	Logger  zerolog.Logger

	Now   func() time.Time
	NewID func() string
}

// Orchestrator owns job scheduling and the per-job pipeline.
type Orchestrator struct {
	opts Options
	sem  *semaphore.Weighted
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	hub *hub
}

// New creates an orchestrator. Jobs, Fetcher and Predictor are required.
func New(opts Options) *Orchestrator {
	if opts.MaxRunning <= 0 {
		opts.MaxRunning = DefaultMaxRunning
	}
	if opts.MaxFetchAttempts <= 0 {
		opts.MaxFetchAttempts = DefaultMaxFetchAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.ExplainTimeout <= 0 {
		opts.ExplainTimeout = DefaultExplainTimeout
	}
	if opts.StoreRetries <= 0 {
		opts.StoreRetries = DefaultStoreRetries
	}
	if opts.StoreBackoff <= 0 {
		opts.StoreBackoff = DefaultStoreBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxRunning)),
		log:    opts.Logger.With().Str("component", "orchestrator").Logger(),
		ctx:    ctx,
		cancel: cancel,
		hub:    newHub(),
	}
}

// Submit validates rawAddress, records a pending job and schedules it.
// An invalid address creates nothing.
func (o *Orchestrator) Submit(ctx context.Context, rawAddress string) (string, error) {
	address, err := domain.ParseWalletAddress(rawAddress)
	if err != nil {
		return "", err
	}

	job := &domain.Job{
		ID:        o.opts.NewID(),
		Address:   address,
		State:     domain.JobPending,
		CreatedAt: o.nowMs(),
	}

	// The slot is reserved under the lock so Close waits for this job, but
	// the insert itself runs unlocked.
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", domain.NewError(domain.KindCanceled, "orchestrator closed", nil)
	}
	o.wg.Add(1)
	o.mu.Unlock()

	if err := o.opts.Jobs.Insert(ctx, job); err != nil {
		o.wg.Done()
		return "", fmt.Errorf("insert job: %w", err)
	}
	o.opts.Metrics.RecordSubmitted()
	o.log.Debug().Str("job_id", job.ID).Str("address", address.String()).Msg("job submitted")

	go func() {
		defer o.wg.Done()
		o.run(job)
	}()
	return job.ID, nil
}

// Status returns a snapshot of the job.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.opts.Jobs.GetByID(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.NewError(domain.KindJobNotFound, jobID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Recover resolves jobs left behind by a previous run of this owner. Its
// running jobs were interrupted and are failed as Canceled. Running jobs of
// other owners are left alone. Pending jobs are scheduled.
func (o *Orchestrator) Recover(ctx context.Context) error {
	running, err := o.opts.Jobs.GetByState(ctx, domain.JobRunning)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	stale := 0
	for _, job := range running {
		if job.Owner != o.opts.Owner {
			continue
		}
		stale++
		_, err := o.opts.Jobs.Transition(ctx, job.ID, domain.JobRunning, domain.JobUpdate{
			State:       domain.JobFailed,
			ErrorKind:   domain.KindCanceled,
			ErrorDetail: "interrupted by restart",
			Attempts:    job.Attempts,
			At:          o.nowMs(),
		})
		if err != nil && !errors.Is(err, storage.ErrInvalidTransition) {
			return fmt.Errorf("fail stale job %s: %w", job.ID, err)
		}
	}

	pending, err := o.opts.Jobs.GetByState(ctx, domain.JobPending)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return domain.NewError(domain.KindCanceled, "orchestrator closed", nil)
	}
	for _, job := range pending {
		o.schedule(job)
	}

	o.log.Info().
		Int("failed_stale", stale).
		Int("foreign_running", len(running)-stale).
		Int("rescheduled", len(pending)).
		Msg("recovered jobs")
	return nil
}

// Close cancels in-flight jobs and waits for their goroutines to finish.
// Running jobs end as failed with kind Canceled; queued jobs stay pending.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}

// schedule starts the pipeline goroutine for job. Caller holds o.mu and
// has checked o.closed.
func (o *Orchestrator) schedule(job *domain.Job) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(job)
	}()
}

func (o *Orchestrator) run(job *domain.Job) {
	log := o.log.With().Str("job_id", job.ID).Str("address", job.Address.String()).Logger()

	current, started, ok := o.start(log, job)
	if !ok {
		return
	}
	defer o.sem.Release(1)

	o.opts.Metrics.JobStarted()
	o.hub.publish(current)

	result, vec, attempts, runErr := o.execute(log, current)

	final := o.finish(log, current, result, attempts, runErr)
	elapsed := o.opts.Now().Sub(started)
	if final == nil {
		o.opts.Metrics.JobFinished(string(domain.JobFailed), string(domain.KindInternal), elapsed)
		return
	}
	o.opts.Metrics.JobFinished(string(final.State), string(final.ErrorKind), elapsed)
	o.hub.publish(final)

	if final.State == domain.JobCompleted {
		o.sink(log, final, vec)
	}
}

// start takes a running slot and moves job to running. When the store keeps
// failing the slot is given back and the job tried again after MaxBackoff,
// until it starts or shutdown leaves it pending for the next Recover.
func (o *Orchestrator) start(log zerolog.Logger, job *domain.Job) (*domain.Job, time.Time, bool) {
	for {
		if err := o.sem.Acquire(o.ctx, 1); err != nil {
			log.Debug().Msg("shutdown before start, job left pending")
			return nil, time.Time{}, false
		}

		started := o.opts.Now()
		current, err := o.transition(o.ctx, log, job.ID, domain.JobPending, domain.JobUpdate{
			State: domain.JobRunning,
			Owner: o.opts.Owner,
			At:    started.UnixMilli(),
		})
		if err == nil {
			return current, started, true
		}
		o.sem.Release(1)

		switch {
		case errors.Is(err, storage.ErrInvalidTransition):
			log.Debug().Msg("job already started elsewhere")
			return nil, time.Time{}, false
		case errors.Is(err, storage.ErrNotFound):
			log.Warn().Msg("job vanished before start")
			return nil, time.Time{}, false
		case o.ctx.Err() != nil:
			return nil, time.Time{}, false
		}

		log.Error().Err(err).Dur("retry_in", o.opts.MaxBackoff).Msg("failed to start job")
		t := time.NewTimer(o.opts.MaxBackoff)
		select {
		case <-o.ctx.Done():
			t.Stop()
			log.Debug().Msg("shutdown before start, job left pending")
			return nil, time.Time{}, false
		case <-t.C:
		}
	}
}

// transition writes a job state change, retrying store failures with
// backoff. Rejections by the state machine are returned at once.
func (o *Orchestrator) transition(ctx context.Context, log zerolog.Logger, id string, from domain.JobState, upd domain.JobUpdate) (*domain.Job, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.opts.StoreBackoff
	eb.MaxInterval = 20 * o.opts.StoreBackoff
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(o.opts.StoreRetries)), ctx)

	var job *domain.Job
	op := func() error {
		j, err := o.opts.Jobs.Transition(ctx, id, from, upd)
		if errors.Is(err, storage.ErrInvalidTransition) || errors.Is(err, storage.ErrNotFound) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		job = j
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("state", string(upd.State)).Dur("wait", wait).Msg("job write failed, retrying")
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return job, nil
}

// execute runs the pipeline stages for a running job.
func (o *Orchestrator) execute(log zerolog.Logger, job *domain.Job) (*domain.PersonaResult, domain.FeatureVector, int, error) {
	rec, attempts, err := o.fetch(log, job.Address)
	if err != nil {
		return nil, domain.FeatureVector{}, attempts, err
	}

	vec := features.Extract(rec)
	result, err := o.opts.Predictor.Predict(vec)
	if err != nil {
		return nil, vec, attempts, err
	}

	if o.opts.Explainer != nil {
		ctx, cancel := context.WithTimeout(o.ctx, o.opts.ExplainTimeout)
		text, err := o.opts.Explainer.Explain(ctx, result.Persona, result.Stats)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("persona", result.Persona).Msg("no explanation")
		} else {
			result.Explanation = text
		}
	}
	return result, vec, attempts, nil
}

// fetch retries rate-limited fetches with exponential backoff. Every other
// failure ends the job on the first attempt.
func (o *Orchestrator) fetch(log zerolog.Logger, address domain.WalletAddress) (*domain.ActivityRecord, int, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.opts.InitialBackoff
	eb.MaxInterval = o.opts.MaxBackoff
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(o.opts.MaxFetchAttempts-1)), o.ctx)

	var (
		rec      *domain.ActivityRecord
		attempts int
	)
	op := func() error {
		attempts++
		r, err := o.opts.Fetcher.Fetch(o.ctx, address)
		if err == nil {
			rec = r
			return nil
		}
		if errors.Is(err, domain.ErrUpstreamRateLimited) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		o.opts.Metrics.RecordRetry()
		log.Info().Err(err).Int("attempt", attempts).Dur("wait", wait).Msg("fetch throttled, retrying")
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, attempts, err
	}
	return rec, attempts, nil
}

// finish writes the terminal transition. It uses a detached context so a
// shutdown still records the outcome. If every retry fails the job stays
// running under this owner and the next Recover fails it.
func (o *Orchestrator) finish(log zerolog.Logger, job *domain.Job, result *domain.PersonaResult, attempts int, runErr error) *domain.Job {
	upd := domain.JobUpdate{Attempts: attempts, At: o.nowMs()}
	if runErr == nil {
		upd.State = domain.JobCompleted
		upd.Result = result
	} else {
		upd.State = domain.JobFailed
		upd.ErrorKind = domain.KindOf(runErr)
		upd.ErrorDetail = runErr.Error()
		if o.ctx.Err() != nil {
			upd.ErrorKind = domain.KindCanceled
			upd.ErrorDetail = "interrupted by shutdown"
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), DefaultFinishTimeout)
	defer cancel()

	final, err := o.transition(ctx, log, job.ID, domain.JobRunning, upd)
	if err != nil {
		log.Error().Err(err).Str("state", string(upd.State)).Msg("failed to finish job")
		return nil
	}

	ev := log.Info()
	switch final.ErrorKind {
	case domain.KindModelArtifactMismatch, domain.KindNormalizationError:
		// The model is broken, not the input. Every job will fail alike.
		ev = log.Error()
	}
	ev = ev.Str("state", string(final.State)).Int("attempt", attempts)
	if final.State == domain.JobCompleted {
		ev = ev.Str("persona", final.Result.Persona)
	} else {
		ev = ev.Str("error_kind", string(final.ErrorKind)).Str("error", final.ErrorDetail)
	}
	ev.Msg("job finished")
	return final
}

// sink forwards a completed result. Failures are logged only.
func (o *Orchestrator) sink(log zerolog.Logger, job *domain.Job, vec domain.FeatureVector) {
	if o.opts.Sink == nil {
		return
	}
	res := job.Result
	rec := &storage.PersonaResultRecord{
		JobID:        job.ID,
		Address:      job.Address,
		Persona:      res.Persona,
		ClusterIndex: res.ClusterIndex,
		Confidence:   res.Confidences[res.Persona],
		AccountKind:  res.AccountKind,
		ModelVersion: res.ModelVersion,
		Features:     append([]float64(nil), vec.Values...),
		CompletedAt:  job.FinishedAt,
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), 5*time.Second)
	defer cancel()
	if err := o.opts.Sink.Insert(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("result sink insert failed")
	}
}

func (o *Orchestrator) nowMs() int64 {
	return o.opts.Now().UnixMilli()
}
