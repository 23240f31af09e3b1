// Package executor runs engine jobs from a pool of workers. It claims due jobs under a lock owner of
// its own and executes each one in its own transaction.
package executor

import (
	"context"
	errors2 "errors"
	"fmt"
	"github.com/segmentio/ksuid"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"sync"
	"time"
)

// Defaults of an Executor.
const (
	DefaultWorkers      = 4
	DefaultBatchSize    = 16
	DefaultPollInterval = time.Second
	DefaultLockTimeout  = 5 * time.Minute
)

// Engine is the part of the workflow engine the executor drives.
//
//go:generate mockery
type Engine interface {
	AcquireJobs(ctx context.Context, owner string, limit int, lockTimeout time.Duration) ([]*workflow.Job, error)
	ExecuteJob(ctx context.Context, jobID string, owner string) error
	UnlockJob(ctx context.Context, jobID string) error
}

// Executor polls for due jobs and runs them. It is also a workflow.JobScheduler: newly committed jobs
// wake the poller instead of waiting for the next tick.
type Executor struct {
	owner        string
	workers      int
	batchSize    int
	pollInterval time.Duration
	lockTimeout  time.Duration

	mx     sync.RWMutex
	engine Engine
	wake   chan struct{}
}

// Option configures an Executor.
type Option func(x *Executor)

// WithWorkers sets how many jobs run at the same time.
func WithWorkers(n int) Option {
	return func(x *Executor) { x.workers = n }
}

// WithBatchSize sets how many jobs one poll claims at most.
func WithBatchSize(n int) Option {
	return func(x *Executor) { x.batchSize = n }
}

// WithPollInterval sets the pause between polls that found nothing to do.
func WithPollInterval(d time.Duration) Option {
	return func(x *Executor) { x.pollInterval = d }
}

// WithLockTimeout sets how long a claimed job stays locked to this executor.
func WithLockTimeout(d time.Duration) Option {
	return func(x *Executor) { x.lockTimeout = d }
}

// WithOwner overrides the generated lock owner.
func WithOwner(owner string) Option {
	return func(x *Executor) { x.owner = owner }
}

// New creates an executor. It must be attached to an engine before it runs.
func New(opts ...Option) *Executor {
	x := &Executor{
		owner:        "executor-" + ksuid.New().String(),
		workers:      DefaultWorkers,
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		lockTimeout:  DefaultLockTimeout,
		wake:         make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(x)
	}
	x.workers = max(x.workers, 1)
	x.batchSize = max(x.batchSize, x.workers)
	return x
}

// Attach binds the executor to the engine whose jobs it runs.
func (x *Executor) Attach(engine Engine) {
	x.mx.Lock()
	defer x.mx.Unlock()
	x.engine = engine
}

// Owner returns the lock owner the executor claims jobs under.
func (x *Executor) Owner() string { return x.owner }

// ScheduleJob implements workflow.JobScheduler.
func (x *Executor) ScheduleJob(_ context.Context, _ *workflow.Job) error {
	select {
	case x.wake <- struct{}{}:
	default:
	}
	return nil
}

// RemoveJob implements workflow.JobScheduler. Removed jobs are gone from the store and are never claimed.
func (x *Executor) RemoveJob(context.Context, string) error { return nil }

func (x *Executor) attached() (Engine, error) {
	x.mx.RLock()
	defer x.mx.RUnlock()
	if x.engine == nil {
		return nil, fmt.Errorf("executor %s: %w", x.owner, errors2.New("no engine attached"))
	}
	return x.engine, nil
}

// Run polls until ctx is done. Jobs already running are allowed to finish.
func (x *Executor) Run(ctx context.Context) error {
	eng, err := x.attached()
	if err != nil {
		return err
	}
	ctx, log := logx.ContextWith(ctx, "executor")
	log.Info("job executor started", slog.String(keys.LockOwner, x.owner), slog.Int("workers", x.workers))
	ticker := time.NewTicker(x.pollInterval)
	defer ticker.Stop()
	for {
		n, err := x.poll(ctx, eng)
		if err != nil && ctx.Err() == nil {
			log.Error("poll jobs", slog.Any("error", err))
		}
		if n >= x.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("job executor stopped", slog.String(keys.LockOwner, x.owner))
			return nil
		case <-ticker.C:
		case <-x.wake:
		}
	}
}

// Poll claims one batch of due jobs and runs it to completion. It returns the number of jobs claimed.
func (x *Executor) Poll(ctx context.Context) (int, error) {
	eng, err := x.attached()
	if err != nil {
		return 0, err
	}
	return x.poll(ctx, eng)
}

func (x *Executor) poll(ctx context.Context, eng Engine) (int, error) {
	jobs, err := eng.AcquireJobs(ctx, x.owner, x.batchSize, x.lockTimeout)
	if err != nil {
		return 0, fmt.Errorf("acquire jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	g := errgroup.Group{}
	g.SetLimit(x.workers)
	for _, job := range jobs {
		if ctx.Err() != nil {
			x.release(eng, job)
			continue
		}
		g.Go(func() error {
			x.execute(ctx, eng, job)
			return nil
		})
	}
	return len(jobs), g.Wait()
}

func (x *Executor) execute(ctx context.Context, eng Engine, job *workflow.Job) {
	ctx, log := logx.Entrypoint(ctx, "executor", job.ID)
	log = log.With(slog.String(keys.JobType, job.HandlerType))
	err := eng.ExecuteJob(ctx, job.ID, x.owner)
	switch {
	case err == nil:
		log.Debug("job executed")
	case errors2.Is(err, errors.ErrJobLockLost), errors.IsNotFound(err):
		log.Debug("job taken elsewhere", slog.Any("error", err))
	case errors2.Is(err, errors.ErrNoJobRetries):
		log.Warn("job has no retries left")
	default:
		log.Warn("job failed", slog.Any("error", err))
	}
}

// release hands a claimed job back when the executor is shutting down.
func (x *Executor) release(eng Engine, job *workflow.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.UnlockJob(ctx, job.ID); err != nil {
		slog.Warn("release job", slog.String(keys.JobID, job.ID), slog.Any("error", err))
	}
}
