package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"github.com/vmihailenco/msgpack/v5"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Job handler types.
const (
	JobTypeAsyncContinuation = "async-continuation"
	JobTypeTimer             = "timer"
)

// DefaultJobRetries is the number of attempts a new job gets.
const DefaultJobRetries = 3

// Job is a deferred unit of engine work.
type Job struct {
	ID                string
	ExecutionID       uuid.UUID
	ProcessInstanceID uuid.UUID
	HandlerType       string
	HandlerData       []byte
	Retries           int
	LockOwner         string
	LockExpiresAt     *time.Time
	RunAt             *time.Time
	Exception         string
	CreatedAt         time.Time
}

// Due reports whether the job may run at now.
func (j *Job) Due(now time.Time) bool {
	return j.RunAt == nil || !j.RunAt.After(now)
}

func (j *Job) row() storage.JobRow {
	r := storage.JobRow{
		ID:                j.ID,
		ExecutionID:       j.ExecutionID.String(),
		ProcessInstanceID: j.ProcessInstanceID.String(),
		HandlerType:       j.HandlerType,
		HandlerData:       j.HandlerData,
		Retries:           j.Retries,
		CreatedAt:         j.CreatedAt.UnixMilli(),
	}
	if j.LockOwner != "" {
		r.LockOwner = sql.NullString{String: j.LockOwner, Valid: true}
	}
	if j.LockExpiresAt != nil {
		r.LockExpiresAt = sql.NullInt64{Int64: j.LockExpiresAt.UnixMilli(), Valid: true}
	}
	if j.RunAt != nil {
		r.RunAt = sql.NullInt64{Int64: j.RunAt.UnixMilli(), Valid: true}
	}
	if j.Exception != "" {
		r.Exception = sql.NullString{String: j.Exception, Valid: true}
	}
	return r
}

func jobFromRow(r storage.JobRow) (*Job, error) {
	j := &Job{
		ID:          r.ID,
		HandlerType: r.HandlerType,
		HandlerData: r.HandlerData,
		Retries:     r.Retries,
		LockOwner:   r.LockOwner.String,
		Exception:   r.Exception.String,
		CreatedAt:   time.UnixMilli(r.CreatedAt),
	}
	var err error
	if j.ExecutionID, err = uuid.Parse(r.ExecutionID); err != nil {
		return nil, fmt.Errorf("load job %s: %w", r.ID, err)
	}
	if j.ProcessInstanceID, err = uuid.Parse(r.ProcessInstanceID); err != nil {
		return nil, fmt.Errorf("load job %s: %w", r.ID, err)
	}
	if r.LockExpiresAt.Valid {
		t := time.UnixMilli(r.LockExpiresAt.Int64)
		j.LockExpiresAt = &t
	}
	if r.RunAt.Valid {
		t := time.UnixMilli(r.RunAt.Int64)
		j.RunAt = &t
	}
	return j, nil
}

// JobHandler runs jobs of one handler type inside the unit of work of an ExecuteJobCommand.
//
//go:generate mockery
type JobHandler interface {
	Type() string
	Execute(ctx context.Context, cc *CommandContext, job *Job) error
}

// JobScheduler is told about jobs once the transaction that created them has committed.
//
//go:generate mockery
type JobScheduler interface {
	ScheduleJob(ctx context.Context, job *Job) error
	RemoveJob(ctx context.Context, id string) error
}

// ScheduleJob queues a job for ex. The payload is encoded with msgpack. The job is written on flush and
// handed to the scheduler after commit.
func (cc *CommandContext) ScheduleJob(ctx context.Context, ex *Execution, handlerType string, payload any, runAt *time.Time) (*Job, error) {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("schedule %s job: %w", handlerType, err)
	}
	job := &Job{
		ID:                ksuid.New().String(),
		ExecutionID:       ex.id,
		ProcessInstanceID: ex.processID,
		HandlerType:       handlerType,
		HandlerData:       data,
		Retries:           cc.engine.jobRetries,
		RunAt:             runAt,
		CreatedAt:         cc.now(),
	}
	cc.jobs = append(cc.jobs, job)
	ev := eventFor(EventJobScheduled, ex)
	ev.JobID = job.ID
	ev.Name = handlerType
	cc.notify(ev)
	logx.FromContext(ctx).Debug("job scheduled", slog.String(keys.JobID, job.ID), slog.String(keys.JobType, handlerType), slog.String(keys.ExecutionID, ex.id.String()))
	return job, nil
}

// removeJob drops a job queued in this unit of work or deletes a stored one.
func (cc *CommandContext) removeJob(ctx context.Context, id string) error {
	if i := slices.IndexFunc(cc.jobs, func(j *Job) bool { return j.ID == id }); i >= 0 {
		cc.jobs = slices.Delete(cc.jobs, i, i+1)
		return nil
	}
	if _, err := cc.tx.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("remove job %s: %w", id, err)
	}
	cc.removedJobs = append(cc.removedJobs, id)
	return nil
}

// removeJobs removes every job of ex.
func (cc *CommandContext) removeJobs(ctx context.Context, ex *Execution) error {
	cc.jobs = slices.DeleteFunc(cc.jobs, func(j *Job) bool { return j.ExecutionID == ex.id })
	if !ex.persisted {
		return nil
	}
	rows, err := cc.tx.ListJobs(ctx, storage.JobFilter{ExecutionID: ex.id.String()})
	if err != nil {
		return fmt.Errorf("remove jobs of %s: %w", ex.id, err)
	}
	for _, r := range rows {
		if err := cc.removeJob(ctx, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteJobCommand runs a stored job and deletes it. Owner must hold the job lock when the job is locked.
type ExecuteJobCommand struct {
	defaultPriority
	JobID string
	Owner string
}

// Name implements Command.
func (c *ExecuteJobCommand) Name() string { return "ExecuteJob" }

// Execute implements Command.
func (c *ExecuteJobCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	row, err := cc.tx.GetJob(ctx, c.JobID)
	if err != nil {
		return nil, fmt.Errorf("execute job: %w", err)
	}
	if row.LockOwner.Valid && row.LockOwner.String != c.Owner {
		return nil, fmt.Errorf("execute job %s: %w", c.JobID, errors.ErrJobLockLost)
	}
	if row.Retries <= 0 {
		return nil, fmt.Errorf("execute job %s: %w", c.JobID, errors.ErrNoJobRetries)
	}
	job, err := jobFromRow(*row)
	if err != nil {
		return nil, err
	}
	h, ok := cc.engine.jobHandler(job.HandlerType)
	if !ok {
		return nil, errors.Fatalf("execute job %s of type %s: %w", job.ID, job.HandlerType, errors.ErrNoHandler)
	}
	ctx = logx.NewContext(ctx, logx.FromContext(ctx).With(slog.String(keys.JobID, job.ID), slog.String(keys.JobType, job.HandlerType)))
	if err := h.Execute(ctx, cc, job); err != nil {
		return nil, err
	}
	if _, err := cc.tx.DeleteJob(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("execute job %s: %w", job.ID, err)
	}
	return nil, nil
}

// SetJobRetriesCommand sets the remaining attempts of a job, typically to revive a failed one.
type SetJobRetriesCommand struct {
	defaultPriority
	JobID   string
	Retries int
}

// Name implements Command.
func (c *SetJobRetriesCommand) Name() string { return "SetJobRetries" }

// Execute implements Command.
func (c *SetJobRetriesCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	if c.Retries < 0 {
		return nil, errors.Fatalf("set retries of job %s to %d: %w", c.JobID, c.Retries, errors.ErrInvalidRetries)
	}
	row, err := cc.tx.GetJob(ctx, c.JobID)
	if err != nil {
		return nil, fmt.Errorf("set job retries: %w", err)
	}
	if err := cc.tx.SetJobRetries(ctx, c.JobID, c.Retries); err != nil {
		return nil, err
	}
	if c.Retries > 0 && row.Retries == 0 {
		job, err := jobFromRow(*row)
		if err != nil {
			return nil, err
		}
		job.Retries = c.Retries
		job.Exception = ""
		cc.rescheduled = append(cc.rescheduled, job)
	}
	return nil, nil
}

type asyncContinuation struct {
	NodeID string `msgpack:"nodeId"`
}

type asyncContinuationHandler struct{}

func (asyncContinuationHandler) Type() string { return JobTypeAsyncContinuation }

func (asyncContinuationHandler) Execute(ctx context.Context, cc *CommandContext, job *Job) error {
	var p asyncContinuation
	if err := msgpack.Unmarshal(job.HandlerData, &p); err != nil {
		return errors.Fatalf("decode async continuation %s: %w", job.ID, err)
	}
	_, err := cc.ExecuteCommand(ctx, &ExecuteNodeCommand{ExecutionID: job.ExecutionID, NodeID: p.NodeID, FromJob: true})
	return err
}

type timerPayload struct {
	SubscriptionID string `msgpack:"subscriptionId"`
}

type timerHandler struct{}

func (timerHandler) Type() string { return JobTypeTimer }

func (timerHandler) Execute(ctx context.Context, cc *CommandContext, job *Job) error {
	var p timerPayload
	if err := msgpack.Unmarshal(job.HandlerData, &p); err != nil {
		return errors.Fatalf("decode timer %s: %w", job.ID, err)
	}
	sub, err := cc.tx.GetSubscription(ctx, p.SubscriptionID)
	if errors.IsNotFound(err) {
		logx.FromContext(ctx).Debug("timer subscription already consumed", slog.String(keys.SubscriptionID, p.SubscriptionID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("fire timer %s: %w", job.ID, err)
	}
	// The running job is deleted by the command itself.
	sub.JobID = sql.NullString{}
	_, err = cc.deliver(ctx, *sub, nil, nil)
	return err
}

// NoopScheduler ignores jobs. They stay in the store for an executor to acquire.
type NoopScheduler struct{}

// ScheduleJob implements JobScheduler.
func (NoopScheduler) ScheduleJob(context.Context, *Job) error { return nil }

// RemoveJob implements JobScheduler.
func (NoopScheduler) RemoveJob(context.Context, string) error { return nil }

// ImmediateScheduler runs every due job as soon as it is scheduled, each in its own transaction.
// Jobs that are not due yet stay in the store. Failures are logged.
type ImmediateScheduler struct {
	mu     sync.Mutex
	engine *Engine
}

// NewImmediateScheduler returns a scheduler bound to an engine with WithScheduler.
func NewImmediateScheduler() *ImmediateScheduler {
	return &ImmediateScheduler{}
}

func (s *ImmediateScheduler) bind(e *Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = e
}

// ScheduleJob implements JobScheduler.
func (s *ImmediateScheduler) ScheduleJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	e := s.engine
	s.mu.Unlock()
	if e == nil || !job.Due(e.clock()) {
		return nil
	}
	if err := e.ExecuteJob(ctx, job.ID, ""); err != nil {
		logx.FromContext(ctx).Warn("immediate job failed", slog.String(keys.JobID, job.ID), slog.Any("error", err))
	}
	return nil
}

// RemoveJob implements JobScheduler.
func (s *ImmediateScheduler) RemoveJob(context.Context, string) error { return nil }
