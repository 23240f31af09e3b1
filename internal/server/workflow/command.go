package workflow

import (
	"container/heap"
	"context"
	"fmt"
	"github.com/google/uuid"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"log/slog"
	"slices"
	"time"
)

// Command priorities. Queued commands with a higher priority run first.
const (
	PriorityDefault = 0
	PriorityHigh    = 100
)

// DefaultMaxDepth is the default bound on nested command execution.
const DefaultMaxDepth = 64

// Command is a unit of engine work executed inside a CommandContext.
type Command interface {
	Name() string
	Priority() int
	Execute(ctx context.Context, cc *CommandContext) (any, error)
}

// Next continues an interceptor chain.
type Next func(ctx context.Context) (any, error)

// Interceptor wraps command execution. Interceptors with a higher priority run outermost.
//
//go:generate mockery
type Interceptor interface {
	Priority() int
	Intercept(ctx context.Context, cmd Command, next Next) (any, error)
}

type queuedCommand struct {
	cmd Command
	seq int64
}

// commandQueue orders queued commands by priority, then by the order they were pushed.
type commandQueue []queuedCommand

func (q commandQueue) Len() int { return len(q) }

func (q commandQueue) Less(i, j int) bool {
	pi, pj := q[i].cmd.Priority(), q[j].cmd.Priority()
	if pi != pj {
		return pi > pj
	}
	return q[i].seq < q[j].seq
}

func (q commandQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *commandQueue) Push(x any) { *q = append(*q, x.(queuedCommand)) }

func (q *commandQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

type commandContextKey struct{}

// CommandContextFrom returns the unit of work ctx is running in.
func CommandContextFrom(ctx context.Context) (*CommandContext, bool) {
	cc, ok := ctx.Value(commandContextKey{}).(*CommandContext)
	return cc, ok
}

// CommandContext is the unit of work of one top level command: it owns the storage transaction,
// the loaded executions, the command queue and everything that happens after commit.
type CommandContext struct {
	engine *Engine
	tx     *storage.Tx
	ctx    context.Context
	depth  int
	queue  commandQueue
	seq    int64

	trees       map[uuid.UUID]*executionTree
	executions  map[uuid.UUID]*Execution
	models      map[string]*process.Model
	jobs        []*Job
	rescheduled []*Job
	removedJobs []string
	events      []Event
}

func newCommandContext(ctx context.Context, engine *Engine, tx *storage.Tx) *CommandContext {
	return &CommandContext{
		engine:     engine,
		tx:         tx,
		ctx:        ctx,
		trees:      make(map[uuid.UUID]*executionTree),
		executions: make(map[uuid.UUID]*Execution),
		models:     make(map[string]*process.Model),
	}
}

// Engine returns the engine running the command.
func (cc *CommandContext) Engine() *Engine { return cc.engine }

// Tx returns the storage transaction of the unit of work.
func (cc *CommandContext) Tx() *storage.Tx { return cc.tx }

// Depth returns the current command nesting depth.
func (cc *CommandContext) Depth() int { return cc.depth }

func (cc *CommandContext) now() time.Time {
	return cc.engine.clock()
}

// ExecuteCommand runs cmd immediately through the interceptor chain.
func (cc *CommandContext) ExecuteCommand(ctx context.Context, cmd Command) (any, error) {
	if cc.depth >= cc.engine.maxDepth {
		return nil, errors.Fatalf("execute %s at depth %d: %w", cmd.Name(), cc.depth, errors.ErrMaxDepthExceeded)
	}
	if ctx.Value(commandContextKey{}) != cc {
		ctx = context.WithValue(ctx, commandContextKey{}, cc)
	}
	prev := cc.ctx
	cc.depth++
	cc.ctx = ctx
	defer func() {
		cc.depth--
		cc.ctx = prev
	}()
	return cc.engine.intercept(ctx, cc, cmd)
}

// PushCommand queues cmd to run after the current command.
func (cc *CommandContext) PushCommand(cmd Command) {
	cc.seq++
	heap.Push(&cc.queue, queuedCommand{cmd: cmd, seq: cc.seq})
}

func (cc *CommandContext) drain(ctx context.Context) error {
	for cc.queue.Len() > 0 {
		q := heap.Pop(&cc.queue).(queuedCommand)
		if _, err := cc.ExecuteCommand(ctx, q.cmd); err != nil {
			return err
		}
	}
	return nil
}

func (cc *CommandContext) track(ex *Execution) {
	cc.executions[ex.id] = ex
}

func (cc *CommandContext) notify(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = cc.now()
	}
	cc.events = append(cc.events, ev)
}

// ExecuteCommand runs cmd as its own unit of work. When ctx already carries a unit of work the command
// joins it instead.
func (c *Engine) ExecuteCommand(ctx context.Context, cmd Command) (any, error) {
	if cc, ok := ctx.Value(commandContextKey{}).(*CommandContext); ok {
		return cc.ExecuteCommand(ctx, cmd)
	}
	outer := ctx
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	cc := newCommandContext(ctx, c, tx)
	ctx = context.WithValue(ctx, commandContextKey{}, cc)

	res, err := cc.ExecuteCommand(ctx, cmd)
	if err == nil {
		err = cc.drain(ctx)
	}
	if err == nil {
		err = cc.flush(ctx)
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			logx.FromContext(ctx).Error("rollback failed", slog.String(keys.Command, cmd.Name()), slog.Any("error", rerr))
		}
		return nil, err
	}
	c.afterCommit(outer, cc)
	return res, nil
}

func (c *Engine) afterCommit(ctx context.Context, cc *CommandContext) {
	log := logx.FromContext(ctx)
	for _, ev := range cc.events {
		c.notifier.Notify(ctx, ev)
	}
	for _, id := range cc.removedJobs {
		if err := c.scheduler.RemoveJob(ctx, id); err != nil {
			log.Warn("remove job from scheduler", slog.String(keys.JobID, id), slog.Any("error", err))
		}
	}
	for _, job := range slices.Concat(cc.jobs, cc.rescheduled) {
		if err := c.scheduler.ScheduleJob(ctx, job); err != nil {
			log.Warn("schedule job", slog.String(keys.JobID, job.ID), slog.Any("error", err))
		}
	}
}

func (c *Engine) intercept(ctx context.Context, cc *CommandContext, cmd Command) (any, error) {
	next := Next(func(ctx context.Context) (any, error) {
		return cmd.Execute(ctx, cc)
	})
	chain := c.interceptorChain()
	for i := len(chain) - 1; i >= 0; i-- {
		ic, n := chain[i], next
		next = func(ctx context.Context) (any, error) {
			return ic.Intercept(ctx, cmd, n)
		}
	}
	return next(ctx)
}
