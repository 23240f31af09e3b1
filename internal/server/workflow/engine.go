package workflow

import (
	"cmp"
	"context"
	errors2 "errors"
	"fmt"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"gitlab.com/shar-workflow/bpmnrt/common/cache"
	"gitlab.com/shar-workflow/bpmnrt/common/expression"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	modelcache "gitlab.com/shar-workflow/bpmnrt/server/services/cache"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	defaultModelCacheSize   = 1000
	defaultProgramCacheSize = 10000
)

// ModelLoader turns a deployed document into process models.
//
//go:generate mockery
type ModelLoader interface {
	Load(ctx context.Context, name string, data []byte) ([]*process.Model, error)
}

// ServiceCall is what a service task hands to its handler.
type ServiceCall struct {
	ProcessKey        string
	NodeID            string
	ExecutionID       uuid.UUID
	ProcessInstanceID uuid.UUID
	BusinessKey       string
	Variables         model.Vars
}

// ServiceFn implements a service task. The returned variables are written to the execution.
type ServiceFn func(ctx context.Context, call ServiceCall) (model.Vars, error)

// DelegateFn implements a delegate task with full access to the execution.
type DelegateFn func(ctx context.Context, ex *Execution) error

// ThrownMessage is what a message throw or end event hands to its handler.
type ThrownMessage struct {
	Name              string
	ProcessKey        string
	NodeID            string
	ExecutionID       uuid.UUID
	ProcessInstanceID uuid.UUID
	BusinessKey       string
	Variables         model.Vars
}

// MessageHandlerFn receives a thrown message inside the throwing unit of work. Commands it executes
// through cc, such as a MessageEventReceivedCommand, commit or roll back with the throw.
type MessageHandlerFn func(ctx context.Context, cc *CommandContext, msg ThrownMessage) error

// Engine contains the process execution functions.
type Engine struct {
	store      *storage.Store
	loader     ModelLoader
	models     *modelcache.SharCache
	exprEng    expression.Engine
	scheduler  JobScheduler
	notifier   Notifier
	clock      func() time.Time
	maxDepth   int
	jobRetries int

	rwmx            sync.RWMutex
	interceptors    []Interceptor
	jobHandlers     map[string]JobHandler
	services        map[string]ServiceFn
	delegates       map[string]DelegateFn
	messageHandlers map[string]MessageHandlerFn
}

// New returns an engine working on store. loader parses deployed documents.
func New(store *storage.Store, loader ModelLoader, opts ...EngineOption) (*Engine, error) {
	if store == nil || loader == nil {
		return nil, fmt.Errorf("create engine: %w", errors2.New("store and model loader are required"))
	}
	o := &EngineOptions{
		MaxDepth:       DefaultMaxDepth,
		JobRetries:     DefaultJobRetries,
		Clock:          time.Now,
		Scheduler:      NoopScheduler{},
		Notifier:       NoopNotifier{},
		ModelCacheSize: defaultModelCacheSize,
	}
	for _, opt := range opts {
		opt.Configure(o)
	}
	if o.MaxDepth < 1 {
		return nil, fmt.Errorf("create engine: invalid max depth %d", o.MaxDepth)
	}
	if o.ModelCache == nil {
		be, err := modelcache.NewRistrettoCacheBackend(o.ModelCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create engine: %w", err)
		}
		o.ModelCache = be
	}
	if o.ExpressionEngine == nil {
		programs, err := cache.NewRistrettoCacheBackend[string, *vm.Program](defaultProgramCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create engine: %w", err)
		}
		o.ExpressionEngine = expression.NewExprEngine(programs)
	}

	e := &Engine{
		store:           store,
		loader:          loader,
		models:          modelcache.NewSharCache(o.ModelCache),
		exprEng:         o.ExpressionEngine,
		scheduler:       o.Scheduler,
		notifier:        o.Notifier,
		clock:           o.Clock,
		maxDepth:        o.MaxDepth,
		jobRetries:      o.JobRetries,
		interceptors:    slices.Clone(o.Interceptors),
		jobHandlers:     make(map[string]JobHandler),
		services:        make(map[string]ServiceFn),
		delegates:       make(map[string]DelegateFn),
		messageHandlers: make(map[string]MessageHandlerFn),
	}
	e.RegisterJobHandler(asyncContinuationHandler{})
	e.RegisterJobHandler(timerHandler{})
	if b, ok := o.Scheduler.(interface{ bind(*Engine) }); ok {
		b.bind(e)
	}
	return e, nil
}

// Store returns the store the engine works on.
func (c *Engine) Store() *storage.Store { return c.store }

// Now returns the engine clock.
func (c *Engine) Now() time.Time { return c.clock() }

// RegisterInterceptor adds a command interceptor.
func (c *Engine) RegisterInterceptor(ic Interceptor) {
	c.rwmx.Lock()
	defer c.rwmx.Unlock()
	c.interceptors = append(c.interceptors, ic)
}

// interceptorChain returns the interceptors outermost first.
func (c *Engine) interceptorChain() []Interceptor {
	c.rwmx.RLock()
	chain := slices.Clone(c.interceptors)
	c.rwmx.RUnlock()
	slices.SortStableFunc(chain, func(a, b Interceptor) int {
		return cmp.Compare(b.Priority(), a.Priority())
	})
	return chain
}

// RegisterJobHandler adds or replaces the handler of a job type.
func (c *Engine) RegisterJobHandler(h JobHandler) {
	c.rwmx.Lock()
	defer c.rwmx.Unlock()
	c.jobHandlers[h.Type()] = h
}

func (c *Engine) jobHandler(handlerType string) (JobHandler, bool) {
	c.rwmx.RLock()
	defer c.rwmx.RUnlock()
	h, ok := c.jobHandlers[handlerType]
	return h, ok
}

// RegisterServiceTask binds the service task nodeID of process processKey to fn.
func (c *Engine) RegisterServiceTask(processKey string, nodeID string, fn ServiceFn) {
	c.rwmx.Lock()
	defer c.rwmx.Unlock()
	c.services[processKey+"/"+nodeID] = fn
}

func (c *Engine) serviceHandler(processKey string, nodeID string) (ServiceFn, bool) {
	c.rwmx.RLock()
	defer c.rwmx.RUnlock()
	fn, ok := c.services[processKey+"/"+nodeID]
	return fn, ok
}

// RegisterDelegate makes fn available to delegate tasks under name.
func (c *Engine) RegisterDelegate(name string, fn DelegateFn) {
	c.rwmx.Lock()
	defer c.rwmx.Unlock()
	c.delegates[name] = fn
}

func (c *Engine) delegate(name string) (DelegateFn, bool) {
	c.rwmx.RLock()
	defer c.rwmx.RUnlock()
	fn, ok := c.delegates[name]
	return fn, ok
}

// RegisterMessageHandler binds the message throw or end event nodeID of process processKey to fn.
func (c *Engine) RegisterMessageHandler(processKey string, nodeID string, fn MessageHandlerFn) {
	c.rwmx.Lock()
	defer c.rwmx.Unlock()
	c.messageHandlers[processKey+"/"+nodeID] = fn
}

func (c *Engine) messageHandler(processKey string, nodeID string) (MessageHandlerFn, bool) {
	c.rwmx.RLock()
	defer c.rwmx.RUnlock()
	fn, ok := c.messageHandlers[processKey+"/"+nodeID]
	return fn, ok
}

// Deploy stores documents and the process definitions parsed from them.
func (c *Engine) Deploy(ctx context.Context, name string, resources ...Resource) (*Deployment, error) {
	res, err := c.ExecuteCommand(ctx, &DeployCommand{Deployment: name, Resources: resources})
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", name, err)
	}
	return res.(*Deployment), nil
}

// StartProcessInstance starts an instance of a definition and returns the process instance id.
func (c *Engine) StartProcessInstance(ctx context.Context, definitionID string, vars model.Vars, businessKey string) (uuid.UUID, error) {
	return c.start(ctx, &StartProcessInstanceCommand{DefinitionID: definitionID, Variables: vars, BusinessKey: businessKey})
}

// StartProcessInstanceByKey starts an instance of the latest definition of a process key.
func (c *Engine) StartProcessInstanceByKey(ctx context.Context, processKey string, vars model.Vars, businessKey string) (uuid.UUID, error) {
	return c.start(ctx, &StartProcessInstanceCommand{ProcessKey: processKey, Variables: vars, BusinessKey: businessKey})
}

// StartProcessInstanceByMessage starts the one definition whose message start event awaits message.
func (c *Engine) StartProcessInstanceByMessage(ctx context.Context, message string, vars model.Vars, businessKey string) (uuid.UUID, error) {
	return c.start(ctx, &StartProcessInstanceCommand{Message: message, Variables: vars, BusinessKey: businessKey})
}

func (c *Engine) start(ctx context.Context, cmd *StartProcessInstanceCommand) (uuid.UUID, error) {
	res, err := c.ExecuteCommand(ctx, cmd)
	if err != nil {
		return uuid.Nil, fmt.Errorf("start process instance: %w", err)
	}
	return res.(uuid.UUID), nil
}

// Signal resumes a waiting execution. A nil signal means plain completion.
func (c *Engine) Signal(ctx context.Context, executionID uuid.UUID, signal *string, vars model.Vars) error {
	if _, err := c.ExecuteCommand(ctx, &SignalExecutionCommand{ExecutionID: executionID, Signal: signal, Variables: vars}); err != nil {
		return fmt.Errorf("signal execution %s: %w", executionID, err)
	}
	return nil
}

// SignalEventReceived broadcasts a signal. With a non nil executionID only that execution receives it.
// It returns the number of deliveries, process starts included.
func (c *Engine) SignalEventReceived(ctx context.Context, signal string, executionID uuid.UUID, vars model.Vars) (int, error) {
	res, err := c.ExecuteCommand(ctx, &SignalEventReceivedCommand{Signal: signal, ExecutionID: executionID, Variables: vars})
	if err != nil {
		return 0, fmt.Errorf("signal %s: %w", signal, err)
	}
	return res.(int), nil
}

// MessageEventReceived delivers a message to the execution waiting for it. A nil executionID
// correlates by name alone, which must identify a single execution.
func (c *Engine) MessageEventReceived(ctx context.Context, message string, executionID uuid.UUID, vars model.Vars) error {
	if _, err := c.ExecuteCommand(ctx, &MessageEventReceivedCommand{Message: message, ExecutionID: executionID, Variables: vars}); err != nil {
		return fmt.Errorf("deliver message %s: %w", message, err)
	}
	return nil
}

// CompleteUserTask completes an open task with the given variables.
func (c *Engine) CompleteUserTask(ctx context.Context, taskID string, vars model.Vars) error {
	if _, err := c.ExecuteCommand(ctx, &CompleteUserTaskCommand{TaskID: taskID, Variables: vars}); err != nil {
		return fmt.Errorf("complete user task %s: %w", taskID, err)
	}
	return nil
}

// CancelProcessInstance terminates a whole process instance.
func (c *Engine) CancelProcessInstance(ctx context.Context, processInstanceID uuid.UUID) error {
	if _, err := c.ExecuteCommand(ctx, &CancelProcessInstanceCommand{ProcessInstanceID: processInstanceID}); err != nil {
		return fmt.Errorf("cancel process instance %s: %w", processInstanceID, err)
	}
	return nil
}

// SetVariables writes variables through an execution, locally or into the visible scopes.
func (c *Engine) SetVariables(ctx context.Context, executionID uuid.UUID, vars model.Vars, local bool) error {
	if _, err := c.ExecuteCommand(ctx, &SetVariablesCommand{ExecutionID: executionID, Variables: vars, Local: local}); err != nil {
		return fmt.Errorf("set variables of %s: %w", executionID, err)
	}
	return nil
}

// SetJobRetries sets the remaining attempts of a job.
func (c *Engine) SetJobRetries(ctx context.Context, jobID string, retries int) error {
	if _, err := c.ExecuteCommand(ctx, &SetJobRetriesCommand{JobID: jobID, Retries: retries}); err != nil {
		return fmt.Errorf("set retries of job %s: %w", jobID, err)
	}
	return nil
}

// ExecuteJob runs a job in its own transaction. When the handler fails, a second transaction records the
// failure, takes one retry and releases the lock. Fatal failures use up every retry.
func (c *Engine) ExecuteJob(ctx context.Context, jobID string, owner string) error {
	_, err := c.ExecuteCommand(ctx, &ExecuteJobCommand{JobID: jobID, Owner: owner})
	if err == nil {
		return nil
	}
	if errors2.Is(err, errors.ErrJobLockLost) || errors2.Is(err, errors.ErrNoJobRetries) || errors.IsNotFound(err) {
		return err
	}
	fatal := errors.IsFatal(err)
	if ferr := c.store.Update(ctx, func(tx *storage.Tx) error {
		if fatal {
			if err := tx.SetJobRetries(ctx, jobID, 0); err != nil {
				return err
			}
		}
		return tx.FailJob(ctx, jobID, err.Error())
	}); ferr != nil {
		logx.FromContext(ctx).Error("record job failure", slog.String(keys.JobID, jobID), slog.Any("error", ferr))
	}
	return fmt.Errorf("execute job %s: %w: %w", jobID, errors.ErrJobFailed, err)
}

// AcquireJobs claims up to limit due jobs for owner until lockTimeout has passed.
func (c *Engine) AcquireJobs(ctx context.Context, owner string, limit int, lockTimeout time.Duration) ([]*Job, error) {
	var jobs []*Job
	err := c.store.Update(ctx, func(tx *storage.Tx) error {
		rows, err := tx.AcquireJobs(ctx, owner, c.clock().UnixMilli(), limit, lockTimeout.Milliseconds())
		if err != nil {
			return err
		}
		for _, r := range rows {
			j, err := jobFromRow(r)
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("acquire jobs: %w", err)
	}
	return jobs, nil
}

// UnlockJob releases the claim on a job without executing it.
func (c *Engine) UnlockJob(ctx context.Context, jobID string) error {
	if err := c.store.Update(ctx, func(tx *storage.Tx) error {
		return tx.UnlockJob(ctx, jobID)
	}); err != nil {
		return fmt.Errorf("unlock job %s: %w", jobID, err)
	}
	return nil
}
