package workflow

import (
	"context"
	"fmt"
	"gitlab.com/shar-workflow/bpmnrt/common/element"
	"gitlab.com/shar-workflow/bpmnrt/common/expression"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
)

// Task is a plain task. It passes the token through.
type Task struct {
	activity
}

// Kind implements process.Behavior.
func (b *Task) Kind() element.Kind { return element.Task }

// ManualTask is done outside the engine. It passes the token through.
type ManualTask struct {
	activity
}

// Kind implements process.Behavior.
func (b *ManualTask) Kind() element.Kind { return element.ManualTask }

// UserTask creates a task row for a person to complete and waits.
// Name, Assignee and Due may be expressions. Due evaluates to an ISO 8601 instant.
type UserTask struct {
	activity
	Name          string
	Documentation string
	Assignee      string
	Priority      int
	Due           string
}

// Kind implements process.Behavior.
func (b *UserTask) Kind() element.Kind { return element.UserTask }

// Enter creates the task and waits for its completion.
func (b *UserTask) Enter(ctx context.Context, ex *Execution) error {
	if _, err := ex.tree.cc.ExecuteCommand(ctx, &CreateUserTaskCommand{
		ExecutionID:   ex.id,
		TaskName:      b.Name,
		Documentation: b.Documentation,
		Assignee:      b.Assignee,
		TaskPriority:  b.Priority,
		Due:           b.Due,
	}); err != nil {
		return err
	}
	ex.WaitForSignal()
	return nil
}

// ProcessSignal completes the task. User tasks are only ever resumed without a signal name.
func (b *UserTask) ProcessSignal(ctx context.Context, ex *Execution, signal *string, vars model.Vars, _ *Delegation) error {
	if signal != nil {
		return errors.Fatalf("user task %s received %q: %w", ex.node.ID, *signal, errors.ErrSignalMismatch)
	}
	ex.SetVariables(vars)
	return leave(ctx, ex, nil)
}

// ServiceTask calls the handler registered for its process key and node id.
type ServiceTask struct {
	activity
}

// Kind implements process.Behavior.
func (b *ServiceTask) Kind() element.Kind { return element.ServiceTask }

// Enter runs the handler, stores the variables it returns and leaves.
func (b *ServiceTask) Enter(ctx context.Context, ex *Execution) error {
	cc := ex.tree.cc
	h, ok := cc.engine.serviceHandler(ex.model.Key, ex.node.ID)
	if !ok {
		return errors.Fatalf("service task %s of %s: %w", ex.node.ID, ex.model.Key, errors.ErrNoHandler)
	}
	out, err := h(ctx, ServiceCall{
		ProcessKey:        ex.model.Key,
		NodeID:            ex.node.ID,
		ExecutionID:       ex.id,
		ProcessInstanceID: ex.processID,
		BusinessKey:       ex.businessKey,
		Variables:         ex.Variables(),
	})
	if err != nil {
		return fmt.Errorf("service task %s: %w", ex.node.ID, err)
	}
	ex.SetVariables(out)
	return leave(ctx, ex, nil)
}

// ScriptTask evaluates an expression and optionally stores its result.
type ScriptTask struct {
	activity
	Script         string
	ResultVariable string
}

// Kind implements process.Behavior.
func (b *ScriptTask) Kind() element.Kind { return element.ScriptTask }

// Enter evaluates the script and leaves.
func (b *ScriptTask) Enter(ctx context.Context, ex *Execution) error {
	res, err := expression.EvalAny(ctx, ex.tree.cc.engine.exprEng, b.Script, ex.Variables())
	if err != nil {
		return fmt.Errorf("script task %s: %w", ex.node.ID, err)
	}
	if b.ResultVariable != "" {
		ex.SetVariable(b.ResultVariable, res)
	}
	return leave(ctx, ex, nil)
}

// DelegateTask hands the execution to the delegate registered under Delegate.
type DelegateTask struct {
	activity
	Delegate string
}

// Kind implements process.Behavior.
func (b *DelegateTask) Kind() element.Kind { return element.DelegateTask }

// Enter runs the delegate and leaves.
func (b *DelegateTask) Enter(ctx context.Context, ex *Execution) error {
	d, ok := ex.tree.cc.engine.delegate(b.Delegate)
	if !ok {
		return errors.Fatalf("delegate task %s: delegate %q: %w", ex.node.ID, b.Delegate, errors.ErrNoHandler)
	}
	if err := d(ctx, ex); err != nil {
		return fmt.Errorf("delegate task %s: %w", ex.node.ID, err)
	}
	return leave(ctx, ex, nil)
}

// ReceiveTask waits for a message.
type ReceiveTask struct {
	activity
	Message string
}

// Kind implements process.Behavior.
func (b *ReceiveTask) Kind() element.Kind { return element.ReceiveTask }

func (b *ReceiveTask) event() EventDefinition {
	return EventDefinition{Type: storage.SubscriptionMessage, Name: b.Message}
}

func (b *ReceiveTask) intermediateCatch() {}

// Enter subscribes to the message and waits.
func (b *ReceiveTask) Enter(ctx context.Context, ex *Execution) error {
	if err := b.CreateEventSubscriptions(ctx, ex, ex.node.ID, ex.node); err != nil {
		return err
	}
	ex.WaitForSignal()
	return nil
}

// CreateEventSubscriptions subscribes ex to the message on behalf of activityID.
func (b *ReceiveTask) CreateEventSubscriptions(ctx context.Context, ex *Execution, activityID string, node *process.Node) error {
	return b.event().subscribe(ctx, ex, activityID, node.ID, false)
}

// ProcessSignal accepts no signal name or the awaited message name.
func (b *ReceiveTask) ProcessSignal(ctx context.Context, ex *Execution, signal *string, vars model.Vars, _ *Delegation) error {
	if !b.event().accepts(signal) {
		return errors.Fatalf("receive task %s received %q: %w", ex.node.ID, *signal, errors.ErrSignalMismatch)
	}
	ex.SetVariables(vars)
	return leave(ctx, ex, nil)
}
