package workflow

import (
	"context"
	"github.com/google/uuid"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"log/slog"
)

type defaultPriority struct{}

// Priority returns PriorityDefault.
func (defaultPriority) Priority() int { return PriorityDefault }

// ExecuteNodeCommand moves an execution into a node and runs the node's behavior.
type ExecuteNodeCommand struct {
	defaultPriority
	ExecutionID uuid.UUID
	NodeID      string
	// FromJob is set when an async continuation job enters the node.
	FromJob bool
}

// Name implements Command.
func (c *ExecuteNodeCommand) Name() string { return "ExecuteNode" }

// Execute implements Command.
func (c *ExecuteNodeCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	ex, err := cc.FindExecution(ctx, c.ExecutionID)
	if err != nil {
		return nil, err
	}
	if ex.IsTerminated() {
		logx.FromContext(ctx).Debug("skip node for terminated execution", slog.String(keys.ExecutionID, ex.id.String()), slog.String(keys.ElementID, c.NodeID))
		return nil, nil
	}
	node, ok := ex.model.FindNode(c.NodeID)
	if !ok {
		return nil, errors.Fatalf("execute unknown node %s of %s: %w", c.NodeID, ex.model.Key, errors.ErrInvalidModel)
	}
	if node.AsyncBefore && !c.FromJob {
		ex.setNode(node)
		_, err := cc.ScheduleJob(ctx, ex, JobTypeAsyncContinuation, asyncContinuation{NodeID: node.ID}, nil)
		return nil, err
	}
	if needsHandoff(ex, node) {
		token := ex.CreateExecution(true)
		ex.SetActive(false)
		ex = token
	}
	ex.setNode(node)
	ex.setState(StateWait, false)
	ex.SetActive(true)
	cc.notify(eventFor(EventActivityStarted, ex))
	for _, b := range ex.model.FindAttached(node.ID) {
		if sc, ok := b.Behavior.(SubscriptionCreator); ok {
			if err := sc.CreateEventSubscriptions(ctx, ex, node.ID, b); err != nil {
				return nil, err
			}
		}
	}
	en, ok := node.Behavior.(Enterer)
	if !ok {
		return nil, errors.Fatalf("node %s (%s): %w", node.ID, node.Kind(), errors.ErrUnknownBehavior)
	}
	return nil, en.Enter(ctx, ex)
}

// TakeTransitionCommand moves an execution along a sequence flow.
type TakeTransitionCommand struct {
	defaultPriority
	ExecutionID  uuid.UUID
	TransitionID string
}

// Name implements Command.
func (c *TakeTransitionCommand) Name() string { return "TakeTransition" }

// Execute implements Command.
func (c *TakeTransitionCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	ex, err := cc.FindExecution(ctx, c.ExecutionID)
	if err != nil {
		return nil, err
	}
	if ex.IsTerminated() {
		logx.FromContext(ctx).Debug("skip transition for terminated execution", slog.String(keys.ExecutionID, ex.id.String()), slog.String(keys.TransitionID, c.TransitionID))
		return nil, nil
	}
	t, ok := ex.model.FindTransition(c.TransitionID)
	if !ok {
		return nil, errors.Fatalf("take unknown transition %s of %s: %w", c.TransitionID, ex.model.Key, errors.ErrInvalidModel)
	}
	target, ok := ex.model.FindNode(t.To)
	if !ok {
		return nil, errors.Fatalf("transition %s leads to unknown node %s: %w", t.ID, t.To, errors.ErrInvalidModel)
	}
	ex.setTransition(t)
	cc.notify(eventFor(EventTransitionTaken, ex))
	return nil, ex.Execute(target)
}

// SignalExecutionCommand resumes a waiting execution.
type SignalExecutionCommand struct {
	defaultPriority
	ExecutionID uuid.UUID
	Signal      *string
	Variables   model.Vars
	Delegation  *Delegation
}

// Name implements Command.
func (c *SignalExecutionCommand) Name() string { return "SignalExecution" }

// Execute implements Command.
func (c *SignalExecutionCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	ex, err := cc.FindExecution(ctx, c.ExecutionID)
	if err != nil {
		return nil, err
	}
	if ex.IsTerminated() {
		logx.FromContext(ctx).Debug("skip signal for terminated execution", slog.String(keys.ExecutionID, ex.id.String()))
		return nil, nil
	}
	if c.Delegation != nil && c.Delegation.NodeID != "" {
		if n, ok := ex.model.FindNode(c.Delegation.NodeID); ok {
			if tr, ok := n.Behavior.(Triggerable); ok {
				return nil, tr.Trigger(ctx, ex, c.Signal, c.Variables, c.Delegation)
			}
		}
	}
	if ex.node == nil {
		return nil, errors.Fatalf("signal %s before it entered a node: %w", ex.id, errors.ErrSignalMismatch)
	}
	if !ex.IsWaiting() {
		return nil, errors.Fatalf("signal %s at %s which is not waiting: %w", ex.id, ex.node.ID, errors.ErrSignalMismatch)
	}
	sp, ok := ex.node.Behavior.(SignalProcessor)
	if !ok {
		return nil, errors.Fatalf("node %s (%s) cannot be signalled: %w", ex.node.ID, ex.node.Kind(), errors.ErrUnknownBehavior)
	}
	ex.setState(StateWait, false)
	return nil, sp.ProcessSignal(ctx, ex, c.Signal, c.Variables, c.Delegation)
}
