package workflow

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"gitlab.com/shar-workflow/bpmnrt/common/expression"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
)

// Delegation tells a behavior why it is being signalled: by a completed child execution,
// or on behalf of another node such as a boundary event or a catch event behind an event based gateway.
type Delegation struct {
	ExecutionID uuid.UUID
	NodeID      string
	Variables   model.Vars
}

// Enterer is implemented by behaviors that can receive a token.
type Enterer interface {
	Enter(ctx context.Context, ex *Execution) error
}

// SignalProcessor is implemented by behaviors that resume a waiting token.
type SignalProcessor interface {
	ProcessSignal(ctx context.Context, ex *Execution, signal *string, vars model.Vars, delegation *Delegation) error
}

// SubscriptionCreator is implemented by behaviors that wait for events on behalf of an activity.
type SubscriptionCreator interface {
	CreateEventSubscriptions(ctx context.Context, ex *Execution, activityID string, node *process.Node) error
}

// SubscriptionClearer is implemented by behaviors that own event subscriptions.
type SubscriptionClearer interface {
	ClearEventSubscriptions(ctx context.Context, ex *Execution, activityID string) error
}

// IntermediateCatch is implemented by catch events that can follow an event based gateway.
type IntermediateCatch interface {
	SubscriptionCreator
	SignalProcessor
	intermediateCatch()
}

// Triggerable is implemented by behaviors that act on an execution positioned elsewhere:
// boundary events and event sub-processes.
type Triggerable interface {
	Trigger(ctx context.Context, ex *Execution, signal *string, vars model.Vars, delegation *Delegation) error
}

// activity provides the default behavior of every node: pass through on enter, apply variables and
// leave on signal, own no subscriptions of its own.
type activity struct {
	defaultFlow string
}

// DefaultFlow returns the id of the transition taken when no other is enabled.
func (a *activity) DefaultFlow() string { return a.defaultFlow }

// SetDefaultFlow sets the id of the transition taken when no other is enabled.
func (a *activity) SetDefaultFlow(id string) { a.defaultFlow = id }

// Enter leaves immediately.
func (a *activity) Enter(ctx context.Context, ex *Execution) error {
	return leave(ctx, ex, nil)
}

// ProcessSignal applies the variables and leaves.
func (a *activity) ProcessSignal(ctx context.Context, ex *Execution, signal *string, vars model.Vars, _ *Delegation) error {
	ex.SetVariables(vars)
	return leave(ctx, ex, nil)
}

// CreateEventSubscriptions creates nothing.
func (a *activity) CreateEventSubscriptions(context.Context, *Execution, string, *process.Node) error {
	return nil
}

// ClearEventSubscriptions removes every subscription the execution holds for the activity.
func (a *activity) ClearEventSubscriptions(ctx context.Context, ex *Execution, activityID string) error {
	_, err := ex.tree.cc.ExecuteCommand(ctx, &ClearEventSubscriptionsCommand{ExecutionID: ex.id, ActivityID: activityID})
	return err
}

type defaultFlower interface {
	DefaultFlow() string
}

// leave clears the subscriptions of the current node and moves on. A nil transitions slice takes every
// enabled outgoing transition. recycle lists arrivals at a join that may be reused as tokens.
func leave(ctx context.Context, ex *Execution, transitions []*process.Transition, recycle ...*Execution) error {
	node := ex.node
	if sc, ok := node.Behavior.(SubscriptionClearer); ok {
		if err := sc.ClearEventSubscriptions(ctx, ex, node.ID); err != nil {
			return fmt.Errorf("leave %s: %w", node.ID, err)
		}
	}
	ex.tree.cc.notify(eventFor(EventActivityCompleted, ex))
	if transitions == nil {
		var err error
		if transitions, err = enabledTransitions(ctx, ex, node); err != nil {
			return err
		}
	}
	return ex.TakeAll(transitions, recycle)
}

// enabledTransitions returns the outgoing transitions whose condition holds. The default flow is only
// returned when nothing else is enabled.
func enabledTransitions(ctx context.Context, ex *Execution, node *process.Node) ([]*process.Transition, error) {
	out := ex.model.Outgoing(node.ID)
	if len(out) == 0 {
		return []*process.Transition{}, nil
	}
	def := ""
	if df, ok := node.Behavior.(defaultFlower); ok {
		def = df.DefaultFlow()
	}
	var vars model.Vars
	ret := make([]*process.Transition, 0, len(out))
	var fallback *process.Transition
	for _, t := range out {
		if t.ID == def {
			fallback = t
			continue
		}
		if t.Condition == "" {
			ret = append(ret, t)
			continue
		}
		if vars == nil {
			vars = ex.Variables()
		}
		ok, err := expression.EvalBool(ctx, ex.tree.cc.engine.exprEng, t.Condition, vars)
		if err != nil {
			return nil, fmt.Errorf("evaluate condition of %s: %w", t.ID, err)
		}
		if ok {
			ret = append(ret, t)
		}
	}
	if len(ret) == 0 && fallback != nil {
		ret = append(ret, fallback)
	}
	if len(ret) == 0 {
		return nil, errors.Fatalf("leave %s: %w", node.ID, errors.ErrNoOutgoingTransition)
	}
	return ret, nil
}

// EventDefinition describes what a catching event waits for.
type EventDefinition struct {
	// Type is one of storage.SubscriptionSignal, storage.SubscriptionMessage or storage.SubscriptionTimer.
	Type string
	// Name is the message or signal name, a literal or an expression.
	Name         string
	TimeDate     string
	TimeDuration string
}

func (d EventDefinition) subscribe(ctx context.Context, ex *Execution, activityID string, nodeID string, boundary bool) error {
	cc := ex.tree.cc
	vars := ex.Variables()
	var cmd Command
	switch d.Type {
	case storage.SubscriptionTimer:
		at, err := cc.engine.timerDue(ctx, d, vars)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", nodeID, err)
		}
		cmd = &CreateTimerSubscriptionCommand{ExecutionID: ex.id, ActivityID: activityID, NodeID: nodeID, RunAt: at, Boundary: boundary}
	case storage.SubscriptionSignal, storage.SubscriptionMessage:
		name, err := expression.EvalString(ctx, cc.engine.exprEng, d.Name, vars)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", nodeID, err)
		}
		if d.Type == storage.SubscriptionSignal {
			cmd = &CreateSignalSubscriptionCommand{ExecutionID: ex.id, ActivityID: activityID, NodeID: nodeID, Signal: name, Boundary: boundary}
		} else {
			cmd = &CreateMessageSubscriptionCommand{ExecutionID: ex.id, ActivityID: activityID, NodeID: nodeID, Message: name, Boundary: boundary}
		}
	default:
		return errors.Fatalf("subscribe %s: event type %q: %w", nodeID, d.Type, errors.ErrInvalidModel)
	}
	_, err := cc.ExecuteCommand(ctx, cmd)
	return err
}

// accepts reports whether a signal may resume a token waiting for the event.
func (d EventDefinition) accepts(signal *string) bool {
	if signal == nil {
		return true
	}
	return d.Type != storage.SubscriptionTimer && (*signal == d.Name || expression.IsExpression(d.Name))
}
