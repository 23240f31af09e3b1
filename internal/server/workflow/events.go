package workflow

import (
	"context"
	"fmt"
	"gitlab.com/shar-workflow/bpmnrt/common/element"
	"gitlab.com/shar-workflow/bpmnrt/common/expression"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"log/slog"
)

// StartEvent begins a process or a scope. Event is nil for a none start event.
type StartEvent struct {
	activity
	Event *EventDefinition
}

// Kind implements process.Behavior.
func (b *StartEvent) Kind() element.Kind {
	if b.Event == nil {
		return element.StartEvent
	}
	switch b.Event.Type {
	case storage.SubscriptionMessage:
		return element.MessageStartEvent
	case storage.SubscriptionSignal:
		return element.SignalStartEvent
	default:
		return element.TimerStartEvent
	}
}

// EndEvent ends the token that reaches it.
type EndEvent struct {
	activity
}

// Kind implements process.Behavior.
func (b *EndEvent) Kind() element.Kind { return element.EndEvent }

// Enter terminates the token and lets its parent complete.
func (b *EndEvent) Enter(ctx context.Context, ex *Execution) error {
	ex.tree.cc.notify(eventFor(EventActivityCompleted, ex))
	return ex.Terminate(true)
}

// TerminateEndEvent ends the whole enclosing scope.
type TerminateEndEvent struct {
	activity
}

// Kind implements process.Behavior.
func (b *TerminateEndEvent) Kind() element.Kind { return element.TerminateEndEvent }

// Enter terminates the scope root of the token.
func (b *TerminateEndEvent) Enter(ctx context.Context, ex *Execution) error {
	ex.tree.cc.notify(eventFor(EventActivityCompleted, ex))
	root := ex.ScopeRoot()
	root.setNode(ex.node)
	root.setTransition(ex.transition)
	return root.Terminate(true)
}

// MessageEndEvent throws a message and ends the token.
type MessageEndEvent struct {
	activity
	Message string
}

// Kind implements process.Behavior.
func (b *MessageEndEvent) Kind() element.Kind { return element.MessageEndEvent }

// Enter throws the message and terminates the token.
func (b *MessageEndEvent) Enter(ctx context.Context, ex *Execution) error {
	if err := throwMessage(ctx, ex, b.Message); err != nil {
		return err
	}
	ex.tree.cc.notify(eventFor(EventActivityCompleted, ex))
	return ex.Terminate(true)
}

// SignalEndEvent broadcasts a signal and ends the token.
type SignalEndEvent struct {
	activity
	Signal string
}

// Kind implements process.Behavior.
func (b *SignalEndEvent) Kind() element.Kind { return element.SignalEndEvent }

// Enter broadcasts the signal and terminates the token.
func (b *SignalEndEvent) Enter(ctx context.Context, ex *Execution) error {
	if err := throwSignal(ctx, ex, b.Signal); err != nil {
		return err
	}
	ex.tree.cc.notify(eventFor(EventActivityCompleted, ex))
	return ex.Terminate(true)
}

// IntermediateThrowEvent is a none throw event. It passes the token through.
type IntermediateThrowEvent struct {
	activity
}

// Kind implements process.Behavior.
func (b *IntermediateThrowEvent) Kind() element.Kind { return element.IntermediateThrowEvent }

// MessageThrowEvent throws a message and continues.
type MessageThrowEvent struct {
	activity
	Message string
}

// Kind implements process.Behavior.
func (b *MessageThrowEvent) Kind() element.Kind { return element.MessageIntermediateThrowEvent }

// Enter throws the message and leaves.
func (b *MessageThrowEvent) Enter(ctx context.Context, ex *Execution) error {
	if err := throwMessage(ctx, ex, b.Message); err != nil {
		return err
	}
	return leave(ctx, ex, nil)
}

// SignalThrowEvent broadcasts a signal and continues.
type SignalThrowEvent struct {
	activity
	Signal string
}

// Kind implements process.Behavior.
func (b *SignalThrowEvent) Kind() element.Kind { return element.SignalIntermediateThrowEvent }

// Enter broadcasts the signal and leaves.
func (b *SignalThrowEvent) Enter(ctx context.Context, ex *Execution) error {
	if err := throwSignal(ctx, ex, b.Signal); err != nil {
		return err
	}
	return leave(ctx, ex, nil)
}

// LinkThrowEvent jumps to the link catch event of the same name in the same scope.
type LinkThrowEvent struct {
	activity
	Link string
}

// Kind implements process.Behavior.
func (b *LinkThrowEvent) Kind() element.Kind { return element.LinkIntermediateThrowEvent }

// Enter moves the token to the matching catch event.
func (b *LinkThrowEvent) Enter(ctx context.Context, ex *Execution) error {
	for _, n := range ex.model.NodesInScope(ex.node.Parent) {
		if c, ok := n.Behavior.(*LinkCatchEvent); ok && c.Link == b.Link {
			ex.tree.cc.notify(eventFor(EventActivityCompleted, ex))
			return ex.Execute(n)
		}
	}
	return errors.Fatalf("link %q thrown by %s has no catch event: %w", b.Link, ex.node.ID, errors.ErrInvalidModel)
}

// LinkCatchEvent is where a link throw lands. It passes the token through.
type LinkCatchEvent struct {
	activity
	Link string
}

// Kind implements process.Behavior.
func (b *LinkCatchEvent) Kind() element.Kind { return element.LinkIntermediateCatchEvent }

// IntermediateCatchEvent waits for a message, a signal or a timer.
type IntermediateCatchEvent struct {
	activity
	Event EventDefinition
}

// Kind implements process.Behavior.
func (b *IntermediateCatchEvent) Kind() element.Kind {
	switch b.Event.Type {
	case storage.SubscriptionMessage:
		return element.MessageIntermediateCatchEvent
	case storage.SubscriptionSignal:
		return element.SignalIntermediateCatchEvent
	default:
		return element.TimerIntermediateCatchEvent
	}
}

func (b *IntermediateCatchEvent) intermediateCatch() {}

// Enter subscribes to the event and waits.
func (b *IntermediateCatchEvent) Enter(ctx context.Context, ex *Execution) error {
	if err := b.CreateEventSubscriptions(ctx, ex, ex.node.ID, ex.node); err != nil {
		return err
	}
	ex.WaitForSignal()
	return nil
}

// CreateEventSubscriptions subscribes ex to the event on behalf of activityID.
func (b *IntermediateCatchEvent) CreateEventSubscriptions(ctx context.Context, ex *Execution, activityID string, node *process.Node) error {
	return b.Event.subscribe(ctx, ex, activityID, node.ID, false)
}

// ProcessSignal resumes the token. A token that arrived through an event based gateway first lets the
// gateway withdraw its other subscriptions.
func (b *IntermediateCatchEvent) ProcessSignal(ctx context.Context, ex *Execution, signal *string, vars model.Vars, delegation *Delegation) error {
	if !b.Event.accepts(signal) {
		return errors.Fatalf("catch event %s received %q: %w", ex.node.ID, *signal, errors.ErrSignalMismatch)
	}
	if delegation != nil && delegation.NodeID != "" && delegation.NodeID != ex.node.ID {
		gw, ok := ex.model.FindNode(delegation.NodeID)
		if !ok {
			return errors.Fatalf("catch event %s delegated by unknown node %s: %w", ex.node.ID, delegation.NodeID, errors.ErrInvalidModel)
		}
		sp, ok := gw.Behavior.(SignalProcessor)
		if !ok {
			return errors.Fatalf("catch event %s delegated by %s: %w", ex.node.ID, gw.ID, errors.ErrUnknownBehavior)
		}
		if err := sp.ProcessSignal(ctx, ex, signal, vars, &Delegation{NodeID: ex.node.ID}); err != nil {
			return err
		}
	}
	ex.SetVariables(vars)
	return leave(ctx, ex, nil)
}

// BoundaryEvent is attached to an activity and fires while a token is at that activity.
type BoundaryEvent struct {
	activity
	AttachedTo   string
	Event        EventDefinition
	Interrupting bool
}

// Kind implements process.Behavior.
func (b *BoundaryEvent) Kind() element.Kind {
	switch b.Event.Type {
	case storage.SubscriptionMessage:
		return element.MessageBoundaryEvent
	case storage.SubscriptionSignal:
		return element.SignalBoundaryEvent
	default:
		return element.TimerBoundaryEvent
	}
}

// Enter is never called: boundary events are reached through Trigger.
func (b *BoundaryEvent) Enter(ctx context.Context, ex *Execution) error {
	return errors.Fatalf("boundary event %s entered by a sequence flow: %w", ex.node.ID, errors.ErrInvalidModel)
}

// CreateEventSubscriptions subscribes the token at the attached activity.
func (b *BoundaryEvent) CreateEventSubscriptions(ctx context.Context, ex *Execution, activityID string, node *process.Node) error {
	return b.Event.subscribe(ctx, ex, activityID, node.ID, true)
}

// Trigger fires the boundary event for the token ex positioned at the attached activity.
func (b *BoundaryEvent) Trigger(ctx context.Context, ex *Execution, signal *string, vars model.Vars, delegation *Delegation) error {
	node, ok := ex.model.FindNode(delegation.NodeID)
	if !ok {
		return errors.Fatalf("trigger unknown boundary event %s: %w", delegation.NodeID, errors.ErrInvalidModel)
	}
	if ex.node == nil || ex.node.ID != b.AttachedTo {
		logx.FromContext(ctx).Debug("boundary event fired after its activity was left", slog.String(keys.ElementID, node.ID), slog.String(keys.ExecutionID, ex.id.String()))
		return nil
	}
	cc := ex.tree.cc
	if b.Interrupting {
		attached := ex.node
		if sc, ok := attached.Behavior.(SubscriptionClearer); ok {
			if err := sc.ClearEventSubscriptions(ctx, ex, attached.ID); err != nil {
				return fmt.Errorf("interrupt %s: %w", attached.ID, err)
			}
		}
		if err := cc.cancelTasks(ctx, ex); err != nil {
			return fmt.Errorf("interrupt %s: %w", attached.ID, err)
		}
		for _, c := range ex.Children() {
			if err := c.Terminate(false); err != nil {
				return fmt.Errorf("interrupt %s: %w", attached.ID, err)
			}
		}
		cc.notify(eventFor(EventActivityCanceled, ex))
		ex.setNode(node)
		ex.setTransition(nil)
		ex.setState(StateWait, false)
		ex.SetActive(true)
		ex.SetVariables(vars)
		cc.notify(eventFor(EventActivityStarted, ex))
		return leave(ctx, ex, nil)
	}
	root := ex
	if ex.IsConcurrent() {
		root = ex.Parent()
	}
	c := root.CreateExecution(true)
	c.setNode(node)
	c.setTransition(nil)
	c.SetVariables(vars)
	if b.Event.Type != storage.SubscriptionTimer {
		if err := b.Event.subscribe(ctx, ex, b.AttachedTo, node.ID, true); err != nil {
			return err
		}
	}
	cc.notify(eventFor(EventActivityStarted, c))
	return leave(ctx, c, nil)
}

func throwMessage(ctx context.Context, ex *Execution, message string) error {
	cc := ex.tree.cc
	name, err := expression.EvalString(ctx, cc.engine.exprEng, message, ex.Variables())
	if err != nil {
		return fmt.Errorf("throw message from %s: %w", ex.node.ID, err)
	}
	ev := eventFor(EventMessageThrown, ex)
	ev.Name = name
	cc.notify(ev)
	h, ok := cc.engine.messageHandler(ex.model.Key, ex.node.ID)
	if !ok {
		return nil
	}
	msg := ThrownMessage{
		Name:              name,
		ProcessKey:        ex.model.Key,
		NodeID:            ex.node.ID,
		ExecutionID:       ex.id,
		ProcessInstanceID: ex.processID,
		BusinessKey:       ex.businessKey,
		Variables:         ex.Variables(),
	}
	if err := h(ctx, cc, msg); err != nil {
		return fmt.Errorf("message handler for %s: %w", ex.node.ID, err)
	}
	return nil
}

func throwSignal(ctx context.Context, ex *Execution, signal string) error {
	cc := ex.tree.cc
	name, err := expression.EvalString(ctx, cc.engine.exprEng, signal, ex.Variables())
	if err != nil {
		return fmt.Errorf("throw signal from %s: %w", ex.node.ID, err)
	}
	ev := eventFor(EventSignalThrown, ex)
	ev.Name = name
	cc.notify(ev)
	cc.PushCommand(&SignalEventReceivedCommand{Signal: name})
	return nil
}
