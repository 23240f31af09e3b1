package workflow

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"gitlab.com/shar-workflow/bpmnrt/common/element"
	"gitlab.com/shar-workflow/bpmnrt/common/expression"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"gitlab.com/shar-workflow/bpmnrt/server/vars"
)

// SubProcess runs its contained nodes in a nested scope that shares the variables of its parent.
type SubProcess struct {
	activity
}

// Kind implements process.Behavior.
func (b *SubProcess) Kind() element.Kind { return element.SubProcess }

// Enter starts the nested scope and waits for it to complete.
func (b *SubProcess) Enter(ctx context.Context, ex *Execution) error {
	start, err := ex.model.FindStartNode(ex.node.ID)
	if err != nil {
		return fmt.Errorf("enter sub-process %s: %w", ex.node.ID, err)
	}
	nested := ex.CreateNestedExecution(ex.model, ex.definitionID, true)
	ex.WaitForSignal()
	return startScope(ctx, nested, ex.node.ID, start)
}

// ProcessSignal leaves once the nested scope completed.
func (b *SubProcess) ProcessSignal(ctx context.Context, ex *Execution, signal *string, vars model.Vars, delegation *Delegation) error {
	if delegation == nil || delegation.ExecutionID == uuid.Nil {
		return errors.Fatalf("sub-process %s resumed without its scope completing: %w", ex.node.ID, errors.ErrSignalMismatch)
	}
	ex.SetVariables(vars)
	return leave(ctx, ex, nil)
}

// CallActivity runs the latest definition of another process in an isolated nested scope.
type CallActivity struct {
	activity
	CalledElement string
	Inputs        []vars.Mapping
	Outputs       []vars.Mapping
}

// Kind implements process.Behavior.
func (b *CallActivity) Kind() element.Kind { return element.CallActivity }

// Enter starts the called process with the mapped input variables.
func (b *CallActivity) Enter(ctx context.Context, ex *Execution) error {
	cc := ex.tree.cc
	key, err := expression.EvalString(ctx, cc.engine.exprEng, b.CalledElement, ex.Variables())
	if err != nil {
		return fmt.Errorf("call activity %s: %w", ex.node.ID, err)
	}
	def, err := cc.tx.LatestDefinition(ctx, key)
	if err != nil {
		return fmt.Errorf("call activity %s: %w", ex.node.ID, err)
	}
	m, err := cc.model(ctx, def.ID)
	if err != nil {
		return fmt.Errorf("call activity %s: %w", ex.node.ID, err)
	}
	start, err := m.InitialNode()
	if err != nil {
		return fmt.Errorf("call activity %s: %w", ex.node.ID, err)
	}
	in, err := vars.ApplyMappings(ctx, cc.engine.exprEng, b.Inputs, ex.Variables())
	if err != nil {
		return fmt.Errorf("call activity %s: %w", ex.node.ID, err)
	}
	nested := ex.CreateNestedExecution(m, def.ID, true)
	for k, v := range in {
		nested.SetVariableLocal(k, v)
	}
	ex.WaitForSignal()
	return startScope(ctx, nested, "", start)
}

// ProcessSignal maps the output variables of the completed call and leaves.
func (b *CallActivity) ProcessSignal(ctx context.Context, ex *Execution, signal *string, v model.Vars, delegation *Delegation) error {
	if delegation == nil || delegation.ExecutionID == uuid.Nil {
		return errors.Fatalf("call activity %s resumed without the call completing: %w", ex.node.ID, errors.ErrSignalMismatch)
	}
	out, err := vars.ApplyMappings(ctx, ex.tree.cc.engine.exprEng, b.Outputs, v)
	if err != nil {
		return fmt.Errorf("call activity %s: %w", ex.node.ID, err)
	}
	ex.SetVariables(out)
	return leave(ctx, ex, nil)
}

// EventSubProcess runs when its start event fires while the enclosing scope is active.
// Interrupting ones cancel the scope's tokens first, others run beside them.
type EventSubProcess struct {
	activity
	Event        EventDefinition
	Interrupting bool
}

// Kind implements process.Behavior.
func (b *EventSubProcess) Kind() element.Kind { return element.EventSubProcess }

// Enter is never called: event sub-processes are started through Trigger.
func (b *EventSubProcess) Enter(ctx context.Context, ex *Execution) error {
	return errors.Fatalf("event sub-process %s entered by a sequence flow: %w", ex.node.ID, errors.ErrInvalidModel)
}

// CreateEventSubscriptions subscribes the scope execution to the start event.
func (b *EventSubProcess) CreateEventSubscriptions(ctx context.Context, ex *Execution, activityID string, node *process.Node) error {
	return b.Event.subscribe(ctx, ex, node.ID, node.ID, false)
}

// Trigger starts the event sub-process for the scope execution ex.
func (b *EventSubProcess) Trigger(ctx context.Context, ex *Execution, signal *string, v model.Vars, delegation *Delegation) error {
	node, ok := ex.model.FindNode(delegation.NodeID)
	if !ok {
		return errors.Fatalf("trigger unknown event sub-process %s: %w", delegation.NodeID, errors.ErrInvalidModel)
	}
	cc := ex.tree.cc
	owner := ex
	if b.Interrupting {
		for _, c := range ex.Children() {
			if err := c.Terminate(false); err != nil {
				return fmt.Errorf("interrupt scope for %s: %w", node.ID, err)
			}
		}
		if err := cc.clearSubscriptions(ctx, ex, ""); err != nil {
			return fmt.Errorf("interrupt scope for %s: %w", node.ID, err)
		}
		if err := cc.cancelTasks(ctx, ex); err != nil {
			return fmt.Errorf("interrupt scope for %s: %w", node.ID, err)
		}
		if err := cc.removeJobs(ctx, ex); err != nil {
			return fmt.Errorf("interrupt scope for %s: %w", node.ID, err)
		}
		if ex.node != nil {
			cc.notify(eventFor(EventActivityCanceled, ex))
		}
	} else {
		owner = ex.CreateExecution(true)
		if b.Event.Type != storage.SubscriptionTimer {
			if err := b.Event.subscribe(ctx, ex, node.ID, node.ID, false); err != nil {
				return err
			}
		}
	}
	owner.setNode(node)
	owner.setTransition(nil)
	owner.SetActive(true)
	owner.WaitForSignal()
	cc.notify(eventFor(EventActivityStarted, owner))

	start, err := owner.model.FindStartNode(node.ID)
	if err != nil {
		return fmt.Errorf("trigger event sub-process %s: %w", node.ID, err)
	}
	nested := owner.CreateNestedExecution(owner.model, owner.definitionID, true)
	for k, val := range v {
		nested.SetVariableLocal(k, val)
	}
	return startScope(ctx, nested, node.ID, start)
}

// ProcessSignal completes the event sub-process, which completes the token that ran it.
func (b *EventSubProcess) ProcessSignal(ctx context.Context, ex *Execution, signal *string, v model.Vars, delegation *Delegation) error {
	ex.SetVariables(v)
	ex.tree.cc.notify(eventFor(EventActivityCompleted, ex))
	return ex.Terminate(true)
}

// startScope subscribes the event sub-processes of a scope and executes its start node.
func startScope(ctx context.Context, scope *Execution, scopeID string, start *process.Node) error {
	for _, n := range scope.model.NodesInScope(scopeID) {
		if n.Kind() != element.EventSubProcess {
			continue
		}
		if sc, ok := n.Behavior.(SubscriptionCreator); ok {
			if err := sc.CreateEventSubscriptions(ctx, scope, n.ID, n); err != nil {
				return fmt.Errorf("start scope %s: %w", scopeID, err)
			}
		}
	}
	return scope.Execute(start)
}

// needsHandoff reports whether a non-concurrent token must hand its position to a concurrent child
// before entering node, so that tokens created by events can later run beside it.
func needsHandoff(ex *Execution, node *process.Node) bool {
	if ex.IsConcurrent() {
		return false
	}
	for _, a := range ex.model.FindAttached(node.ID) {
		if be, ok := a.Behavior.(*BoundaryEvent); ok && !be.Interrupting {
			return true
		}
	}
	if !ex.IsScopeRoot() {
		return false
	}
	for _, n := range ex.model.NodesInScope(ex.scopeNodeID()) {
		if esp, ok := n.Behavior.(*EventSubProcess); ok && !esp.Interrupting {
			return true
		}
	}
	return false
}
