package workflow

import (
	"context"
	"fmt"
	"gitlab.com/shar-workflow/bpmnrt/common/element"
	"gitlab.com/shar-workflow/bpmnrt/common/expression"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"slices"
)

// ExclusiveGateway takes the first outgoing transition whose condition holds, in declaration order.
type ExclusiveGateway struct {
	activity
}

// Kind implements process.Behavior.
func (b *ExclusiveGateway) Kind() element.Kind { return element.ExclusiveGateway }

// CloneBehavior implements process.Cloner.
func (b *ExclusiveGateway) CloneBehavior() process.Behavior {
	c := *b
	return &c
}

// Enter selects one transition and leaves through it.
func (b *ExclusiveGateway) Enter(ctx context.Context, ex *Execution) error {
	vars := ex.Variables()
	var fallback *process.Transition
	for _, t := range ex.model.Outgoing(ex.node.ID) {
		if t.ID == b.defaultFlow {
			fallback = t
			continue
		}
		ok, err := conditionHolds(ctx, ex, t, vars)
		if err != nil {
			return err
		}
		if ok {
			return leave(ctx, ex, []*process.Transition{t})
		}
	}
	if fallback != nil {
		return leave(ctx, ex, []*process.Transition{fallback})
	}
	return errors.Fatalf("exclusive gateway %s: %w", ex.node.ID, errors.ErrNoOutgoingTransition)
}

// InclusiveGateway takes every outgoing transition whose condition holds. As a join it waits for the
// tokens that can still arrive.
type InclusiveGateway struct {
	activity
}

// Kind implements process.Behavior.
func (b *InclusiveGateway) Kind() element.Kind { return element.InclusiveGateway }

// CloneBehavior implements process.Cloner.
func (b *InclusiveGateway) CloneBehavior() process.Behavior {
	c := *b
	return &c
}

// Enter joins the arriving token and, once the join fires, forks along the enabled transitions.
func (b *InclusiveGateway) Enter(ctx context.Context, ex *Execution) error {
	ex.SetActive(false)
	node := ex.node
	incoming := ex.model.Incoming(node.ID)
	arrivals := joinArrivals(ex)
	if !covers(incoming, arrivals) {
		pending := make(map[*Execution]struct{})
		for _, group := range arrivals {
			for _, a := range group {
				pending[a] = struct{}{}
			}
		}
		for _, c := range concurrentRoot(ex).concurrentChildren() {
			if _, ok := pending[c]; ok || c.node == nil {
				continue
			}
			if c.node.ID == node.ID || ex.model.CanReach(c.node.ID, node.ID) {
				return nil
			}
		}
	}
	recycle := consume(ex, incoming, arrivals)

	vars := ex.Variables()
	var selected []*process.Transition
	var fallback *process.Transition
	for _, t := range ex.model.Outgoing(node.ID) {
		if t.ID == b.defaultFlow {
			fallback = t
			continue
		}
		ok, err := conditionHolds(ctx, ex, t, vars)
		if err != nil {
			return err
		}
		if ok {
			selected = append(selected, t)
		}
	}
	if len(selected) == 0 && fallback != nil {
		selected = append(selected, fallback)
	}
	if len(selected) == 0 {
		if len(ex.model.Outgoing(node.ID)) == 0 {
			return leave(ctx, ex, []*process.Transition{}, recycle...)
		}
		return errors.Fatalf("inclusive gateway %s: %w", node.ID, errors.ErrNoOutgoingTransition)
	}
	return leave(ctx, ex, selected, recycle...)
}

// ParallelGateway forks along every outgoing transition and joins one token per incoming transition.
type ParallelGateway struct {
	activity
}

// Kind implements process.Behavior.
func (b *ParallelGateway) Kind() element.Kind { return element.ParallelGateway }

// Enter parks the arriving token until every incoming transition has delivered one, then forks.
func (b *ParallelGateway) Enter(ctx context.Context, ex *Execution) error {
	ex.SetActive(false)
	incoming := ex.model.Incoming(ex.node.ID)
	arrivals := joinArrivals(ex)
	if !covers(incoming, arrivals) {
		return nil
	}
	recycle := consume(ex, incoming, arrivals)
	return leave(ctx, ex, ex.model.Outgoing(ex.node.ID), recycle...)
}

// EventBasedGateway waits for whichever of the catch events behind it fires first.
type EventBasedGateway struct {
	activity
}

// Kind implements process.Behavior.
func (b *EventBasedGateway) Kind() element.Kind { return element.EventBasedGateway }

// Enter subscribes to the event of every catch event behind the gateway and waits.
func (b *EventBasedGateway) Enter(ctx context.Context, ex *Execution) error {
	for _, t := range ex.model.Outgoing(ex.node.ID) {
		target, ok := ex.model.FindNode(t.To)
		if !ok {
			return errors.Fatalf("event based gateway %s: unknown target %s: %w", ex.node.ID, t.To, errors.ErrInvalidModel)
		}
		ic, ok := target.Behavior.(IntermediateCatch)
		if !ok {
			return errors.Fatalf("event based gateway %s: %s is not an intermediate catch event: %w", ex.node.ID, t.To, errors.ErrInvalidModel)
		}
		if err := ic.CreateEventSubscriptions(ctx, ex, ex.node.ID, target); err != nil {
			return fmt.Errorf("event based gateway %s: %w", ex.node.ID, err)
		}
	}
	ex.WaitForSignal()
	return nil
}

// ProcessSignal withdraws the remaining subscriptions once a catch event behind the gateway fired.
// Only catch events may signal the gateway.
func (b *EventBasedGateway) ProcessSignal(ctx context.Context, ex *Execution, signal *string, vars model.Vars, delegation *Delegation) error {
	if delegation == nil || delegation.NodeID == "" {
		return errors.Fatalf("event based gateway at %s: %w", ex.id, errors.ErrEventGatewaySignaledDirectly)
	}
	_, err := ex.tree.cc.ExecuteCommand(ctx, &ClearEventSubscriptionsCommand{ExecutionID: ex.id, ActivityID: b.gatewayID(ex, delegation)})
	return err
}

func (b *EventBasedGateway) gatewayID(ex *Execution, delegation *Delegation) string {
	for _, t := range ex.model.Incoming(delegation.NodeID) {
		if n, ok := ex.model.FindNode(t.From); ok && n.Behavior == process.Behavior(b) {
			return n.ID
		}
	}
	return delegation.NodeID
}

func conditionHolds(ctx context.Context, ex *Execution, t *process.Transition, vars model.Vars) (bool, error) {
	if t.Condition == "" {
		return true, nil
	}
	ok, err := expression.EvalBool(ctx, ex.tree.cc.engine.exprEng, t.Condition, vars)
	if err != nil {
		return false, fmt.Errorf("evaluate condition of %s: %w", t.ID, err)
	}
	return ok, nil
}

func concurrentRoot(ex *Execution) *Execution {
	if ex.IsConcurrent() {
		return ex.Parent()
	}
	return ex
}

// joinArrivals groups the inactive tokens waiting at the node of ex by the transition they arrived on.
func joinArrivals(ex *Execution) map[string][]*Execution {
	arrivals := make(map[string][]*Execution)
	add := func(e *Execution) {
		key := ""
		if e.transition != nil {
			key = e.transition.ID
		}
		arrivals[key] = append(arrivals[key], e)
	}
	add(ex)
	if !ex.IsConcurrent() {
		return arrivals
	}
	for _, c := range ex.Parent().concurrentChildren() {
		if c == ex || c.IsActive() || c.node == nil || c.node.ID != ex.node.ID {
			continue
		}
		add(c)
	}
	return arrivals
}

func covers(incoming []*process.Transition, arrivals map[string][]*Execution) bool {
	if len(incoming) <= 1 {
		return true
	}
	for _, t := range incoming {
		if len(arrivals[t.ID]) == 0 {
			return false
		}
	}
	return true
}

// consume picks one arrival per incoming transition, ex first. Extra arrivals stay for the next round.
func consume(ex *Execution, incoming []*process.Transition, arrivals map[string][]*Execution) []*Execution {
	recycle := []*Execution{ex}
	for _, t := range incoming {
		for _, a := range arrivals[t.ID] {
			if a == ex {
				break
			}
			if !slices.Contains(recycle, a) {
				recycle = append(recycle, a)
				break
			}
		}
	}
	return recycle
}
