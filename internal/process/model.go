// Package process holds the immutable graph a process definition is made of.
package process

import (
	"fmt"
	"gitlab.com/shar-workflow/bpmnrt/common/element"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"slices"
)

// Behavior is the runtime logic bound to a node. The set of behaviors is closed: each one is tagged with its element kind,
// and the runtime discovers what a behavior can do through capability interfaces rather than concrete types.
type Behavior interface {
	Kind() element.Kind
}

// Cloner is implemented by behaviors that carry state which must not be shared between model copies.
type Cloner interface {
	CloneBehavior() Behavior
}

// Node binds an activity id to its behavior.
type Node struct {
	ID            string
	Name          string
	Documentation string
	Behavior      Behavior
	// Scope is set for nodes that run in their own variable scope (sub-process, call activity, event sub-process).
	Scope bool
	// Parent is the id of the sub-process that contains the node, empty at process level.
	Parent string
	// AsyncBefore makes the runtime enter the node from a job rather than synchronously.
	AsyncBefore bool
}

// Kind returns the element kind of the bound behavior.
func (n *Node) Kind() element.Kind {
	if n.Behavior == nil {
		return ""
	}
	return n.Behavior.Kind()
}

// Transition is a sequence flow between two nodes.
type Transition struct {
	ID        string
	Name      string
	From      string
	To        string
	Condition string
}

// Model is a process graph. It is built once and then only read; Clone hands out copies that can be used independently.
type Model struct {
	Key  string
	Name string

	nodes           map[string]*Node
	nodeOrder       []string
	transitions     map[string]*Transition
	transitionOrder []string
	outgoing        map[string][]string
	incoming        map[string][]string
	attached        map[string][]string
}

// New creates an empty model for the process key.
func New(key string, name string) *Model {
	return &Model{
		Key:         key,
		Name:        name,
		nodes:       make(map[string]*Node),
		transitions: make(map[string]*Transition),
		outgoing:    make(map[string][]string),
		incoming:    make(map[string][]string),
		attached:    make(map[string][]string),
	}
}

// AddNode adds a node to the model.
func (m *Model) AddNode(n *Node) error {
	if n.ID == "" {
		return fmt.Errorf("add node to %s: %w", m.Key, errors.Fatalf("node without id: %w", errors.ErrInvalidModel))
	}
	if _, ok := m.nodes[n.ID]; ok {
		return fmt.Errorf("add node %s: %w", n.ID, errors.Fatalf("duplicate node id: %w", errors.ErrInvalidModel))
	}
	m.nodes[n.ID] = n
	m.nodeOrder = append(m.nodeOrder, n.ID)
	return nil
}

// AddTransition adds a sequence flow to the model. Both ends must already exist.
func (m *Model) AddTransition(t *Transition) error {
	if _, ok := m.transitions[t.ID]; ok || t.ID == "" {
		return fmt.Errorf("add transition %q: %w", t.ID, errors.Fatalf("duplicate or empty transition id: %w", errors.ErrInvalidModel))
	}
	if _, ok := m.nodes[t.From]; !ok {
		return fmt.Errorf("add transition %s: %w", t.ID, errors.Fatalf("unknown source node %s: %w", t.From, errors.ErrInvalidModel))
	}
	if _, ok := m.nodes[t.To]; !ok {
		return fmt.Errorf("add transition %s: %w", t.ID, errors.Fatalf("unknown target node %s: %w", t.To, errors.ErrInvalidModel))
	}
	m.transitions[t.ID] = t
	m.transitionOrder = append(m.transitionOrder, t.ID)
	m.outgoing[t.From] = append(m.outgoing[t.From], t.ID)
	m.incoming[t.To] = append(m.incoming[t.To], t.ID)
	return nil
}

// Attach records a boundary node as attached to an activity.
func (m *Model) Attach(boundaryID string, activityID string) error {
	if _, ok := m.nodes[activityID]; !ok {
		return fmt.Errorf("attach %s: %w", boundaryID, errors.Fatalf("unknown activity %s: %w", activityID, errors.ErrInvalidModel))
	}
	m.attached[activityID] = append(m.attached[activityID], boundaryID)
	return nil
}

// FindNode returns the node with the given id.
func (m *Model) FindNode(id string) (*Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

// FindTransition returns the transition with the given id.
func (m *Model) FindTransition(id string) (*Transition, bool) {
	t, ok := m.transitions[id]
	return t, ok
}

// Nodes returns all nodes in declaration order.
func (m *Model) Nodes() []*Node {
	ret := make([]*Node, 0, len(m.nodeOrder))
	for _, id := range m.nodeOrder {
		ret = append(ret, m.nodes[id])
	}
	return ret
}

// Transitions returns all transitions in declaration order.
func (m *Model) Transitions() []*Transition {
	ret := make([]*Transition, 0, len(m.transitionOrder))
	for _, id := range m.transitionOrder {
		ret = append(ret, m.transitions[id])
	}
	return ret
}

// Outgoing returns the transitions leaving a node in declaration order.
func (m *Model) Outgoing(nodeID string) []*Transition {
	return m.lookup(m.outgoing[nodeID])
}

// Incoming returns the transitions arriving at a node in declaration order.
func (m *Model) Incoming(nodeID string) []*Transition {
	return m.lookup(m.incoming[nodeID])
}

func (m *Model) lookup(ids []string) []*Transition {
	ret := make([]*Transition, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, m.transitions[id])
	}
	return ret
}

// FindAttached returns the boundary nodes attached to an activity.
func (m *Model) FindAttached(activityID string) []*Node {
	ids := m.attached[activityID]
	ret := make([]*Node, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, m.nodes[id])
	}
	return ret
}

// NodesInScope returns the nodes directly contained by a sub-process, or the process level nodes for an empty scope id.
func (m *Model) NodesInScope(scopeID string) []*Node {
	var ret []*Node
	for _, id := range m.nodeOrder {
		if n := m.nodes[id]; n.Parent == scopeID {
			ret = append(ret, n)
		}
	}
	return ret
}

// FindStartNode returns the none start event of a scope.
// When the scope has no none start event but exactly one start event of another kind, that one is returned.
func (m *Model) FindStartNode(scopeID string) (*Node, error) {
	var none, other []*Node
	for _, n := range m.NodesInScope(scopeID) {
		switch {
		case n.Kind() == element.StartEvent:
			none = append(none, n)
		case n.Kind().IsStart():
			other = append(other, n)
		}
	}
	switch {
	case len(none) == 1:
		return none[0], nil
	case len(none) == 0 && len(other) == 1:
		return other[0], nil
	}
	scope := scopeID
	if scope == "" {
		scope = m.Key
	}
	return nil, errors.Fatalf("scope %s has %d none start events and %d other start events: %w", scope, len(none), len(other), errors.ErrMissingStartNode)
}

// InitialNode returns the node a new instance begins with.
func (m *Model) InitialNode() (*Node, error) {
	return m.FindStartNode("")
}

// CanReach reports whether a token at from can arrive at to by following sequence flows and boundary attachments.
func (m *Model) CanReach(from string, to string) bool {
	visited := map[string]struct{}{from: {}}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := slices.Clone(m.attached[cur])
		for _, tid := range m.outgoing[cur] {
			next = append(next, m.transitions[tid].To)
		}
		for _, id := range next {
			if id == to {
				return true
			}
			if _, ok := visited[id]; ok {
				continue
			}
			visited[id] = struct{}{}
			queue = append(queue, id)
		}
	}
	return false
}

// Validate checks structural rules every runnable model must satisfy.
func (m *Model) Validate() error {
	if _, err := m.InitialNode(); err != nil {
		return fmt.Errorf("validate %s: %w", m.Key, err)
	}
	for _, id := range m.nodeOrder {
		n := m.nodes[id]
		if n.Behavior == nil {
			return fmt.Errorf("validate %s: %w", m.Key, errors.Fatalf("node %s has no behavior: %w", n.ID, errors.ErrInvalidModel))
		}
		if n.Parent != "" {
			if _, ok := m.nodes[n.Parent]; !ok {
				return fmt.Errorf("validate %s: %w", m.Key, errors.Fatalf("node %s is inside unknown scope %s: %w", n.ID, n.Parent, errors.ErrInvalidModel))
			}
		}
		if n.Kind() == element.EventBasedGateway {
			if err := m.validEventGateway(n); err != nil {
				return fmt.Errorf("validate %s: %w", m.Key, err)
			}
		}
	}
	return nil
}

// validEventGateway checks that an event based gateway chooses between at least two catching nodes.
func (m *Model) validEventGateway(n *Node) error {
	out := m.outgoing[n.ID]
	if len(out) < 2 {
		return errors.Fatalf("event based gateway %s has %d outgoing transitions, needs at least 2: %w", n.ID, len(out), errors.ErrInvalidModel)
	}
	for _, tid := range out {
		target := m.nodes[m.transitions[tid].To]
		switch target.Kind() {
		case element.MessageIntermediateCatchEvent, element.SignalIntermediateCatchEvent, element.TimerIntermediateCatchEvent, element.ReceiveTask:
		default:
			return errors.Fatalf("event based gateway %s leads to %s (%s), not a catch event or receive task: %w", n.ID, target.ID, target.Kind(), errors.ErrInvalidModel)
		}
	}
	return nil
}

// Clone returns a copy of the model that shares no mutable state with the original.
func (m *Model) Clone() *Model {
	c := New(m.Key, m.Name)
	c.nodeOrder = slices.Clone(m.nodeOrder)
	c.transitionOrder = slices.Clone(m.transitionOrder)
	for id, n := range m.nodes {
		cn := *n
		if cl, ok := n.Behavior.(Cloner); ok {
			cn.Behavior = cl.CloneBehavior()
		}
		c.nodes[id] = &cn
	}
	for id, t := range m.transitions {
		ct := *t
		c.transitions[id] = &ct
	}
	for k, v := range m.outgoing {
		c.outgoing[k] = slices.Clone(v)
	}
	for k, v := range m.incoming {
		c.incoming[k] = slices.Clone(v)
	}
	for k, v := range m.attached {
		c.attached[k] = slices.Clone(v)
	}
	return c
}
