package workflow

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"gitlab.com/shar-workflow/bpmnrt/common/element"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"maps"
	"slices"
	"time"
)

// State is the bitmask describing what an execution currently is.
type State int

// Execution state flags.
const (
	StateActive State = 1 << iota
	StateConcurrent
	StateScope
	StateScopeRoot
	StateWait
	StateTerminate
)

// SyncState records how an execution differs from its stored row.
type SyncState int

// Sync states.
const (
	SyncNoChange SyncState = iota
	SyncNew
	SyncModified
	SyncRemoved
)

// executionTree is the arena holding every loaded execution of one process instance.
// Executions refer to each other by id and resolve through the tree.
type executionTree struct {
	processID  uuid.UUID
	cc         *CommandContext
	executions map[uuid.UUID]*Execution
}

func (t *executionTree) get(id uuid.UUID) *Execution {
	if id == uuid.Nil {
		return nil
	}
	return t.executions[id]
}

// Execution is a token travelling through a process model, or a scope holding such tokens.
type Execution struct {
	id           uuid.UUID
	parentID     uuid.UUID
	children     []uuid.UUID
	processID    uuid.UUID
	definitionID string
	model        *process.Model
	node         *process.Node
	transition   *process.Transition
	depth        int
	businessKey  string
	state        State
	sync         SyncState
	persisted    bool
	createdAt    time.Time

	variables model.Vars
	// snapshot holds the stored blob of every variable as last read or written.
	snapshot map[string][]byte

	tree *executionTree
}

// ID returns the execution id.
func (ex *Execution) ID() uuid.UUID { return ex.id }

// ParentID returns the id of the parent execution, or uuid.Nil for the root.
func (ex *Execution) ParentID() uuid.UUID { return ex.parentID }

// Parent returns the parent execution, or nil for the root.
func (ex *Execution) Parent() *Execution { return ex.tree.get(ex.parentID) }

// ProcessInstanceID returns the id of the root execution.
func (ex *Execution) ProcessInstanceID() uuid.UUID { return ex.processID }

// ProcessInstance returns the root execution.
func (ex *Execution) ProcessInstance() *Execution { return ex.tree.get(ex.processID) }

// DefinitionID returns the process definition the execution runs.
func (ex *Execution) DefinitionID() string { return ex.definitionID }

// Model returns the process model the execution runs.
func (ex *Execution) Model() *process.Model { return ex.model }

// Node returns the node the execution is positioned at, nil before the first node was entered.
func (ex *Execution) Node() *process.Node { return ex.node }

// Transition returns the transition the execution arrived through.
func (ex *Execution) Transition() *process.Transition { return ex.transition }

// Depth returns the distance from the root.
func (ex *Execution) Depth() int { return ex.depth }

// State returns the raw state bitmask.
func (ex *Execution) State() State { return ex.state }

// BusinessKey returns the business key of the process instance.
func (ex *Execution) BusinessKey() string { return ex.businessKey }

// SetBusinessKey changes the business key. Only the root may do this.
func (ex *Execution) SetBusinessKey(key string) error {
	if ex.parentID != uuid.Nil {
		return errors.Fatalf("set business key on %s: %w", ex.id, errors.ErrBusinessKeyNotRoot)
	}
	ex.businessKey = key
	ex.markModified()
	for _, e := range ex.tree.executions {
		e.businessKey = key
	}
	return nil
}

// Children returns the live child executions in creation order.
func (ex *Execution) Children() []*Execution {
	ret := make([]*Execution, 0, len(ex.children))
	for _, id := range ex.children {
		if c := ex.tree.get(id); c != nil {
			ret = append(ret, c)
		}
	}
	return ret
}

// FindChildExecutions returns the children positioned at node. A nil node matches every child.
func (ex *Execution) FindChildExecutions(node *process.Node) []*Execution {
	var ret []*Execution
	for _, c := range ex.Children() {
		if node == nil || (c.node != nil && c.node.ID == node.ID) {
			ret = append(ret, c)
		}
	}
	return ret
}

func (ex *Execution) concurrentChildren() []*Execution {
	var ret []*Execution
	for _, c := range ex.Children() {
		if c.IsConcurrent() && !c.IsTerminated() {
			ret = append(ret, c)
		}
	}
	return ret
}

// IsActive reports whether the execution is an active token.
func (ex *Execution) IsActive() bool { return ex.state&StateActive != 0 }

// IsConcurrent reports whether the execution is one of several parallel tokens of its parent.
func (ex *Execution) IsConcurrent() bool { return ex.state&StateConcurrent != 0 }

// IsScope reports whether the execution holds a variable scope.
func (ex *Execution) IsScope() bool { return ex.state&StateScope != 0 }

// IsScopeRoot reports whether the execution is the root of a scope.
func (ex *Execution) IsScopeRoot() bool { return ex.state&StateScopeRoot != 0 }

// IsWaiting reports whether the execution waits for a signal.
func (ex *Execution) IsWaiting() bool { return ex.state&StateWait != 0 }

// IsTerminated reports whether the execution has been terminated.
func (ex *Execution) IsTerminated() bool { return ex.state&StateTerminate != 0 }

// SetActive changes the active flag.
func (ex *Execution) SetActive(active bool) {
	ex.setState(StateActive, active)
}

func (ex *Execution) setState(flag State, on bool) {
	prev := ex.state
	if on {
		ex.state |= flag
	} else {
		ex.state &^= flag
	}
	if prev != ex.state {
		ex.markModified()
	}
}

func (ex *Execution) markModified() {
	if ex.sync == SyncNoChange {
		ex.sync = SyncModified
	}
}

func (ex *Execution) setNode(node *process.Node) {
	if ex.node != node {
		ex.node = node
		ex.markModified()
	}
}

func (ex *Execution) setTransition(t *process.Transition) {
	if ex.transition != t {
		ex.transition = t
		ex.markModified()
	}
}

// Scope returns the nearest execution holding a variable scope, the execution itself when it is one.
func (ex *Execution) Scope() *Execution {
	e := ex
	for e != nil && !e.IsScope() {
		e = e.Parent()
	}
	if e == nil {
		return ex.ProcessInstance()
	}
	return e
}

// ScopeRoot returns the nearest scope root.
func (ex *Execution) ScopeRoot() *Execution {
	e := ex
	for e != nil && !e.IsScopeRoot() {
		e = e.Parent()
	}
	if e == nil {
		return ex.ProcessInstance()
	}
	return e
}

// isolated reports whether variable lookups stop at this execution.
// The root of a called process does not see the variables of its caller.
func (ex *Execution) isolated() bool {
	if !ex.IsScopeRoot() {
		return false
	}
	p := ex.Parent()
	return p == nil || (p.node != nil && p.node.Kind() == element.CallActivity)
}

// scopeNodeID returns the id of the sub-process or event sub-process whose nodes the scope runs,
// empty for the process level of the execution's model.
func (ex *Execution) scopeNodeID() string {
	sr := ex.ScopeRoot()
	if sr.isolated() {
		return ""
	}
	if p := sr.Parent(); p != nil && p.node != nil {
		return p.node.ID
	}
	return ""
}

func (ex *Execution) newChild(st State, m *process.Model, definitionID string) *Execution {
	child := &Execution{
		id:           uuid.New(),
		parentID:     ex.id,
		processID:    ex.processID,
		definitionID: definitionID,
		model:        m,
		node:         ex.node,
		transition:   ex.transition,
		depth:        ex.depth + 1,
		businessKey:  ex.businessKey,
		state:        st,
		sync:         SyncNew,
		createdAt:    ex.tree.cc.now(),
		variables:    model.NewVars(),
		snapshot:     make(map[string][]byte),
		tree:         ex.tree,
	}
	ex.tree.executions[child.id] = child
	ex.children = append(ex.children, child.id)
	ex.tree.cc.track(child)
	ex.tree.cc.notify(eventFor(EventExecutionCreated, child))
	return child
}

// CreateExecution creates a child token at the execution's node.
func (ex *Execution) CreateExecution(concurrent bool) *Execution {
	st := StateActive
	if concurrent {
		st |= StateConcurrent
	}
	return ex.newChild(st, ex.model, ex.definitionID)
}

// CreateNestedExecution creates a child scope running m. Scope roots hold their own variables.
func (ex *Execution) CreateNestedExecution(m *process.Model, definitionID string, scopeRoot bool) *Execution {
	st := StateActive | StateScope
	if scopeRoot {
		st |= StateScopeRoot
	}
	child := ex.newChild(st, m, definitionID)
	child.node = nil
	child.transition = nil
	return child
}

// Execute moves the execution into node by queueing an ExecuteNodeCommand.
// Nodes marked async-before are entered from a job instead.
func (ex *Execution) Execute(node *process.Node) error {
	if ex.IsTerminated() {
		return errors.Fatalf("execute %s on %s: %w", node.ID, ex.id, errors.ErrExecutionTerminated)
	}
	ex.tree.cc.PushCommand(&ExecuteNodeCommand{ExecutionID: ex.id, NodeID: node.ID})
	return nil
}

// Take moves the execution along a transition by queueing a TakeTransitionCommand.
func (ex *Execution) Take(t *process.Transition) error {
	if ex.IsTerminated() {
		return errors.Fatalf("take %s on %s: %w", t.ID, ex.id, errors.ErrExecutionTerminated)
	}
	ex.tree.cc.PushCommand(&TakeTransitionCommand{ExecutionID: ex.id, TransitionID: t.ID})
	return nil
}

// TakeAll leaves the current node through every given transition, forking or merging tokens as needed.
// recycle lists inactive executions that arrived at the node and may be reused; ex is always one of them.
func (ex *Execution) TakeAll(transitions []*process.Transition, recycle []*Execution) error {
	if len(transitions) == 0 {
		return ex.Terminate(true)
	}
	if !slices.Contains(recycle, ex) {
		recycle = append([]*Execution{ex}, recycle...)
	}
	root := ex
	if ex.IsConcurrent() {
		root = ex.Parent()
	}
	var others []*Execution
	for _, c := range root.concurrentChildren() {
		if !slices.Contains(recycle, c) {
			others = append(others, c)
		}
	}

	if len(transitions) == 1 {
		if root != ex && len(others) == 0 {
			// Merge back: the root becomes the token again.
			for _, r := range recycle {
				if r != root {
					if err := r.Terminate(false); err != nil {
						return fmt.Errorf("merge into %s: %w", root.id, err)
					}
				}
			}
			root.setNode(ex.node)
			root.setState(StateWait, false)
			root.SetActive(true)
			return root.Take(transitions[0])
		}
		if root == ex {
			ex.setState(StateWait, false)
			ex.SetActive(true)
			return ex.Take(transitions[0])
		}
	}

	// Fork.
	var tokens []*Execution
	if root == ex {
		root.SetActive(false)
		root.setState(StateWait, false)
		for range transitions {
			c := root.CreateExecution(true)
			c.setNode(root.node)
			tokens = append(tokens, c)
		}
	} else {
		for i := range transitions {
			if i < len(recycle) {
				tokens = append(tokens, recycle[i])
				continue
			}
			c := root.CreateExecution(true)
			c.setNode(ex.node)
			tokens = append(tokens, c)
		}
		for _, r := range recycle[min(len(recycle), len(transitions)):] {
			if err := r.Terminate(false); err != nil {
				return fmt.Errorf("fork from %s: %w", ex.id, err)
			}
		}
	}
	for i, t := range transitions {
		tok := tokens[i]
		tok.setState(StateWait, false)
		tok.SetActive(true)
		if err := tok.Take(t); err != nil {
			return err
		}
	}
	return nil
}

// WaitForSignal parks the execution until it is signalled.
func (ex *Execution) WaitForSignal() {
	ex.setState(StateWait, true)
}

// Signal resumes a waiting execution by queueing a SignalExecutionCommand.
func (ex *Execution) Signal(signal *string, vars model.Vars, delegation *Delegation) {
	ex.tree.cc.PushCommand(&SignalExecutionCommand{ExecutionID: ex.id, Signal: signal, Variables: vars, Delegation: delegation})
}

// Terminate ends the execution and all of its descendants. With triggerParent the parent is given
// the chance to complete its scope.
func (ex *Execution) Terminate(triggerParent bool) error {
	if ex.IsTerminated() {
		return nil
	}
	ctx := ex.tree.cc.ctx
	children := ex.Children()
	slices.Reverse(children)
	for _, c := range children {
		if err := c.Terminate(false); err != nil {
			return err
		}
	}
	cc := ex.tree.cc
	if err := cc.clearSubscriptions(ctx, ex, ""); err != nil {
		return fmt.Errorf("terminate %s: %w", ex.id, err)
	}
	if err := cc.cancelTasks(ctx, ex); err != nil {
		return fmt.Errorf("terminate %s: %w", ex.id, err)
	}
	if err := cc.removeJobs(ctx, ex); err != nil {
		return fmt.Errorf("terminate %s: %w", ex.id, err)
	}
	ex.state = (ex.state | StateTerminate) &^ (StateActive | StateWait)
	ex.sync = SyncRemoved
	cc.notify(eventFor(EventExecutionTerminated, ex))
	parent := ex.Parent()
	if parent == nil {
		cc.notify(eventFor(EventProcessEnded, ex))
		return nil
	}
	return parent.childTerminated(ex, triggerParent)
}

func (ex *Execution) childTerminated(child *Execution, triggerParent bool) error {
	ex.children = slices.DeleteFunc(ex.children, func(id uuid.UUID) bool { return id == child.id })
	if !triggerParent || ex.IsTerminated() {
		return nil
	}
	for _, c := range ex.Children() {
		if !c.IsTerminated() {
			return nil
		}
	}
	if ex.IsWaiting() {
		ex.Signal(nil, child.VariablesLocal(), &Delegation{ExecutionID: child.id, Variables: child.VariablesLocal()})
		return nil
	}
	return ex.Terminate(true)
}

// GetVariable resolves a variable by walking up the scopes. The nearest definition wins.
func (ex *Execution) GetVariable(name string) (any, bool) {
	for e := ex; e != nil; e = e.Parent() {
		if v, ok := e.variables[name]; ok {
			return v, true
		}
		if e.isolated() {
			break
		}
	}
	return nil, false
}

// HasVariable reports whether GetVariable would find name.
func (ex *Execution) HasVariable(name string) bool {
	_, ok := ex.GetVariable(name)
	return ok
}

// SetVariable writes a variable to the nearest scope. A definition further out is shadowed, not changed.
func (ex *Execution) SetVariable(name string, value any) {
	ex.Scope().variables[name] = value
}

// SetVariables writes every variable with SetVariable.
func (ex *Execution) SetVariables(vars model.Vars) {
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		ex.SetVariable(k, vars[k])
	}
}

// SetVariableLocal writes a variable on the execution itself.
func (ex *Execution) SetVariableLocal(name string, value any) {
	ex.variables[name] = value
}

// RemoveVariable deletes the nearest visible definition of name.
func (ex *Execution) RemoveVariable(name string) {
	for e := ex; e != nil; e = e.Parent() {
		if _, ok := e.variables[name]; ok {
			delete(e.variables, name)
			return
		}
		if e.isolated() {
			return
		}
	}
}

// RemoveVariableLocal deletes a variable held by the execution itself.
func (ex *Execution) RemoveVariableLocal(name string) {
	delete(ex.variables, name)
}

// Variables returns every visible variable. Inner definitions shadow outer ones.
func (ex *Execution) Variables() model.Vars {
	var chain []*Execution
	for e := ex; e != nil; e = e.Parent() {
		chain = append(chain, e)
		if e.isolated() {
			break
		}
	}
	ret := model.NewVars()
	for i := len(chain) - 1; i >= 0; i-- {
		maps.Copy(ret, chain[i].variables)
	}
	return ret
}

// VariablesLocal returns a copy of the variables held by the execution itself.
func (ex *Execution) VariablesLocal() model.Vars {
	ret := model.NewVars()
	maps.Copy(ret, ex.variables)
	return ret
}

// Context returns the context of the command currently running on the execution.
func (ex *Execution) Context() context.Context {
	return ex.tree.cc.ctx
}

// CommandContext returns the unit of work the execution was loaded into.
func (ex *Execution) CommandContext() *CommandContext {
	return ex.tree.cc
}

func (ex *Execution) String() string {
	node := ""
	if ex.node != nil {
		node = ex.node.ID
	}
	return fmt.Sprintf("execution(%s at %q state %b)", ex.id, node, ex.state)
}
