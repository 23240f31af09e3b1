package workflow

import (
	"fmt"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"gitlab.com/shar-workflow/bpmnrt/server/vars"
)

// NodeOption adjusts a node added through a Builder.
type NodeOption func(n *process.Node)

// Named sets the display name of a node.
func Named(name string) NodeOption {
	return func(n *process.Node) { n.Name = name }
}

// Documented sets the documentation of a node.
func Documented(doc string) NodeOption {
	return func(n *process.Node) { n.Documentation = doc }
}

// AsyncBefore makes the node start from an async-continuation job.
func AsyncBefore() NodeOption {
	return func(n *process.Node) { n.AsyncBefore = true }
}

type pendingFlow struct {
	id, from, to, condition, name string
	isDefault                     bool
}

type pendingAttachment struct {
	boundary, activity string
}

// Builder assembles a process model. Nodes, flows and attachments may be declared in any order;
// Build wires them and validates the result. The first error sticks and is returned by Build.
type Builder struct {
	key, name   string
	scope       string
	nodes       *[]*process.Node
	flows       *[]pendingFlow
	attachments *[]pendingAttachment
	err         *error
}

// NewBuilder starts a model for the process key.
func NewBuilder(key string, name string) *Builder {
	var err error
	return &Builder{
		key:         key,
		name:        name,
		nodes:       &[]*process.Node{},
		flows:       &[]pendingFlow{},
		attachments: &[]pendingAttachment{},
		err:         &err,
	}
}

// Node adds a node with any behavior to the current scope.
func (b *Builder) Node(id string, behavior process.Behavior, opts ...NodeOption) *Builder {
	n := &process.Node{ID: id, Behavior: behavior, Parent: b.scope}
	switch behavior.(type) {
	case *SubProcess, *CallActivity, *EventSubProcess:
		n.Scope = true
	}
	for _, o := range opts {
		o(n)
	}
	*b.nodes = append(*b.nodes, n)
	return b
}

// StartEvent adds a none start event.
func (b *Builder) StartEvent(id string, opts ...NodeOption) *Builder {
	return b.Node(id, &StartEvent{}, opts...)
}

// MessageStartEvent adds a start event waiting for a message.
func (b *Builder) MessageStartEvent(id string, message string, opts ...NodeOption) *Builder {
	return b.Node(id, &StartEvent{Event: &EventDefinition{Type: storage.SubscriptionMessage, Name: message}}, opts...)
}

// SignalStartEvent adds a start event waiting for a signal.
func (b *Builder) SignalStartEvent(id string, signal string, opts ...NodeOption) *Builder {
	return b.Node(id, &StartEvent{Event: &EventDefinition{Type: storage.SubscriptionSignal, Name: signal}}, opts...)
}

// EndEvent adds a none end event.
func (b *Builder) EndEvent(id string, opts ...NodeOption) *Builder {
	return b.Node(id, &EndEvent{}, opts...)
}

// TerminateEndEvent adds an end event that terminates its scope.
func (b *Builder) TerminateEndEvent(id string, opts ...NodeOption) *Builder {
	return b.Node(id, &TerminateEndEvent{}, opts...)
}

// MessageEndEvent adds an end event throwing a message.
func (b *Builder) MessageEndEvent(id string, message string, opts ...NodeOption) *Builder {
	return b.Node(id, &MessageEndEvent{Message: message}, opts...)
}

// SignalEndEvent adds an end event broadcasting a signal.
func (b *Builder) SignalEndEvent(id string, signal string, opts ...NodeOption) *Builder {
	return b.Node(id, &SignalEndEvent{Signal: signal}, opts...)
}

// ThrowEvent adds a none intermediate throw event.
func (b *Builder) ThrowEvent(id string, opts ...NodeOption) *Builder {
	return b.Node(id, &IntermediateThrowEvent{}, opts...)
}

// MessageThrowEvent adds an intermediate event throwing a message.
func (b *Builder) MessageThrowEvent(id string, message string, opts ...NodeOption) *Builder {
	return b.Node(id, &MessageThrowEvent{Message: message}, opts...)
}

// SignalThrowEvent adds an intermediate event broadcasting a signal.
func (b *Builder) SignalThrowEvent(id string, signal string, opts ...NodeOption) *Builder {
	return b.Node(id, &SignalThrowEvent{Signal: signal}, opts...)
}

// LinkThrowEvent adds an event jumping to the link catch event of the same name.
func (b *Builder) LinkThrowEvent(id string, link string, opts ...NodeOption) *Builder {
	return b.Node(id, &LinkThrowEvent{Link: link}, opts...)
}

// LinkCatchEvent adds the landing point of a link.
func (b *Builder) LinkCatchEvent(id string, link string, opts ...NodeOption) *Builder {
	return b.Node(id, &LinkCatchEvent{Link: link}, opts...)
}

// ManualTask adds a manual task.
func (b *Builder) ManualTask(id string, opts ...NodeOption) *Builder {
	return b.Node(id, &ManualTask{}, opts...)
}

// DelegateTask adds a task run by the delegate registered under name.
func (b *Builder) DelegateTask(id string, delegate string, opts ...NodeOption) *Builder {
	return b.Node(id, &DelegateTask{Delegate: delegate}, opts...)
}

// Task adds a plain task.
func (b *Builder) Task(id string, opts ...NodeOption) *Builder {
	return b.Node(id, &Task{}, opts...)
}

// UserTask adds a user task.
func (b *Builder) UserTask(id string, task UserTask, opts ...NodeOption) *Builder {
	return b.Node(id, &task, opts...)
}

// ServiceTask adds a service task. Its handler is registered with Engine.RegisterServiceTask.
func (b *Builder) ServiceTask(id string, opts ...NodeOption) *Builder {
	return b.Node(id, &ServiceTask{}, opts...)
}

// ScriptTask adds a script task.
func (b *Builder) ScriptTask(id string, script string, resultVariable string, opts ...NodeOption) *Builder {
	return b.Node(id, &ScriptTask{Script: script, ResultVariable: resultVariable}, opts...)
}

// ReceiveTask adds a task waiting for a message.
func (b *Builder) ReceiveTask(id string, message string, opts ...NodeOption) *Builder {
	return b.Node(id, &ReceiveTask{Message: message}, opts...)
}

// ExclusiveGateway adds an exclusive gateway.
func (b *Builder) ExclusiveGateway(id string, opts ...NodeOption) *Builder {
	return b.Node(id, &ExclusiveGateway{}, opts...)
}

// InclusiveGateway adds an inclusive gateway.
func (b *Builder) InclusiveGateway(id string, opts ...NodeOption) *Builder {
	return b.Node(id, &InclusiveGateway{}, opts...)
}

// ParallelGateway adds a parallel gateway.
func (b *Builder) ParallelGateway(id string, opts ...NodeOption) *Builder {
	return b.Node(id, &ParallelGateway{}, opts...)
}

// EventBasedGateway adds an event based gateway.
func (b *Builder) EventBasedGateway(id string, opts ...NodeOption) *Builder {
	return b.Node(id, &EventBasedGateway{}, opts...)
}

// CatchEvent adds an intermediate catch event.
func (b *Builder) CatchEvent(id string, event EventDefinition, opts ...NodeOption) *Builder {
	return b.Node(id, &IntermediateCatchEvent{Event: event}, opts...)
}

// BoundaryEvent adds an event attached to an activity of the current scope.
func (b *Builder) BoundaryEvent(id string, attachedTo string, event EventDefinition, interrupting bool, opts ...NodeOption) *Builder {
	b.Node(id, &BoundaryEvent{AttachedTo: attachedTo, Event: event, Interrupting: interrupting}, opts...)
	*b.attachments = append(*b.attachments, pendingAttachment{boundary: id, activity: attachedTo})
	return b
}

// CallActivity adds a call of the latest definition of calledElement.
func (b *Builder) CallActivity(id string, calledElement string, inputs []vars.Mapping, outputs []vars.Mapping, opts ...NodeOption) *Builder {
	return b.Node(id, &CallActivity{CalledElement: calledElement, Inputs: inputs, Outputs: outputs}, opts...)
}

// SubProcess adds a sub-process whose contents are declared by fn.
func (b *Builder) SubProcess(id string, fn func(sb *Builder), opts ...NodeOption) *Builder {
	b.Node(id, &SubProcess{}, opts...)
	fn(b.within(id))
	return b
}

// EventSubProcess adds an event sub-process whose contents are declared by fn.
func (b *Builder) EventSubProcess(id string, event EventDefinition, interrupting bool, fn func(sb *Builder), opts ...NodeOption) *Builder {
	b.Node(id, &EventSubProcess{Event: event, Interrupting: interrupting}, opts...)
	fn(b.within(id))
	return b
}

func (b *Builder) within(scope string) *Builder {
	c := *b
	c.scope = scope
	return &c
}

// Flow adds an unconditional sequence flow.
func (b *Builder) Flow(id string, from string, to string) *Builder {
	*b.flows = append(*b.flows, pendingFlow{id: id, from: from, to: to})
	return b
}

// ConditionalFlow adds a sequence flow guarded by an expression.
func (b *Builder) ConditionalFlow(id string, from string, to string, condition string) *Builder {
	*b.flows = append(*b.flows, pendingFlow{id: id, from: from, to: to, condition: condition})
	return b
}

// DefaultFlow adds the flow taken from a gateway or activity when no other is enabled.
func (b *Builder) DefaultFlow(id string, from string, to string) *Builder {
	*b.flows = append(*b.flows, pendingFlow{id: id, from: from, to: to, isDefault: true})
	return b
}

// NamedFlow sets the name of a previously declared flow.
func (b *Builder) NamedFlow(id string, name string) *Builder {
	for i := range *b.flows {
		if (*b.flows)[i].id == id {
			(*b.flows)[i].name = name
			return b
		}
	}
	b.fail(errors.Fatalf("name unknown flow %s: %w", id, errors.ErrInvalidModel))
	return b
}

func (b *Builder) fail(err error) {
	if *b.err == nil {
		*b.err = err
	}
}

// Build wires the declared elements and validates the model.
func (b *Builder) Build() (*process.Model, error) {
	if *b.err != nil {
		return nil, fmt.Errorf("build %s: %w", b.key, *b.err)
	}
	m := process.New(b.key, b.name)
	for _, n := range *b.nodes {
		if err := m.AddNode(n); err != nil {
			return nil, fmt.Errorf("build %s: %w", b.key, err)
		}
	}
	for _, a := range *b.attachments {
		if err := m.Attach(a.boundary, a.activity); err != nil {
			return nil, fmt.Errorf("build %s: %w", b.key, err)
		}
	}
	for _, f := range *b.flows {
		if err := m.AddTransition(&process.Transition{ID: f.id, Name: f.name, From: f.from, To: f.to, Condition: f.condition}); err != nil {
			return nil, fmt.Errorf("build %s: %w", b.key, err)
		}
		if !f.isDefault {
			continue
		}
		n, _ := m.FindNode(f.from)
		ds, ok := n.Behavior.(interface{ SetDefaultFlow(id string) })
		if !ok {
			return nil, fmt.Errorf("build %s: %w", b.key, errors.Fatalf("%s cannot have a default flow: %w", f.from, errors.ErrInvalidModel))
		}
		ds.SetDefaultFlow(f.id)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// MessageEvent describes a catch of the named message.
func MessageEvent(name string) EventDefinition {
	return EventDefinition{Type: storage.SubscriptionMessage, Name: name}
}

// SignalEvent describes a catch of the named signal.
func SignalEvent(name string) EventDefinition {
	return EventDefinition{Type: storage.SubscriptionSignal, Name: name}
}

// TimerDuration describes a timer firing an ISO 8601 duration after it was armed.
func TimerDuration(duration string) EventDefinition {
	return EventDefinition{Type: storage.SubscriptionTimer, TimeDuration: duration}
}

// TimerDate describes a timer firing at an ISO 8601 instant.
func TimerDate(date string) EventDefinition {
	return EventDefinition{Type: storage.SubscriptionTimer, TimeDate: date}
}
