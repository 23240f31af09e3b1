package workflow

import (
	"context"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// EventType names something observable that happened inside the engine.
type EventType string

// Engine events.
const (
	EventProcessStarted      EventType = "ProcessStarted"
	EventProcessEnded        EventType = "ProcessEnded"
	EventExecutionCreated    EventType = "ExecutionCreated"
	EventExecutionTerminated EventType = "ExecutionTerminated"
	EventActivityStarted     EventType = "ActivityStarted"
	EventActivityCompleted   EventType = "ActivityCompleted"
	EventActivityCanceled    EventType = "ActivityCanceled"
	EventTransitionTaken     EventType = "TransitionTaken"
	EventMessageThrown       EventType = "MessageThrown"
	EventSignalThrown        EventType = "SignalThrown"
	EventUserTaskCreated     EventType = "UserTaskCreated"
	EventUserTaskCompleted   EventType = "UserTaskCompleted"
	EventUserTaskCanceled    EventType = "UserTaskCanceled"
	EventJobScheduled        EventType = "JobScheduled"
)

// Event is delivered to the Notifier once the transaction that produced it has committed.
type Event struct {
	Type              EventType  `msgpack:"type"`
	Time              time.Time  `msgpack:"time"`
	ProcessInstanceID string     `msgpack:"processInstanceId"`
	ExecutionID       string     `msgpack:"executionId,omitempty"`
	DefinitionID      string     `msgpack:"definitionId,omitempty"`
	ProcessKey        string     `msgpack:"processKey,omitempty"`
	NodeID            string     `msgpack:"nodeId,omitempty"`
	TransitionID      string     `msgpack:"transitionId,omitempty"`
	Name              string     `msgpack:"name,omitempty"`
	TaskID            string     `msgpack:"taskId,omitempty"`
	JobID             string     `msgpack:"jobId,omitempty"`
	BusinessKey       string     `msgpack:"businessKey,omitempty"`
	Variables         model.Vars `msgpack:"variables,omitempty"`
}

func eventFor(t EventType, ex *Execution) Event {
	ev := Event{
		Type:              t,
		ProcessInstanceID: ex.processID.String(),
		ExecutionID:       ex.id.String(),
		DefinitionID:      ex.definitionID,
		BusinessKey:       ex.businessKey,
	}
	if ex.model != nil {
		ev.ProcessKey = ex.model.Key
	}
	if ex.node != nil {
		ev.NodeID = ex.node.ID
		ev.Name = ex.node.Name
	}
	if ex.transition != nil {
		ev.TransitionID = ex.transition.ID
	}
	return ev
}

// Notifier receives engine events after commit. It cannot influence the outcome of the transaction.
//
//go:generate mockery
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NoopNotifier discards every event.
type NoopNotifier struct{}

// Notify does nothing.
func (NoopNotifier) Notify(context.Context, Event) {}

// LogNotifier writes every event to the context logger at debug level.
type LogNotifier struct{}

// Notify logs the event.
func (LogNotifier) Notify(ctx context.Context, ev Event) {
	log := logx.FromContext(ctx)
	if !log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	log.DebugContext(ctx, string(ev.Type),
		slog.String(keys.ProcessInstanceID, ev.ProcessInstanceID),
		slog.String(keys.ExecutionID, ev.ExecutionID),
		slog.String(keys.ElementID, ev.NodeID),
		slog.String(keys.TransitionID, ev.TransitionID),
	)
}

// MultiNotifier fans events out to several notifiers in order.
type MultiNotifier []Notifier

// Notify forwards the event to every notifier.
func (m MultiNotifier) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}

// RecordingNotifier keeps every event in memory.
type RecordingNotifier struct {
	mx     sync.Mutex
	events []Event
}

// Notify records the event.
func (r *RecordingNotifier) Notify(_ context.Context, ev Event) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *RecordingNotifier) Events() []Event {
	r.mx.Lock()
	defer r.mx.Unlock()
	return slices.Clone(r.events)
}

// OfType returns the recorded events of type t.
func (r *RecordingNotifier) OfType(t EventType) []Event {
	var ret []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			ret = append(ret, ev)
		}
	}
	return ret
}
