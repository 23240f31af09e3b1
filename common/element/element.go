package element

// Kind is the BPMN element type a process node behaves as.
// The set is closed; every behavior reports exactly one Kind.
type Kind string

// Events
const (
	StartEvent                    Kind = "startEvent"                    // StartEvent is a none start event.
	MessageStartEvent             Kind = "messageStartEvent"             // MessageStartEvent starts a process when a message arrives.
	SignalStartEvent              Kind = "signalStartEvent"              // SignalStartEvent starts a process when a signal is broadcast.
	TimerStartEvent               Kind = "timerStartEvent"               // TimerStartEvent is only valid as the start of an event sub-process.
	EndEvent                      Kind = "endEvent"                      // EndEvent is a none end event.
	TerminateEndEvent             Kind = "terminateEndEvent"             // TerminateEndEvent kills the enclosing scope.
	MessageEndEvent               Kind = "messageEndEvent"               // MessageEndEvent throws a message and ends the token.
	SignalEndEvent                Kind = "signalEndEvent"                // SignalEndEvent broadcasts a signal and ends the token.
	MessageBoundaryEvent          Kind = "messageBoundaryEvent"          // MessageBoundaryEvent is a message event attached to an activity.
	SignalBoundaryEvent           Kind = "signalBoundaryEvent"           // SignalBoundaryEvent is a signal event attached to an activity.
	TimerBoundaryEvent            Kind = "timerBoundaryEvent"            // TimerBoundaryEvent is a timer event attached to an activity.
	MessageIntermediateCatchEvent Kind = "messageIntermediateCatchEvent" // MessageIntermediateCatchEvent waits for a message.
	SignalIntermediateCatchEvent  Kind = "signalIntermediateCatchEvent"  // SignalIntermediateCatchEvent waits for a signal.
	TimerIntermediateCatchEvent   Kind = "timerIntermediateCatchEvent"   // TimerIntermediateCatchEvent waits for a timer.
	LinkIntermediateCatchEvent    Kind = "linkIntermediateCatchEvent"    // LinkIntermediateCatchEvent is the landing point of a link.
	IntermediateThrowEvent        Kind = "intermediateThrowEvent"        // IntermediateThrowEvent is a none throw event.
	MessageIntermediateThrowEvent Kind = "messageIntermediateThrowEvent" // MessageIntermediateThrowEvent throws a message.
	SignalIntermediateThrowEvent  Kind = "signalIntermediateThrowEvent"  // SignalIntermediateThrowEvent broadcasts a signal.
	LinkIntermediateThrowEvent    Kind = "linkIntermediateThrowEvent"    // LinkIntermediateThrowEvent jumps to a link catch event.
)

// Gateways
const (
	ExclusiveGateway  Kind = "exclusiveGateway"
	InclusiveGateway  Kind = "inclusiveGateway"
	ParallelGateway   Kind = "parallelGateway"
	EventBasedGateway Kind = "eventBasedGateway"
)

// Activities
const (
	Task            Kind = "task"
	UserTask        Kind = "userTask"
	ServiceTask     Kind = "serviceTask"
	ScriptTask      Kind = "scriptTask"
	DelegateTask    Kind = "delegateTask"
	ReceiveTask     Kind = "receiveTask"
	ManualTask      Kind = "manualTask"
	SubProcess      Kind = "subProcess"
	EventSubProcess Kind = "eventSubProcess"
	CallActivity    Kind = "callActivity"
)

// IsBoundary reports whether the kind is attached to another activity.
func (k Kind) IsBoundary() bool {
	switch k {
	case MessageBoundaryEvent, SignalBoundaryEvent, TimerBoundaryEvent:
		return true
	}
	return false
}

// IsStart reports whether the kind is a start event of any trigger type.
func (k Kind) IsStart() bool {
	switch k {
	case StartEvent, MessageStartEvent, SignalStartEvent, TimerStartEvent:
		return true
	}
	return false
}

// IsGateway reports whether the kind is a gateway.
func (k Kind) IsGateway() bool {
	switch k {
	case ExclusiveGateway, InclusiveGateway, ParallelGateway, EventBasedGateway:
		return true
	}
	return false
}
