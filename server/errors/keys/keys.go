package keys

// ContextKey is the wrapper for using context keys
type ContextKey string

const (
	// ElementName is the key of the currently executing process element.
	ElementName = "el_name"
	// ElementID is the key for the process element ID.
	ElementID = "el_id"
	// ElementType is the key for the BPMN kind of the element.
	ElementType = "el_type"
	// ProcessInstanceID is the key for the root execution of a process instance.
	ProcessInstanceID = "pi_id"
	// DefinitionID is the key for the versioned process definition that started the instance.
	DefinitionID = "def_id"
	// ProcessKey is the key for the BPMN process id shared by all versions of a definition.
	ProcessKey = "p_key"
	// ExecutionID is the key for an execution (token).
	ExecutionID = "exec_id"
	// ParentExecutionID is the key for the parent of an execution.
	ParentExecutionID = "parent_exec_id"
	// TransitionID is the key for a sequence flow.
	TransitionID = "tr_id"
	// ActivityID is the key for the activity that owns a subscription.
	ActivityID = "activity_id"
	// JobType is the key for the handler type of a job.
	JobType = "job_type"
	// JobID is the key for the executing job ID.
	JobID = "job_id"
	// LockOwner is the key for the worker holding a job lock.
	LockOwner = "lock_owner"
	// TaskID is the key for a user task.
	TaskID = "task_id"
	// SubscriptionID is the key for an event subscription.
	SubscriptionID = "sub_id"
	// EventName is the key for a signal or message name.
	EventName = "event_name"
	// EventType is the key for a subscription type.
	EventType = "event_type"
	// Command is the key for the name of an engine command.
	Command = "cmd"
	// Depth is the key for the command nesting depth.
	Depth = "depth"
	// Condition is a key for a business rule to evaluate.
	Condition = "el_cond"
	// State is a key for the state bitmask of an execution.
	State = "el_state"
	// BusinessKey is the key for the external correlation id of an instance.
	BusinessKey = "business_key"
	// Count is a key for a number of affected items.
	Count = "count"
)
