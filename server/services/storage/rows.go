package storage

import "database/sql"

// Subscription and process subscription types.
const (
	SubscriptionSignal  = "SIGNAL"
	SubscriptionMessage = "MESSAGE"
	SubscriptionTimer   = "TIMER"
)

// DeploymentRow is a set of resources deployed together.
type DeploymentRow struct {
	ID        string
	Name      string
	CreatedAt int64
}

// ResourceRow is a deployed BPMN document.
type ResourceRow struct {
	ID           string
	DeploymentID string
	Name         string
	Data         []byte
}

// DefinitionRow is one version of a process parsed out of a resource.
type DefinitionRow struct {
	ID           string
	DeploymentID string
	ResourceID   string
	ProcessKey   string
	Name         string
	Version      int
	CreatedAt    int64
}

// ProcessSubscriptionRow starts a new instance of a definition when a message or signal arrives.
type ProcessSubscriptionRow struct {
	ID           string
	DefinitionID string
	ProcessKey   string
	Type         string
	Name         string
	NodeID       string
}

// ExecutionRow is a persisted execution.
type ExecutionRow struct {
	ID           string
	ParentID     sql.NullString
	ProcessID    string
	DefinitionID string
	State        int
	Node         sql.NullString
	Transition   sql.NullString
	Depth        int
	BusinessKey  sql.NullString
	CreatedAt    int64
}

// VariableRow is a variable local to an execution.
type VariableRow struct {
	ExecutionID     string
	Name            string
	ValueSearchable sql.NullString
	ValueBlob       []byte
}

// SubscriptionRow correlates an execution waiting at an activity with a signal, message or timer.
type SubscriptionRow struct {
	ID                string
	ExecutionID       string
	ActivityID        string
	Node              string
	ProcessInstanceID string
	Type              string
	Name              string
	CreatedAt         int64
	JobID             sql.NullString
	Boundary          bool
}

// JobRow is a deferred unit of work.
type JobRow struct {
	ID                string
	ExecutionID       string
	ProcessInstanceID string
	HandlerType       string
	HandlerData       []byte
	Retries           int
	LockOwner         sql.NullString
	LockExpiresAt     sql.NullInt64
	RunAt             sql.NullInt64
	Exception         sql.NullString
	CreatedAt         int64
}

// TaskRow is an open user task.
type TaskRow struct {
	ID                string
	ExecutionID       string
	ProcessInstanceID string
	ActivityID        string
	Name              string
	Documentation     string
	Priority          int
	Assignee          sql.NullString
	Due               sql.NullInt64
	CreatedAt         int64
}

// SubscriptionFilter selects event subscriptions. Empty fields match everything.
type SubscriptionFilter struct {
	Type              string
	Name              string
	ExecutionID       string
	ActivityID        string
	ProcessInstanceID string
}

// JobFilter selects jobs. Empty fields match everything.
type JobFilter struct {
	ExecutionID       string
	ProcessInstanceID string
	HandlerType       string
}

// TaskFilter selects user tasks. Empty fields match everything.
type TaskFilter struct {
	ProcessInstanceID string
	ExecutionID       string
	ActivityID        string
	Name              string
	Assignee          string
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) eq(column string, value string) {
	if value == "" {
		return
	}
	w.clauses = append(w.clauses, column+" = ?")
	w.args = append(w.args, value)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	ret := " WHERE " + w.clauses[0]
	for _, c := range w.clauses[1:] {
		ret += " AND " + c
	}
	return ret
}
