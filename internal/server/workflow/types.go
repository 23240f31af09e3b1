package workflow

import (
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"time"
)

// Resource is a document handed to Deploy.
type Resource struct {
	Name string
	Data []byte
}

// Deployment is the result of Deploy.
type Deployment struct {
	ID          string
	Name        string
	CreatedAt   time.Time
	Definitions []Definition
}

// Definition is one version of a deployed process.
type Definition struct {
	ID           string
	DeploymentID string
	ResourceID   string
	ProcessKey   string
	Name         string
	Version      int
	CreatedAt    time.Time
}

func definitionFromRow(r storage.DefinitionRow) Definition {
	return Definition{
		ID:           r.ID,
		DeploymentID: r.DeploymentID,
		ResourceID:   r.ResourceID,
		ProcessKey:   r.ProcessKey,
		Name:         r.Name,
		Version:      r.Version,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
	}
}

// ExecutionInfo is a stored execution as seen from outside the engine.
type ExecutionInfo struct {
	ID                string
	ParentID          string
	ProcessInstanceID string
	DefinitionID      string
	NodeID            string
	TransitionID      string
	State             State
	Depth             int
	BusinessKey       string
	CreatedAt         time.Time
}

// IsWaiting reports whether the execution waits for a signal.
func (e ExecutionInfo) IsWaiting() bool { return e.State&StateWait != 0 }

// IsActive reports whether the execution is an active token.
func (e ExecutionInfo) IsActive() bool { return e.State&StateActive != 0 }

func executionInfoFromRow(r storage.ExecutionRow) ExecutionInfo {
	return ExecutionInfo{
		ID:                r.ID,
		ParentID:          r.ParentID.String,
		ProcessInstanceID: r.ProcessID,
		DefinitionID:      r.DefinitionID,
		NodeID:            r.Node.String,
		TransitionID:      r.Transition.String,
		State:             State(r.State),
		Depth:             r.Depth,
		BusinessKey:       r.BusinessKey.String,
		CreatedAt:         time.UnixMilli(r.CreatedAt),
	}
}

// TaskInfo is an open user task.
type TaskInfo struct {
	ID                string
	ExecutionID       string
	ProcessInstanceID string
	ActivityID        string
	Name              string
	Documentation     string
	Priority          int
	Assignee          string
	Due               *time.Time
	CreatedAt         time.Time
}

func taskFromRow(r storage.TaskRow) TaskInfo {
	t := TaskInfo{
		ID:                r.ID,
		ExecutionID:       r.ExecutionID,
		ProcessInstanceID: r.ProcessInstanceID,
		ActivityID:        r.ActivityID,
		Name:              r.Name,
		Documentation:     r.Documentation,
		Priority:          r.Priority,
		Assignee:          r.Assignee.String,
		CreatedAt:         time.UnixMilli(r.CreatedAt),
	}
	if r.Due.Valid {
		due := time.UnixMilli(r.Due.Int64)
		t.Due = &due
	}
	return t
}

// SubscriptionInfo is a stored event subscription.
type SubscriptionInfo struct {
	ID                string
	ExecutionID       string
	ActivityID        string
	NodeID            string
	ProcessInstanceID string
	Type              string
	Name              string
	JobID             string
	Boundary          bool
	CreatedAt         time.Time
}

func subscriptionFromRow(r storage.SubscriptionRow) SubscriptionInfo {
	return SubscriptionInfo{
		ID:                r.ID,
		ExecutionID:       r.ExecutionID,
		ActivityID:        r.ActivityID,
		NodeID:            r.Node,
		ProcessInstanceID: r.ProcessInstanceID,
		Type:              r.Type,
		Name:              r.Name,
		JobID:             r.JobID.String,
		Boundary:          r.Boundary,
		CreatedAt:         time.UnixMilli(r.CreatedAt),
	}
}

// TaskFilter selects user tasks. Empty fields match everything.
type TaskFilter = storage.TaskFilter

// JobFilter selects jobs. Empty fields match everything.
type JobFilter = storage.JobFilter

// SubscriptionFilter selects event subscriptions. Empty fields match everything.
type SubscriptionFilter = storage.SubscriptionFilter
