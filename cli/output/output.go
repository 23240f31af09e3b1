// Package output renders command line results as text tables or JSON.
package output

import (
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"io"
)

// Method represents the output method
type Method interface {
	OutputDeployment(d *workflow.Deployment)
	OutputDefinitions(defs []workflow.Definition)
	OutputStarted(processInstanceID string, processKey string)
	OutputTasks(tasks []workflow.TaskInfo)
	OutputJobs(jobs []*workflow.Job)
	OutputVariables(executionID string, vars model.Vars)
	OutputSignaled(signal string, delivered int)
	OutputDone(action string, id string)
}

// New returns the JSON method if asJSON is set, and the text method otherwise. Both write to w.
func New(w io.Writer, asJSON bool) Method { //nolint:ireturn
	if asJSON {
		return &Json{W: w}
	}
	return &Text{W: w}
}

// DefinitionOutput is the output format for a deployed process definition.
type DefinitionOutput struct {
	ID         string `json:"id"`
	ProcessKey string `json:"processKey"`
	Name       string `json:"name,omitempty"`
	Version    int    `json:"version"`
}

// DeploymentOutput is the output format for a deployment.
type DeploymentOutput struct {
	DeploymentID string             `json:"deploymentId"`
	Name         string             `json:"name"`
	Definitions  []DefinitionOutput `json:"definitions"`
}

// StartedOutput is the output format for starting a process instance.
type StartedOutput struct {
	ProcessInstanceID string `json:"processInstanceId"`
	ProcessKey        string `json:"processKey,omitempty"`
}

// TaskOutput is the output format for an open user task.
type TaskOutput struct {
	ID                string `json:"id"`
	ProcessInstanceID string `json:"processInstanceId"`
	ActivityID        string `json:"activityId"`
	Name              string `json:"name,omitempty"`
	Assignee          string `json:"assignee,omitempty"`
	Priority          int    `json:"priority"`
	Due               int64  `json:"due,omitempty"`
}

// JobOutput is the output format for a pending job.
type JobOutput struct {
	ID                string `json:"id"`
	ProcessInstanceID string `json:"processInstanceId"`
	HandlerType       string `json:"handlerType"`
	Retries           int    `json:"retries"`
	RunAt             int64  `json:"runAt,omitempty"`
	Exception         string `json:"exception,omitempty"`
}

// VariablesOutput is the output format for the variables visible to an execution.
type VariablesOutput struct {
	ExecutionID string     `json:"executionId"`
	Variables   model.Vars `json:"variables"`
}

// SignalOutput is the output format for a broadcast signal.
type SignalOutput struct {
	Signal    string `json:"signal"`
	Delivered int    `json:"delivered"`
}

// DoneOutput is the output format for a command that only reports success.
type DoneOutput struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

func definitionOutputs(defs []workflow.Definition) []DefinitionOutput {
	ret := make([]DefinitionOutput, 0, len(defs))
	for _, d := range defs {
		ret = append(ret, DefinitionOutput{ID: d.ID, ProcessKey: d.ProcessKey, Name: d.Name, Version: d.Version})
	}
	return ret
}

func taskOutputs(tasks []workflow.TaskInfo) []TaskOutput {
	ret := make([]TaskOutput, 0, len(tasks))
	for _, t := range tasks {
		o := TaskOutput{ID: t.ID, ProcessInstanceID: t.ProcessInstanceID, ActivityID: t.ActivityID, Name: t.Name, Assignee: t.Assignee, Priority: t.Priority}
		if t.Due != nil {
			o.Due = t.Due.UnixMilli()
		}
		ret = append(ret, o)
	}
	return ret
}

func jobOutputs(jobs []*workflow.Job) []JobOutput {
	ret := make([]JobOutput, 0, len(jobs))
	for _, j := range jobs {
		o := JobOutput{ID: j.ID, ProcessInstanceID: j.ProcessInstanceID.String(), HandlerType: j.HandlerType, Retries: j.Retries, Exception: j.Exception}
		if j.RunAt != nil {
			o.RunAt = j.RunAt.UnixMilli()
		}
		ret = append(ret, o)
	}
	return ret
}
