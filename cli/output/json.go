package output

import (
	"encoding/json"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"io"
)

// Json contains the output methods for returning json CLI responses
type Json struct {
	W io.Writer
}

// OutputDeployment returns a CLI response
func (c *Json) OutputDeployment(d *workflow.Deployment) {
	c.outJson(DeploymentOutput{DeploymentID: d.ID, Name: d.Name, Definitions: definitionOutputs(d.Definitions)})
}

// OutputDefinitions returns a CLI response
func (c *Json) OutputDefinitions(defs []workflow.Definition) {
	c.outJson(definitionOutputs(defs))
}

// OutputStarted returns a CLI response
func (c *Json) OutputStarted(processInstanceID string, processKey string) {
	c.outJson(StartedOutput{ProcessInstanceID: processInstanceID, ProcessKey: processKey})
}

// OutputTasks returns a CLI response
func (c *Json) OutputTasks(tasks []workflow.TaskInfo) {
	c.outJson(taskOutputs(tasks))
}

// OutputJobs returns a CLI response
func (c *Json) OutputJobs(jobs []*workflow.Job) {
	c.outJson(jobOutputs(jobs))
}

// OutputVariables returns a CLI response
func (c *Json) OutputVariables(executionID string, vars model.Vars) {
	c.outJson(VariablesOutput{ExecutionID: executionID, Variables: vars})
}

// OutputSignaled returns a CLI response
func (c *Json) OutputSignaled(signal string, delivered int) {
	c.outJson(SignalOutput{Signal: signal, Delivered: delivered})
}

// OutputDone returns a CLI response
func (c *Json) OutputDone(action string, id string) {
	c.outJson(DoneOutput{Action: action, ID: id})
}

func (c *Json) outJson(js interface{}) {
	op, err := json.Marshal(js)
	if err != nil {
		panic(err)
	}
	if _, err := c.W.Write(append(op, '\n')); err != nil {
		panic(err)
	}
}
