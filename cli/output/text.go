package output

import (
	"fmt"
	"github.com/pterm/pterm"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"io"
	"slices"
	"strconv"
	"time"
)

// Text contains the output methods for human readable CLI responses
type Text struct {
	W io.Writer
}

// OutputDeployment returns a CLI response
func (c *Text) OutputDeployment(d *workflow.Deployment) {
	c.println(pterm.Success.Sprintf("deployed %s as %s", d.Name, d.ID))
	c.OutputDefinitions(d.Definitions)
}

// OutputDefinitions returns a CLI response
func (c *Text) OutputDefinitions(defs []workflow.Definition) {
	data := pterm.TableData{{"ID", "KEY", "NAME", "VERSION"}}
	for _, d := range definitionOutputs(defs) {
		data = append(data, []string{d.ID, d.ProcessKey, d.Name, strconv.Itoa(d.Version)})
	}
	c.table(data)
}

// OutputStarted returns a CLI response
func (c *Text) OutputStarted(processInstanceID string, processKey string) {
	c.println(pterm.Success.Sprintf("started %s: %s", processKey, processInstanceID))
}

// OutputTasks returns a CLI response
func (c *Text) OutputTasks(tasks []workflow.TaskInfo) {
	data := pterm.TableData{{"ID", "PROCESS INSTANCE", "ACTIVITY", "NAME", "ASSIGNEE", "PRIORITY", "DUE"}}
	for _, t := range taskOutputs(tasks) {
		data = append(data, []string{t.ID, t.ProcessInstanceID, t.ActivityID, t.Name, t.Assignee, strconv.Itoa(t.Priority), millis(t.Due)})
	}
	c.table(data)
}

// OutputJobs returns a CLI response
func (c *Text) OutputJobs(jobs []*workflow.Job) {
	data := pterm.TableData{{"ID", "PROCESS INSTANCE", "HANDLER", "RETRIES", "RUN AT", "EXCEPTION"}}
	for _, j := range jobOutputs(jobs) {
		data = append(data, []string{j.ID, j.ProcessInstanceID, j.HandlerType, strconv.Itoa(j.Retries), millis(j.RunAt), j.Exception})
	}
	c.table(data)
}

// OutputVariables returns a CLI response
func (c *Text) OutputVariables(executionID string, vars model.Vars) {
	c.println(pterm.Info.Sprintf("variables of %s", executionID))
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	slices.Sort(names)
	data := pterm.TableData{{"NAME", "TYPE", "VALUE"}}
	for _, k := range names {
		data = append(data, []string{k, fmt.Sprintf("%T", vars[k]), fmt.Sprint(vars[k])})
	}
	c.table(data)
}

// OutputSignaled returns a CLI response
func (c *Text) OutputSignaled(signal string, delivered int) {
	c.println(pterm.Success.Sprintf("signal %s delivered to %d subscriptions", signal, delivered))
}

// OutputDone returns a CLI response
func (c *Text) OutputDone(action string, id string) {
	c.println(pterm.Success.Sprintf("%s %s", action, id))
}

func (c *Text) table(data pterm.TableData) {
	s, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		panic(err)
	}
	c.println(s)
}

func (c *Text) println(s string) {
	if _, err := fmt.Fprintln(c.W, s); err != nil {
		panic(err)
	}
}

func millis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
