package workflow

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
)

// ListExecutions returns the stored executions of a process instance, parents first.
func (c *Engine) ListExecutions(ctx context.Context, processInstanceID uuid.UUID) ([]ExecutionInfo, error) {
	var ret []ExecutionInfo
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		rows, err := tx.ListExecutions(ctx, processInstanceID.String())
		if err != nil {
			return err
		}
		for _, r := range rows {
			ret = append(ret, executionInfoFromRow(r))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list executions of %s: %w", processInstanceID, err)
	}
	return ret, nil
}

// GetExecution returns one stored execution.
func (c *Engine) GetExecution(ctx context.Context, id uuid.UUID) (*ExecutionInfo, error) {
	var ret ExecutionInfo
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		r, err := tx.GetExecution(ctx, id.String())
		if err != nil {
			return err
		}
		ret = executionInfoFromRow(*r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return &ret, nil
}

// CountExecutions returns the number of stored executions of a process instance. It is zero once the
// instance ended.
func (c *Engine) CountExecutions(ctx context.Context, processInstanceID uuid.UUID) (int, error) {
	var n int
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		n, err = tx.CountExecutions(ctx, processInstanceID.String())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("count executions of %s: %w", processInstanceID, err)
	}
	return n, nil
}

// FindProcessInstancesByBusinessKey returns the root executions carrying a business key.
func (c *Engine) FindProcessInstancesByBusinessKey(ctx context.Context, businessKey string) ([]ExecutionInfo, error) {
	var ret []ExecutionInfo
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		rows, err := tx.FindProcessInstancesByBusinessKey(ctx, businessKey)
		if err != nil {
			return err
		}
		for _, r := range rows {
			ret = append(ret, executionInfoFromRow(r))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find process instances by business key: %w", err)
	}
	return ret, nil
}

// GetVariables returns the variables visible from an execution, inner scopes shadowing outer ones.
func (c *Engine) GetVariables(ctx context.Context, executionID uuid.UUID) (model.Vars, error) {
	res, err := c.ExecuteCommand(ctx, &GetVariablesCommand{ExecutionID: executionID})
	if err != nil {
		return nil, fmt.Errorf("get variables of %s: %w", executionID, err)
	}
	return res.(model.Vars), nil
}

// GetVariablesCommand reads the variables visible from an execution. It returns model.Vars.
type GetVariablesCommand struct {
	defaultPriority
	ExecutionID uuid.UUID
	Local       bool
}

// Name implements Command.
func (c *GetVariablesCommand) Name() string { return "GetVariables" }

// Execute implements Command.
func (c *GetVariablesCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	ex, err := cc.FindExecution(ctx, c.ExecutionID)
	if err != nil {
		return nil, err
	}
	if c.Local {
		return ex.VariablesLocal(), nil
	}
	return ex.Variables(), nil
}

// ListTasks returns the open user tasks matching filter, highest priority first.
func (c *Engine) ListTasks(ctx context.Context, filter TaskFilter) ([]TaskInfo, error) {
	var ret []TaskInfo
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		rows, err := tx.ListTasks(ctx, filter)
		if err != nil {
			return err
		}
		for _, r := range rows {
			ret = append(ret, taskFromRow(r))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return ret, nil
}

// GetTask returns an open user task.
func (c *Engine) GetTask(ctx context.Context, id string) (*TaskInfo, error) {
	var ret TaskInfo
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		r, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		ret = taskFromRow(*r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &ret, nil
}

// ListSubscriptions returns the event subscriptions matching filter, deepest execution first.
func (c *Engine) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]SubscriptionInfo, error) {
	var ret []SubscriptionInfo
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		rows, err := tx.FindSubscriptions(ctx, filter)
		if err != nil {
			return err
		}
		for _, r := range rows {
			ret = append(ret, subscriptionFromRow(r))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return ret, nil
}

// ListJobs returns the jobs matching filter in run order.
func (c *Engine) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var ret []*Job
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		rows, err := tx.ListJobs(ctx, filter)
		if err != nil {
			return err
		}
		for _, r := range rows {
			j, err := jobFromRow(r)
			if err != nil {
				return err
			}
			ret = append(ret, j)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return ret, nil
}

// GetJob returns a stored job.
func (c *Engine) GetJob(ctx context.Context, id string) (*Job, error) {
	var ret *Job
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		r, err := tx.GetJob(ctx, id)
		if err != nil {
			return err
		}
		ret, err = jobFromRow(*r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return ret, nil
}

// GetDefinition returns a deployed definition.
func (c *Engine) GetDefinition(ctx context.Context, id string) (*Definition, error) {
	var ret Definition
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		r, err := tx.GetDefinition(ctx, id)
		if err != nil {
			return err
		}
		ret = definitionFromRow(*r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	return &ret, nil
}

// LatestDefinition returns the highest version deployed for a process key.
func (c *Engine) LatestDefinition(ctx context.Context, processKey string) (*Definition, error) {
	var ret Definition
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		r, err := tx.LatestDefinition(ctx, processKey)
		if err != nil {
			return err
		}
		ret = definitionFromRow(*r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("latest definition of %s: %w", processKey, err)
	}
	return &ret, nil
}

// ListDefinitions returns every deployed definition.
func (c *Engine) ListDefinitions(ctx context.Context) ([]Definition, error) {
	var ret []Definition
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		rows, err := tx.ListDefinitions(ctx)
		if err != nil {
			return err
		}
		for _, r := range rows {
			ret = append(ret, definitionFromRow(r))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	return ret, nil
}

// Model returns the parsed model of a definition.
func (c *Engine) Model(ctx context.Context, definitionID string) (*process.Model, error) {
	var m *process.Model
	err := c.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		m, err = c.models.Model(definitionID, func() (*process.Model, error) {
			return c.parseDefinition(ctx, tx, definitionID)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return m, nil
}
