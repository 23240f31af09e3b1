package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/google/uuid"
	"github.com/relvacode/iso8601"
	"github.com/segmentio/ksuid"
	"gitlab.com/shar-workflow/bpmnrt/common/expression"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"log/slog"
)

// CreateUserTaskCommand persists a task for the execution waiting at a user task. It returns the task id.
type CreateUserTaskCommand struct {
	defaultPriority
	ExecutionID   uuid.UUID
	TaskName      string
	Documentation string
	Assignee      string
	TaskPriority  int
	Due           string
}

// Name implements Command.
func (c *CreateUserTaskCommand) Name() string { return "CreateUserTask" }

// Execute implements Command.
func (c *CreateUserTaskCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	ex, err := cc.FindExecution(ctx, c.ExecutionID)
	if err != nil {
		return nil, err
	}
	if err := cc.syncExecution(ctx, ex); err != nil {
		return nil, err
	}
	vars := ex.Variables()
	eng := cc.engine.exprEng
	name := c.TaskName
	if name == "" {
		name = ex.node.Name
	}
	if name, err = expression.EvalString(ctx, eng, name, vars); err != nil {
		return nil, fmt.Errorf("create user task %s: %w", ex.node.ID, err)
	}
	row := storage.TaskRow{
		ID:                ksuid.New().String(),
		ExecutionID:       ex.id.String(),
		ProcessInstanceID: ex.processID.String(),
		ActivityID:        ex.node.ID,
		Name:              name,
		Documentation:     c.Documentation,
		Priority:          c.TaskPriority,
		CreatedAt:         cc.now().UnixMilli(),
	}
	if c.Assignee != "" {
		assignee, err := expression.EvalString(ctx, eng, c.Assignee, vars)
		if err != nil {
			return nil, fmt.Errorf("create user task %s: %w", ex.node.ID, err)
		}
		row.Assignee = sql.NullString{String: assignee, Valid: assignee != ""}
	}
	if c.Due != "" {
		due, err := expression.EvalString(ctx, eng, c.Due, vars)
		if err != nil {
			return nil, fmt.Errorf("create user task %s: %w", ex.node.ID, err)
		}
		t, err := iso8601.ParseString(due)
		if err != nil {
			return nil, errors.Fatalf("user task %s due date %q: %w", ex.node.ID, due, errors.ErrBadTimer)
		}
		row.Due = sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
	}
	if err := cc.tx.InsertTask(ctx, row); err != nil {
		return nil, fmt.Errorf("create user task %s: %w", ex.node.ID, err)
	}
	ev := eventFor(EventUserTaskCreated, ex)
	ev.TaskID = row.ID
	ev.Name = row.Name
	cc.notify(ev)
	return row.ID, nil
}

// CompleteUserTaskCommand removes a task and resumes its execution with the given variables.
type CompleteUserTaskCommand struct {
	defaultPriority
	TaskID    string
	Variables model.Vars
}

// Name implements Command.
func (c *CompleteUserTaskCommand) Name() string { return "CompleteUserTask" }

// Execute implements Command.
func (c *CompleteUserTaskCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	task, err := cc.tx.GetTask(ctx, c.TaskID)
	if err != nil {
		return nil, fmt.Errorf("complete user task: %w", err)
	}
	id, err := uuid.Parse(task.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("complete user task %s: %w", task.ID, err)
	}
	ex, err := cc.FindExecution(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("complete user task %s: %w", task.ID, err)
	}
	if _, err := cc.tx.DeleteTask(ctx, task.ID); err != nil {
		return nil, fmt.Errorf("complete user task %s: %w", task.ID, err)
	}
	ev := eventFor(EventUserTaskCompleted, ex)
	ev.TaskID = task.ID
	ev.Name = task.Name
	ev.Variables = c.Variables
	cc.notify(ev)
	ex.Signal(nil, c.Variables, nil)
	return nil, nil
}

// cancelTasks removes the open tasks of ex.
func (cc *CommandContext) cancelTasks(ctx context.Context, ex *Execution) error {
	if !ex.persisted {
		return nil
	}
	tasks, err := cc.tx.ListTasks(ctx, storage.TaskFilter{ExecutionID: ex.id.String()})
	if err != nil {
		return fmt.Errorf("cancel tasks of %s: %w", ex.id, err)
	}
	for _, t := range tasks {
		if _, err := cc.tx.DeleteTask(ctx, t.ID); err != nil {
			return fmt.Errorf("cancel task %s: %w", t.ID, err)
		}
		ev := eventFor(EventUserTaskCanceled, ex)
		ev.TaskID = t.ID
		ev.Name = t.Name
		cc.notify(ev)
		logx.FromContext(ctx).Debug("user task canceled", slog.String(keys.TaskID, t.ID), slog.String(keys.ExecutionID, ex.id.String()))
	}
	return nil
}
