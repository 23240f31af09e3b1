package storage

import (
	"context"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
)

const taskColumns = `id, execution_id, process_instance_id, activity_id, name, documentation, priority, assignee, due, created_at`

// InsertTask writes a user task.
func (t *Tx) InsertTask(ctx context.Context, row TaskRow) error {
	_, err := t.exec(ctx, "insert task "+row.ID, `INSERT INTO task (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.ExecutionID, row.ProcessInstanceID, row.ActivityID, row.Name, row.Documentation, row.Priority, row.Assignee, row.Due, row.CreatedAt)
	return err
}

// GetTask returns a user task by id.
func (t *Tx) GetTask(ctx context.Context, id string) (*TaskRow, error) {
	row := &TaskRow{}
	if err := t.get(ctx, row, errors.ErrTaskNotFound, "get task "+id, `SELECT `+taskColumns+` FROM task WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteTask removes a user task. It reports whether a row was deleted.
func (t *Tx) DeleteTask(ctx context.Context, id string) (bool, error) {
	n, err := t.exec(ctx, "delete task "+id, `DELETE FROM task WHERE id = ?`, id)
	return n > 0, err
}

// ListTasks returns the matching user tasks, highest priority first.
func (t *Tx) ListTasks(ctx context.Context, filter TaskFilter) ([]TaskRow, error) {
	w := &where{}
	w.eq("process_instance_id", filter.ProcessInstanceID)
	w.eq("execution_id", filter.ExecutionID)
	w.eq("activity_id", filter.ActivityID)
	w.eq("name", filter.Name)
	w.eq("assignee", filter.Assignee)
	var rows []TaskRow
	err := t.selectRows(ctx, &rows, "list tasks", `SELECT `+taskColumns+` FROM task`+w.String()+` ORDER BY priority DESC, created_at, id`, w.args...)
	return rows, err
}
