package storage

import (
	"context"
	"fmt"
	"github.com/jmoiron/sqlx"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
)

const executionColumns = `id, parent_id, process_id, definition_id, state, node, transition, depth, business_key, created_at`

// InsertExecution writes a new execution.
func (t *Tx) InsertExecution(ctx context.Context, row ExecutionRow) error {
	_, err := t.exec(ctx, "insert execution "+row.ID, `INSERT INTO execution (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.ParentID, row.ProcessID, row.DefinitionID, row.State, row.Node, row.Transition, row.Depth, row.BusinessKey, row.CreatedAt)
	return err
}

// UpdateExecution rewrites the mutable columns of an execution.
func (t *Tx) UpdateExecution(ctx context.Context, row ExecutionRow) error {
	n, err := t.exec(ctx, "update execution "+row.ID, `UPDATE execution SET parent_id = ?, state = ?, node = ?, transition = ?, depth = ?, business_key = ? WHERE id = ?`,
		row.ParentID, row.State, row.Node, row.Transition, row.Depth, row.BusinessKey, row.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update execution %s: %w", row.ID, errors.ErrExecutionNotFound)
	}
	return nil
}

// DeleteExecution removes an execution together with its variables, subscriptions, tasks and jobs.
func (t *Tx) DeleteExecution(ctx context.Context, id string) error {
	for _, q := range []string{
		`DELETE FROM execution_variable WHERE execution_id = ?`,
		`DELETE FROM event_subscription WHERE execution_id = ?`,
		`DELETE FROM task WHERE execution_id = ?`,
		`DELETE FROM job WHERE execution_id = ?`,
		`DELETE FROM execution WHERE id = ?`,
	} {
		if _, err := t.exec(ctx, "delete execution "+id, q, id); err != nil {
			return err
		}
	}
	return nil
}

// GetExecution returns a single execution row.
func (t *Tx) GetExecution(ctx context.Context, id string) (*ExecutionRow, error) {
	row := &ExecutionRow{}
	if err := t.get(ctx, row, errors.ErrExecutionNotFound, "get execution "+id, `SELECT `+executionColumns+` FROM execution WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return row, nil
}

// LockProcessInstance takes a row lock on the root execution of an instance.
// SQLite transactions are started immediate, so the database is already locked for writing.
func (t *Tx) LockProcessInstance(ctx context.Context, processID string) error {
	query := `SELECT id FROM execution WHERE id = ?`
	if t.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}
	var id string
	return t.get(ctx, &id, errors.ErrExecutionNotFound, "lock process instance "+processID, query, processID)
}

// ListExecutions returns every execution of a process instance, parents before children.
func (t *Tx) ListExecutions(ctx context.Context, processID string) ([]ExecutionRow, error) {
	var rows []ExecutionRow
	err := t.selectRows(ctx, &rows, "list executions", `SELECT `+executionColumns+` FROM execution WHERE process_id = ? ORDER BY depth, created_at, id`, processID)
	return rows, err
}

// ListProcessInstances returns the root executions, optionally restricted to a definition.
func (t *Tx) ListProcessInstances(ctx context.Context, definitionID string) ([]ExecutionRow, error) {
	w := &where{clauses: []string{"parent_id IS NULL"}}
	w.eq("definition_id", definitionID)
	var rows []ExecutionRow
	err := t.selectRows(ctx, &rows, "list process instances", `SELECT `+executionColumns+` FROM execution`+w.String()+` ORDER BY created_at, id`, w.args...)
	return rows, err
}

// FindProcessInstancesByBusinessKey returns the root executions with the given business key.
func (t *Tx) FindProcessInstancesByBusinessKey(ctx context.Context, businessKey string) ([]ExecutionRow, error) {
	var rows []ExecutionRow
	err := t.selectRows(ctx, &rows, "find process instances by business key",
		`SELECT `+executionColumns+` FROM execution WHERE parent_id IS NULL AND business_key = ? ORDER BY created_at, id`, businessKey)
	return rows, err
}

// CountExecutions counts the executions of a process instance.
func (t *Tx) CountExecutions(ctx context.Context, processID string) (int, error) {
	var n int
	if err := t.tx.GetContext(ctx, &n, t.q(`SELECT COUNT(*) FROM execution WHERE process_id = ?`), processID); err != nil {
		return 0, fmt.Errorf("count executions: %w", err)
	}
	return n, nil
}

// ListVariables returns the variables of the given executions.
func (t *Tx) ListVariables(ctx context.Context, executionIDs []string) ([]VariableRow, error) {
	if len(executionIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT execution_id, name, value_searchable, value_blob FROM execution_variable WHERE execution_id IN (?) ORDER BY execution_id, name`, executionIDs)
	if err != nil {
		return nil, fmt.Errorf("build variable query: %w", err)
	}
	var rows []VariableRow
	err = t.selectRows(ctx, &rows, "list variables", query, args...)
	return rows, err
}

// UpsertVariable inserts or replaces a variable.
func (t *Tx) UpsertVariable(ctx context.Context, row VariableRow) error {
	_, err := t.exec(ctx, "upsert variable "+row.Name, `INSERT INTO execution_variable (execution_id, name, value_searchable, value_blob) VALUES (?, ?, ?, ?)
ON CONFLICT (execution_id, name) DO UPDATE SET value_searchable = excluded.value_searchable, value_blob = excluded.value_blob`,
		row.ExecutionID, row.Name, row.ValueSearchable, row.ValueBlob)
	return err
}

// DeleteVariable removes a variable.
func (t *Tx) DeleteVariable(ctx context.Context, executionID string, name string) error {
	_, err := t.exec(ctx, "delete variable "+name, `DELETE FROM execution_variable WHERE execution_id = ? AND name = ?`, executionID, name)
	return err
}

// FindExecutionsByVariable returns the ids of executions holding a variable whose searchable form equals value.
// The comparison uses the lower cased, truncated projection and is therefore approximate.
func (t *Tx) FindExecutionsByVariable(ctx context.Context, name string, value string) ([]string, error) {
	var ids []string
	err := t.selectRows(ctx, &ids, "find executions by variable",
		`SELECT execution_id FROM execution_variable WHERE name = ? AND value_searchable = ? ORDER BY execution_id`, name, value)
	return ids, err
}
