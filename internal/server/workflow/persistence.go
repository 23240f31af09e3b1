package workflow

import (
	"bytes"
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"github.com/google/uuid"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"gitlab.com/shar-workflow/bpmnrt/server/vars"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// FindExecution returns an execution of the unit of work, loading its whole process instance on first access.
func (cc *CommandContext) FindExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	if ex, ok := cc.executions[id]; ok {
		return ex, nil
	}
	row, err := cc.tx.GetExecution(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("find execution: %w", err)
	}
	processID, err := uuid.Parse(row.ProcessID)
	if err != nil {
		return nil, fmt.Errorf("find execution %s: bad process id: %w", id, err)
	}
	if err := cc.loadProcessInstance(ctx, processID); err != nil {
		return nil, fmt.Errorf("find execution %s: %w", id, err)
	}
	ex, ok := cc.executions[id]
	if !ok {
		return nil, fmt.Errorf("find execution %s: %w", id, errors.ErrExecutionNotFound)
	}
	return ex, nil
}

func (cc *CommandContext) loadProcessInstance(ctx context.Context, processID uuid.UUID) error {
	if _, ok := cc.trees[processID]; ok {
		return nil
	}
	if err := cc.tx.LockProcessInstance(ctx, processID.String()); err != nil {
		return err
	}
	rows, err := cc.tx.ListExecutions(ctx, processID.String())
	if err != nil {
		return err
	}
	tree := &executionTree{processID: processID, cc: cc, executions: make(map[uuid.UUID]*Execution, len(rows))}
	ids := make([]string, 0, len(rows))
	// Rows come ordered by depth so every parent is built before its children.
	for _, r := range rows {
		ex, err := cc.executionFromRow(ctx, tree, r)
		if err != nil {
			return err
		}
		tree.executions[ex.id] = ex
		if p := tree.get(ex.parentID); p != nil {
			p.children = append(p.children, ex.id)
		}
		ids = append(ids, r.ID)
	}
	varRows, err := cc.tx.ListVariables(ctx, ids)
	if err != nil {
		return err
	}
	for _, vr := range varRows {
		id, err := uuid.Parse(vr.ExecutionID)
		if err != nil {
			return fmt.Errorf("load variable %s: %w", vr.Name, err)
		}
		ex := tree.get(id)
		if ex == nil {
			continue
		}
		v, err := vars.DecodeValue(vr.ValueBlob)
		if err != nil {
			return fmt.Errorf("load variable %s of %s: %w", vr.Name, id, err)
		}
		ex.variables[vr.Name] = v
		ex.snapshot[vr.Name] = vr.ValueBlob
	}
	cc.trees[processID] = tree
	for id, ex := range tree.executions {
		cc.executions[id] = ex
	}
	logx.FromContext(ctx).Debug("loaded process instance", slog.String(keys.ProcessInstanceID, processID.String()), slog.Int(keys.Count, len(rows)))
	return nil
}

func (cc *CommandContext) executionFromRow(ctx context.Context, tree *executionTree, r storage.ExecutionRow) (*Execution, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", r.ID, err)
	}
	m, err := cc.model(ctx, r.DefinitionID)
	if err != nil {
		return nil, err
	}
	ex := &Execution{
		id:           id,
		processID:    tree.processID,
		definitionID: r.DefinitionID,
		model:        m,
		depth:        r.Depth,
		businessKey:  r.BusinessKey.String,
		state:        State(r.State),
		sync:         SyncNoChange,
		persisted:    true,
		createdAt:    time.UnixMilli(r.CreatedAt),
		variables:    model.NewVars(),
		snapshot:     make(map[string][]byte),
		tree:         tree,
	}
	if r.ParentID.Valid {
		if ex.parentID, err = uuid.Parse(r.ParentID.String); err != nil {
			return nil, fmt.Errorf("load execution %s: bad parent: %w", r.ID, err)
		}
	}
	if r.Node.Valid {
		n, ok := m.FindNode(r.Node.String)
		if !ok {
			return nil, errors.Fatalf("load execution %s: node %s not in %s: %w", r.ID, r.Node.String, m.Key, errors.ErrInvalidModel)
		}
		ex.node = n
	}
	if r.Transition.Valid {
		t, ok := m.FindTransition(r.Transition.String)
		if !ok {
			return nil, errors.Fatalf("load execution %s: transition %s not in %s: %w", r.ID, r.Transition.String, m.Key, errors.ErrInvalidModel)
		}
		ex.transition = t
	}
	return ex, nil
}

// model returns the model of a definition, shared by every execution of the unit of work.
func (cc *CommandContext) model(ctx context.Context, definitionID string) (*process.Model, error) {
	if m, ok := cc.models[definitionID]; ok {
		return m, nil
	}
	m, err := cc.engine.models.Model(definitionID, func() (*process.Model, error) {
		return cc.engine.parseDefinition(ctx, cc.tx, definitionID)
	})
	if err != nil {
		return nil, err
	}
	cc.models[definitionID] = m
	return m, nil
}

func (c *Engine) parseDefinition(ctx context.Context, tx *storage.Tx, definitionID string) (*process.Model, error) {
	def, err := tx.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	res, err := tx.GetResource(ctx, def.ResourceID)
	if err != nil {
		return nil, err
	}
	models, err := c.loader.Load(ctx, res.Name, res.Data)
	if err != nil {
		return nil, fmt.Errorf("parse resource %s: %w", res.Name, err)
	}
	for _, m := range models {
		if m.Key == def.ProcessKey {
			return m, nil
		}
	}
	return nil, errors.Fatalf("resource %s has no process %s: %w", res.Name, def.ProcessKey, errors.ErrInvalidModel)
}

// newProcessInstance creates the root execution of a new instance.
func (cc *CommandContext) newProcessInstance(definitionID string, m *process.Model, businessKey string) *Execution {
	id := uuid.New()
	tree := &executionTree{processID: id, cc: cc, executions: make(map[uuid.UUID]*Execution)}
	root := &Execution{
		id:           id,
		processID:    id,
		definitionID: definitionID,
		model:        m,
		businessKey:  businessKey,
		state:        StateActive | StateScope | StateScopeRoot,
		sync:         SyncNew,
		createdAt:    cc.now(),
		variables:    model.NewVars(),
		snapshot:     make(map[string][]byte),
		tree:         tree,
	}
	tree.executions[id] = root
	cc.trees[id] = tree
	cc.track(root)
	cc.models[definitionID] = m
	return root
}

func (ex *Execution) row() storage.ExecutionRow {
	r := storage.ExecutionRow{
		ID:           ex.id.String(),
		ProcessID:    ex.processID.String(),
		DefinitionID: ex.definitionID,
		State:        int(ex.state),
		Depth:        ex.depth,
		CreatedAt:    ex.createdAt.UnixMilli(),
	}
	if ex.parentID != uuid.Nil {
		r.ParentID = sql.NullString{String: ex.parentID.String(), Valid: true}
	}
	if ex.node != nil {
		r.Node = sql.NullString{String: ex.node.ID, Valid: true}
	}
	if ex.transition != nil {
		r.Transition = sql.NullString{String: ex.transition.ID, Valid: true}
	}
	if ex.businessKey != "" {
		r.BusinessKey = sql.NullString{String: ex.businessKey, Valid: true}
	}
	return r
}

// syncExecution makes sure the execution and its ancestors have rows, so dependent rows can reference them.
func (cc *CommandContext) syncExecution(ctx context.Context, ex *Execution) error {
	if ex.persisted {
		return nil
	}
	if p := ex.Parent(); p != nil {
		if err := cc.syncExecution(ctx, p); err != nil {
			return err
		}
	}
	if err := cc.tx.InsertExecution(ctx, ex.row()); err != nil {
		return fmt.Errorf("sync execution %s: %w", ex.id, err)
	}
	ex.persisted = true
	if ex.sync == SyncNew {
		ex.sync = SyncNoChange
	}
	return nil
}

// flush writes every change of the unit of work: new rows parents first, then updates, then deletes
// deepest first, then variables and queued jobs.
func (cc *CommandContext) flush(ctx context.Context) error {
	all := slices.Collect(maps.Values(cc.executions))
	slices.SortFunc(all, func(a, b *Execution) int {
		return cmp.Or(cmp.Compare(a.depth, b.depth), a.createdAt.Compare(b.createdAt), cmp.Compare(a.id.String(), b.id.String()))
	})
	for _, ex := range all {
		if ex.sync == SyncRemoved {
			continue
		}
		if !ex.persisted {
			if err := cc.syncExecution(ctx, ex); err != nil {
				return err
			}
			ex.sync = SyncNoChange
			continue
		}
		if ex.sync == SyncModified {
			if err := cc.tx.UpdateExecution(ctx, ex.row()); err != nil {
				return fmt.Errorf("flush execution %s: %w", ex.id, err)
			}
			ex.sync = SyncNoChange
		}
	}
	for i := len(all) - 1; i >= 0; i-- {
		ex := all[i]
		if ex.sync != SyncRemoved || !ex.persisted {
			continue
		}
		if err := cc.tx.DeleteExecution(ctx, ex.id.String()); err != nil {
			return fmt.Errorf("flush removed execution %s: %w", ex.id, err)
		}
		ex.persisted = false
	}
	for _, ex := range all {
		if ex.sync == SyncRemoved {
			continue
		}
		if err := cc.flushVariables(ctx, ex); err != nil {
			return err
		}
	}
	for _, job := range cc.jobs {
		if err := cc.tx.InsertJob(ctx, job.row()); err != nil {
			return fmt.Errorf("flush job %s: %w", job.ID, err)
		}
	}
	return nil
}

func (cc *CommandContext) flushVariables(ctx context.Context, ex *Execution) error {
	for name := range ex.snapshot {
		if _, ok := ex.variables[name]; ok {
			continue
		}
		if err := cc.tx.DeleteVariable(ctx, ex.id.String(), name); err != nil {
			return fmt.Errorf("flush variables of %s: %w", ex.id, err)
		}
		delete(ex.snapshot, name)
	}
	for _, name := range slices.Sorted(maps.Keys(ex.variables)) {
		v := ex.variables[name]
		blob, err := vars.EncodeValue(v)
		if err != nil {
			return fmt.Errorf("flush variable %s of %s: %w", name, ex.id, err)
		}
		if prev, ok := ex.snapshot[name]; ok && bytes.Equal(prev, blob) {
			continue
		}
		row := storage.VariableRow{ExecutionID: ex.id.String(), Name: name, ValueBlob: blob}
		if s := vars.Searchable(v); s != nil {
			row.ValueSearchable = sql.NullString{String: *s, Valid: true}
		}
		if err := cc.tx.UpsertVariable(ctx, row); err != nil {
			return fmt.Errorf("flush variable %s of %s: %w", name, ex.id, err)
		}
		ex.snapshot[name] = blob
	}
	return nil
}
