package storage

import (
	"context"
	"database/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, DriverSQLite, "file:"+filepath.Join(t.TempDir(), "bpmnrt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func str(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Migrate(ctx))
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.db.ExecContext(ctx, "UPDATE schema_version SET version = '9.0.0'")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Migrate(ctx), errors.ErrSchemaTooNew)
}

func TestDefinitionVersions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	err := s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertDeployment(ctx, DeploymentRow{ID: "d1", Name: "orders", CreatedAt: 1}))
		require.NoError(t, tx.InsertResource(ctx, ResourceRow{ID: "r1", DeploymentID: "d1", Name: "orders.bpmn", Data: []byte("<xml/>")}))
		require.NoError(t, tx.InsertDefinition(ctx, DefinitionRow{ID: "p1", DeploymentID: "d1", ResourceID: "r1", ProcessKey: "order", Name: "Order", Version: 1, CreatedAt: 1}))
		require.NoError(t, tx.InsertDefinition(ctx, DefinitionRow{ID: "p2", DeploymentID: "d1", ResourceID: "r1", ProcessKey: "order", Name: "Order", Version: 2, CreatedAt: 2}))
		dup := tx.InsertDefinition(ctx, DefinitionRow{ID: "p3", DeploymentID: "d1", ResourceID: "r1", ProcessKey: "order", Name: "Order", Version: 2, CreatedAt: 3})
		assert.True(t, s.IsDupEntryError(dup))
		return nil
	})
	require.NoError(t, err)

	err = s.View(ctx, func(tx *Tx) error {
		latest, err := tx.LatestDefinition(ctx, "order")
		require.NoError(t, err)
		assert.Equal(t, "p2", latest.ID)
		assert.Equal(t, 2, latest.Version)
		_, err = tx.LatestDefinition(ctx, "missing")
		assert.ErrorIs(t, err, errors.ErrDefinitionNotFound)
		defs, err := tx.ListDefinitions(ctx)
		require.NoError(t, err)
		assert.Len(t, defs, 2)
		res, err := tx.ListResources(ctx, "d1")
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, []byte("<xml/>"), res[0].Data)
		return nil
	})
	require.NoError(t, err)
}

func TestResourceWithoutData(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	err := s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertDeployment(ctx, DeploymentRow{ID: "d1", Name: "built", CreatedAt: 1}))
		return tx.InsertResource(ctx, ResourceRow{ID: "r1", DeploymentID: "d1", Name: "in-memory"})
	})
	require.NoError(t, err)

	err = s.View(ctx, func(tx *Tx) error {
		res, err := tx.GetResource(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "in-memory", res.Name)
		assert.Empty(t, res.Data)
		return nil
	})
	require.NoError(t, err)
}

func TestProcessSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertProcessSubscription(ctx, ProcessSubscriptionRow{ID: "1", DefinitionID: "p1", ProcessKey: "order", Type: SubscriptionMessage, Name: "orderPlaced", NodeID: "start"}))
		require.NoError(t, tx.InsertProcessSubscription(ctx, ProcessSubscriptionRow{ID: "2", DefinitionID: "q1", ProcessKey: "audit", Type: SubscriptionMessage, Name: "orderPlaced", NodeID: "start"}))
		require.NoError(t, tx.DeleteProcessSubscriptions(ctx, "order"))
		rows, err := tx.FindProcessSubscriptions(ctx, SubscriptionMessage, "orderPlaced")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "audit", rows[0].ProcessKey)
		return nil
	}))
}

func TestExecutionsAndVariables(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertExecution(ctx, ExecutionRow{ID: "root", ProcessID: "root", DefinitionID: "p1", State: 1, Node: str("start"), BusinessKey: str("bk"), CreatedAt: 1}))
		require.NoError(t, tx.InsertExecution(ctx, ExecutionRow{ID: "child", ParentID: str("root"), ProcessID: "root", DefinitionID: "p1", State: 3, Node: str("a"), Depth: 1, CreatedAt: 2}))
		require.NoError(t, tx.UpsertVariable(ctx, VariableRow{ExecutionID: "root", Name: "x", ValueSearchable: str("1"), ValueBlob: []byte{1}}))
		require.NoError(t, tx.UpsertVariable(ctx, VariableRow{ExecutionID: "root", Name: "x", ValueSearchable: str("2"), ValueBlob: []byte{2}}))
		require.NoError(t, tx.UpsertVariable(ctx, VariableRow{ExecutionID: "child", Name: "y", ValueBlob: []byte{3}}))
		return nil
	}))
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.LockProcessInstance(ctx, "root"))
		rows, err := tx.ListExecutions(ctx, "root")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "root", rows[0].ID)
		assert.False(t, rows[0].ParentID.Valid)
		assert.Equal(t, "root", rows[1].ParentID.String)

		vars, err := tx.ListVariables(ctx, []string{"root", "child"})
		require.NoError(t, err)
		require.Len(t, vars, 2)
		assert.Equal(t, []byte{2}, vars[1].ValueBlob)
		assert.Equal(t, "2", vars[1].ValueSearchable.String)
		assert.False(t, vars[0].ValueSearchable.Valid)

		ids, err := tx.FindExecutionsByVariable(ctx, "x", "2")
		require.NoError(t, err)
		assert.Equal(t, []string{"root"}, ids)

		rows[1].State = 17
		require.NoError(t, tx.UpdateExecution(ctx, rows[1]))
		got, err := tx.GetExecution(ctx, "child")
		require.NoError(t, err)
		assert.Equal(t, 17, got.State)

		require.NoError(t, tx.DeleteExecution(ctx, "child"))
		n, err := tx.CountExecutions(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, err = tx.GetExecution(ctx, "child")
		assert.ErrorIs(t, err, errors.ErrExecutionNotFound)
		assert.ErrorIs(t, tx.UpdateExecution(ctx, ExecutionRow{ID: "gone"}), errors.ErrExecutionNotFound)

		roots, err := tx.FindProcessInstancesByBusinessKey(ctx, "bk")
		require.NoError(t, err)
		assert.Len(t, roots, 1)
		return nil
	}))
}

func TestSubscriptionsOrderedDeepestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertExecution(ctx, ExecutionRow{ID: "root", ProcessID: "root", DefinitionID: "p1", CreatedAt: 1}))
		require.NoError(t, tx.InsertExecution(ctx, ExecutionRow{ID: "inner", ParentID: str("root"), ProcessID: "root", DefinitionID: "p1", Depth: 1, CreatedAt: 1}))
		require.NoError(t, tx.InsertSubscription(ctx, SubscriptionRow{ID: "s1", ExecutionID: "root", ActivityID: "a", Node: "a", ProcessInstanceID: "root", Type: SubscriptionSignal, Name: "go", CreatedAt: 1}))
		require.NoError(t, tx.InsertSubscription(ctx, SubscriptionRow{ID: "s2", ExecutionID: "inner", ActivityID: "b", Node: "bnd", ProcessInstanceID: "root", Type: SubscriptionSignal, Name: "go", CreatedAt: 2, Boundary: true}))
		require.NoError(t, tx.InsertSubscription(ctx, SubscriptionRow{ID: "s3", ExecutionID: "inner", ActivityID: "b", Node: "b", ProcessInstanceID: "root", Type: SubscriptionMessage, Name: "go", CreatedAt: 3}))

		rows, err := tx.FindSubscriptions(ctx, SubscriptionFilter{Type: SubscriptionSignal, Name: "go"})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "s2", rows[0].ID)
		assert.True(t, rows[0].Boundary)
		assert.Equal(t, "s1", rows[1].ID)

		deleted, err := tx.DeleteSubscription(ctx, "s2")
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = tx.DeleteSubscription(ctx, "s2")
		require.NoError(t, err)
		assert.False(t, deleted)
		_, err = tx.GetSubscription(ctx, "s2")
		assert.ErrorIs(t, err, errors.ErrSubscriptionNotFound)
		return nil
	}))
}

func TestAcquireJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertJob(ctx, JobRow{ID: "due", ExecutionID: "e", ProcessInstanceID: "p", HandlerType: "timer", Retries: 3, RunAt: sql.NullInt64{Int64: 100, Valid: true}, CreatedAt: 1}))
		require.NoError(t, tx.InsertJob(ctx, JobRow{ID: "later", ExecutionID: "e", ProcessInstanceID: "p", HandlerType: "timer", Retries: 3, RunAt: sql.NullInt64{Int64: 500, Valid: true}, CreatedAt: 1}))
		require.NoError(t, tx.InsertJob(ctx, JobRow{ID: "now", ExecutionID: "e", ProcessInstanceID: "p", HandlerType: "async-continuation", Retries: 3, CreatedAt: 2}))
		require.NoError(t, tx.InsertJob(ctx, JobRow{ID: "spent", ExecutionID: "e", ProcessInstanceID: "p", HandlerType: "timer", Retries: 0, CreatedAt: 3}))
		return nil
	}))

	var claimed []JobRow
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		var err error
		claimed, err = tx.AcquireJobs(ctx, "worker-1", 200, 10, 1000)
		return err
	}))
	require.Len(t, claimed, 2)
	assert.Equal(t, "now", claimed[0].ID)
	assert.Equal(t, "due", claimed[1].ID)
	assert.Equal(t, "worker-1", claimed[0].LockOwner.String)

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		again, err := tx.AcquireJobs(ctx, "worker-2", 300, 10, 1000)
		require.NoError(t, err)
		assert.Empty(t, again)
		expired, err := tx.AcquireJobs(ctx, "worker-2", 1300, 1, 1000)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "worker-2", expired[0].LockOwner.String)
		return nil
	}))

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.FailJob(ctx, "due", "boom"))
		j, err := tx.GetJob(ctx, "due")
		require.NoError(t, err)
		assert.Equal(t, 2, j.Retries)
		assert.Equal(t, "boom", j.Exception.String)
		assert.False(t, j.LockOwner.Valid)

		require.NoError(t, tx.SetJobRetries(ctx, "spent", 1))
		j, err = tx.GetJob(ctx, "spent")
		require.NoError(t, err)
		assert.Equal(t, 1, j.Retries)
		assert.ErrorIs(t, tx.SetJobRetries(ctx, "missing", 1), errors.ErrJobNotFound)

		jobs, err := tx.ListJobs(ctx, JobFilter{HandlerType: "timer"})
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
		return nil
	}))
}

func TestTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertTask(ctx, TaskRow{ID: "t1", ExecutionID: "e1", ProcessInstanceID: "p", ActivityID: "approve", Name: "Approve", Priority: 10, Assignee: str("ann"), CreatedAt: 1}))
		require.NoError(t, tx.InsertTask(ctx, TaskRow{ID: "t2", ExecutionID: "e2", ProcessInstanceID: "p", ActivityID: "review", Name: "Review", Priority: 50, CreatedAt: 2}))
		all, err := tx.ListTasks(ctx, TaskFilter{ProcessInstanceID: "p"})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "t2", all[0].ID)
		mine, err := tx.ListTasks(ctx, TaskFilter{Assignee: "ann"})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		deleted, err := tx.DeleteTask(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, deleted)
		_, err = tx.GetTask(ctx, "t1")
		assert.ErrorIs(t, err, errors.ErrTaskNotFound)
		return nil
	}))
}

func TestViewRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		return tx.InsertTask(ctx, TaskRow{ID: "t1", ExecutionID: "e", ProcessInstanceID: "p", ActivityID: "a", Name: "A", CreatedAt: 1})
	}))
	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		_, err := tx.GetTask(ctx, "t1")
		assert.ErrorIs(t, err, errors.ErrTaskNotFound)
		return nil
	}))
}
