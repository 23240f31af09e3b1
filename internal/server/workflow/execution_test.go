package workflow

import (
	"context"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"testing"
)

func TestSubProcessVariableScoping(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("scoped", "Scoped").
		StartEvent("start").
		SubProcess("sub", func(sb *Builder) {
			sb.StartEvent("subStart").
				DelegateTask("bump", "bump").
				UserTask("inner", UserTask{}).
				EndEvent("subEnd").
				Flow("s0", "subStart", "bump").
				Flow("s1", "bump", "inner").
				Flow("s2", "inner", "subEnd")
		}).
		UserTask("after", UserTask{}).
		EndEvent("end").
		Flow("f0", "start", "sub").
		Flow("f1", "sub", "after").
		Flow("f2", "after", "end"))
	te := newTestEngine(t, []*process.Model{m})
	te.RegisterDelegate("bump", func(_ context.Context, ex *Execution) error {
		v, ok := ex.GetVariable("counter")
		if !ok {
			return assert.AnError
		}
		assert.EqualValues(t, 1, v)
		ex.SetVariable("counter", 2)
		ex.SetVariableLocal("scratch", "inner only")
		return nil
	})
	pid := te.start(t, "scoped", map[string]any{"counter": 1})

	tasks := te.tasks(t, pid)
	require.Contains(t, tasks, "inner")
	innerID, err := uuid.Parse(tasks["inner"].ExecutionID)
	require.NoError(t, err)
	assert.NotEqual(t, pid, innerID)

	outer, err := te.GetVariables(ctx, pid)
	require.NoError(t, err)
	assert.EqualValues(t, 1, outer["counter"], "the sub-process shadows counter instead of changing it")
	assert.NotContains(t, outer, "scratch")

	inner, err := te.GetVariables(ctx, innerID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, inner["counter"])
	assert.Equal(t, "inner only", inner["scratch"])

	res, err := te.ExecuteCommand(ctx, &GetVariablesCommand{ExecutionID: innerID, Local: true})
	require.NoError(t, err)
	local := res.(model.Vars)
	assert.EqualValues(t, 2, local["counter"])
	assert.Contains(t, local, "scratch")
}

func TestExecutionTreeShape(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("shape", "Shape").
		StartEvent("start").
		ParallelGateway("fork").
		UserTask("a", UserTask{}).
		SubProcess("sub", func(sb *Builder) {
			sb.StartEvent("subStart").
				UserTask("b", UserTask{}).
				EndEvent("subEnd").
				Flow("s0", "subStart", "b").
				Flow("s1", "b", "subEnd")
		}).
		ParallelGateway("join").
		EndEvent("end").
		Flow("f0", "start", "fork").
		Flow("f1", "fork", "a").
		Flow("f2", "fork", "sub").
		Flow("f3", "a", "join").
		Flow("f4", "sub", "join").
		Flow("f5", "join", "end"))
	te := newTestEngine(t, []*process.Model{m})
	pid := te.start(t, "shape", nil)
	stored := te.count(t, pid)

	_, err := te.ExecuteCommand(ctx, inspect(func(ctx context.Context, cc *CommandContext) (any, error) {
		root, err := cc.FindExecution(ctx, pid)
		require.NoError(t, err)
		assert.Nil(t, root.Parent())
		assert.True(t, root.IsScopeRoot())
		assert.Equal(t, root, root.ProcessInstance())

		seen := 0
		var walk func(ex *Execution)
		walk = func(ex *Execution) {
			seen++
			assert.Equal(t, pid, ex.ProcessInstanceID())
			assert.False(t, ex.IsTerminated())
			for _, c := range ex.Children() {
				assert.Equal(t, ex.ID(), c.ParentID())
				assert.Equal(t, ex.Depth()+1, c.Depth())
				walk(c)
			}
		}
		walk(root)
		assert.Equal(t, stored, seen)
		return nil, nil
	}))
	require.NoError(t, err)

	tasks := te.tasks(t, pid)
	require.Len(t, tasks, 2)
	aID, err := uuid.Parse(tasks["a"].ExecutionID)
	require.NoError(t, err)
	bID, err := uuid.Parse(tasks["b"].ExecutionID)
	require.NoError(t, err)
	_, err = te.ExecuteCommand(ctx, inspect(func(ctx context.Context, cc *CommandContext) (any, error) {
		a, err := cc.FindExecution(ctx, aID)
		require.NoError(t, err)
		b, err := cc.FindExecution(ctx, bID)
		require.NoError(t, err)
		assert.True(t, a.IsConcurrent())
		assert.True(t, a.IsWaiting())
		assert.True(t, b.IsScope())
		assert.Equal(t, "b", b.Node().ID)
		assert.Equal(t, a.Scope(), b.Parent().Scope())
		return nil, nil
	}))
	require.NoError(t, err)
}

func TestTerminateCascadesToDescendants(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("parallel", "Parallel").
		StartEvent("start").
		ParallelGateway("fork").
		UserTask("t1", UserTask{}).
		UserTask("t2", UserTask{}).
		EndEvent("e1").
		EndEvent("e2").
		Flow("f0", "start", "fork").
		Flow("f1", "fork", "t1").
		Flow("f2", "fork", "t2").
		Flow("f3", "t1", "e1").
		Flow("f4", "t2", "e2"))
	te := newTestEngine(t, []*process.Model{m})
	pid := te.start(t, "parallel", nil)
	stored := te.count(t, pid)
	require.Greater(t, stored, 1)

	_, err := te.ExecuteCommand(ctx, inspect(func(ctx context.Context, cc *CommandContext) (any, error) {
		root, err := cc.FindExecution(ctx, pid)
		if err != nil {
			return nil, err
		}
		if err := root.Terminate(false); err != nil {
			return nil, err
		}
		for _, ex := range root.tree.executions {
			assert.True(t, ex.IsTerminated())
			assert.False(t, ex.IsActive())
		}
		return nil, nil
	}))
	require.NoError(t, err)

	assert.Zero(t, te.count(t, pid))
	assert.Empty(t, te.tasks(t, pid))
	assert.Len(t, te.events.OfType(EventUserTaskCanceled), 2)
	assert.Len(t, te.events.OfType(EventProcessEnded), 1)
	assert.Len(t, te.events.OfType(EventExecutionTerminated), stored)
}

func TestExecutionSurvivesReload(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, []*process.Model{singleTaskModel(t)})
	pid := te.start(t, "single", map[string]any{"keep": "me", "drop": 1})

	_, err := te.ExecuteCommand(ctx, inspect(func(ctx context.Context, cc *CommandContext) (any, error) {
		ex, err := cc.FindExecution(ctx, pid)
		if err != nil {
			return nil, err
		}
		ex.SetVariableLocal("s", "text")
		ex.SetVariableLocal("n", 42)
		ex.SetVariableLocal("f", 1.5)
		ex.SetVariableLocal("b", true)
		ex.RemoveVariableLocal("drop")
		return nil, ex.SetBusinessKey("order-7")
	}))
	require.NoError(t, err)

	_, err = te.ExecuteCommand(ctx, inspect(func(ctx context.Context, cc *CommandContext) (any, error) {
		ex, err := cc.FindExecution(ctx, pid)
		require.NoError(t, err)
		assert.Equal(t, "t", ex.Node().ID)
		assert.True(t, ex.IsWaiting())
		assert.Equal(t, "order-7", ex.BusinessKey())
		got := ex.VariablesLocal()
		assert.Equal(t, "me", got["keep"])
		assert.Equal(t, "text", got["s"])
		assert.EqualValues(t, 42, got["n"])
		assert.InDelta(t, 1.5, got["f"], 0)
		assert.Equal(t, true, got["b"])
		assert.NotContains(t, got, "drop")
		return nil, nil
	}))
	require.NoError(t, err)

	found, err := te.FindProcessInstancesByBusinessKey(ctx, "order-7")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, pid.String(), found[0].ID)
}
