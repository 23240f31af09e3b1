package workflow

import (
	"context"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/vars"
	"testing"
	"time"
)

func choiceModel(t *testing.T) *process.Model {
	return mustBuild(t, NewBuilder("choose", "Choose").
		StartEvent("start").
		ExclusiveGateway("gw").
		UserTask("task1", UserTask{Name: "task1"}).
		UserTask("task2", UserTask{Name: "task2"}).
		UserTask("task3", UserTask{Name: "task3"}).
		EndEvent("end").
		Flow("f0", "start", "gw").
		ConditionalFlow("fA", "gw", "task1", `=choice == "A"`).
		ConditionalFlow("fB", "gw", "task2", `=choice == "B"`).
		DefaultFlow("fD", "gw", "task3").
		Flow("f1", "task1", "end").
		Flow("f2", "task2", "end").
		Flow("f3", "task3", "end"))
}

func TestExclusiveGatewayRoutesByChoice(t *testing.T) {
	cases := map[string]string{
		"A": "task1",
		"B": "task2",
		"C": "task3",
	}
	for choice, want := range cases {
		t.Run(choice, func(t *testing.T) {
			ctx := context.Background()
			te := newTestEngine(t, []*process.Model{choiceModel(t)})
			pid := te.start(t, "choose", model.Vars{"choice": choice})

			tasks := te.tasks(t, pid)
			require.Len(t, tasks, 1)
			assert.Equal(t, want, tasks[want].Name)

			require.NoError(t, te.CompleteUserTask(ctx, tasks[want].ID, nil))
			assert.Zero(t, te.count(t, pid))
			assert.Len(t, te.events.OfType(EventProcessEnded), 1)
		})
	}
}

func TestExclusiveGatewayTakesFirstMatchInDeclarationOrder(t *testing.T) {
	m := mustBuild(t, NewBuilder("first", "First").
		StartEvent("start").
		ExclusiveGateway("gw").
		UserTask("big", UserTask{}).
		UserTask("positive", UserTask{}).
		EndEvent("end").
		Flow("f0", "start", "gw").
		ConditionalFlow("f1", "gw", "big", "=x > 1").
		ConditionalFlow("f2", "gw", "positive", "=x > 0").
		Flow("f3", "big", "end").
		Flow("f4", "positive", "end"))
	te := newTestEngine(t, []*process.Model{m})
	pid := te.start(t, "first", model.Vars{"x": 5})

	tasks := te.tasks(t, pid)
	assert.Len(t, tasks, 1)
	assert.Contains(t, tasks, "big")
}

func TestExclusiveGatewayWithoutMatchFailsAndPersistsNothing(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("strict", "Strict").
		StartEvent("start").
		ExclusiveGateway("gw").
		UserTask("a", UserTask{}).
		EndEvent("end").
		Flow("f0", "start", "gw").
		ConditionalFlow("f1", "gw", "a", `=choice == "A"`).
		Flow("f2", "a", "end"))
	te := newTestEngine(t, []*process.Model{m})

	_, err := te.StartProcessInstanceByKey(ctx, "strict", model.Vars{"choice": "Z"}, "")
	require.ErrorIs(t, err, errors.ErrNoOutgoingTransition)
	assert.True(t, errors.IsFatal(err))

	tasks, err := te.ListTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Empty(t, te.events.OfType(EventProcessStarted))
}

func TestParallelForkJoinsAllBranches(t *testing.T) {
	m := mustBuild(t, NewBuilder("parallel", "Parallel").
		StartEvent("start").
		ParallelGateway("fork").
		UserTask("t1", UserTask{}).
		UserTask("t2", UserTask{}).
		UserTask("t3", UserTask{}).
		ParallelGateway("join").
		UserTask("final", UserTask{}).
		EndEvent("end").
		Flow("f0", "start", "fork").
		Flow("f1", "fork", "t1").
		Flow("f2", "fork", "t2").
		Flow("f3", "fork", "t3").
		Flow("j1", "t1", "join").
		Flow("j2", "t2", "join").
		Flow("j3", "t3", "join").
		Flow("f4", "join", "final").
		Flow("f5", "final", "end"))
	te := newTestEngine(t, []*process.Model{m})
	pid := te.start(t, "parallel", nil)
	assert.Len(t, te.tasks(t, pid), 3)

	te.complete(t, pid, "t1", nil)
	te.complete(t, pid, "t2", nil)
	assert.Positive(t, te.count(t, pid))
	assert.NotContains(t, te.tasks(t, pid), "final")

	te.complete(t, pid, "t3", nil)
	tasks := te.tasks(t, pid)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks, "final")
	assert.Positive(t, te.count(t, pid))

	te.complete(t, pid, "final", nil)
	assert.Zero(t, te.count(t, pid))
}

func TestReceiveTaskResumesWithVariables(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("receive", "Receive").
		StartEvent("start").
		ReceiveTask("wait", "payment").
		UserTask("after", UserTask{}).
		EndEvent("end").
		Flow("f0", "start", "wait").
		Flow("f1", "wait", "after").
		Flow("f2", "after", "end"))
	te := newTestEngine(t, []*process.Model{m})
	pid := te.start(t, "receive", nil)

	exs, err := te.ListExecutions(ctx, pid)
	require.NoError(t, err)
	require.Len(t, exs, 1)
	assert.Equal(t, "wait", exs[0].NodeID)
	assert.True(t, exs[0].IsWaiting())

	require.NoError(t, te.Signal(ctx, pid, nil, model.Vars{"x": 1}))

	got, err := te.GetVariables(ctx, pid)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got["x"])
	assert.Contains(t, te.tasks(t, pid), "after")
	subs, err := te.ListSubscriptions(ctx, SubscriptionFilter{ProcessInstanceID: pid.String()})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestReceiveTaskRejectsOtherSignals(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("receive", "Receive").
		StartEvent("start").
		ReceiveTask("wait", "payment").
		EndEvent("end").
		Flow("f0", "start", "wait").
		Flow("f1", "wait", "end"))
	te := newTestEngine(t, []*process.Model{m})
	pid := te.start(t, "receive", nil)

	other := "refund"
	err := te.Signal(ctx, pid, &other, nil)
	require.ErrorIs(t, err, errors.ErrSignalMismatch)
	assert.Equal(t, 1, te.count(t, pid))
}

func TestMessageCorrelatesToWaitingReceiveTask(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("receive", "Receive").
		StartEvent("start").
		ReceiveTask("wait", `="payment-" + order`).
		EndEvent("end").
		Flow("f0", "start", "wait").
		Flow("f1", "wait", "end"))
	te := newTestEngine(t, []*process.Model{m})
	pid := te.start(t, "receive", model.Vars{"order": "42"})

	err := te.MessageEventReceived(ctx, "payment-7", uuid.Nil, nil)
	require.ErrorIs(t, err, errors.ErrSubscriptionNotFound)

	require.NoError(t, te.MessageEventReceived(ctx, "payment-42", uuid.Nil, nil))
	assert.Zero(t, te.count(t, pid))
}

func TestEventBasedGatewayFirstEventWins(t *testing.T) {
	ctx := context.Background()
	b := NewBuilder("race", "Race").
		StartEvent("start").
		EventBasedGateway("gw").
		Flow("f0", "start", "gw")
	for _, s := range []string{"A", "B", "C"} {
		b.CatchEvent("catch"+s, SignalEvent(s)).
			UserTask("task"+s, UserTask{}).
			EndEvent("end"+s).
			Flow("g"+s, "gw", "catch"+s).
			Flow("c"+s, "catch"+s, "task"+s).
			Flow("e"+s, "task"+s, "end"+s)
	}
	te := newTestEngine(t, []*process.Model{mustBuild(t, b)})
	pid := te.start(t, "race", nil)

	subs, err := te.ListSubscriptions(ctx, SubscriptionFilter{ProcessInstanceID: pid.String()})
	require.NoError(t, err)
	assert.Len(t, subs, 3)

	n, err := te.SignalEventReceived(ctx, "B", uuid.Nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	subs, err = te.ListSubscriptions(ctx, SubscriptionFilter{ProcessInstanceID: pid.String()})
	require.NoError(t, err)
	assert.Empty(t, subs)
	tasks := te.tasks(t, pid)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks, "taskB")

	exs, err := te.ListExecutions(ctx, pid)
	require.NoError(t, err)
	active := 0
	for _, ex := range exs {
		if ex.IsActive() {
			active++
			assert.Equal(t, "taskB", ex.NodeID)
		}
	}
	assert.Equal(t, 1, active)

	// The subscription is gone, so a second delivery changes nothing.
	n, err = te.SignalEventReceived(ctx, "B", uuid.Nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, te.tasks(t, pid), "taskB")
}

func TestEventBasedGatewayCannotBeSignalledDirectly(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("race", "Race").
		StartEvent("start").
		EventBasedGateway("gw").
		CatchEvent("a", SignalEvent("A")).
		CatchEvent("b", MessageEvent("B")).
		EndEvent("end").
		Flow("f0", "start", "gw").
		Flow("f1", "gw", "a").
		Flow("f2", "gw", "b").
		Flow("f3", "a", "end").
		Flow("f4", "b", "end"))
	te := newTestEngine(t, []*process.Model{m})
	pid := te.start(t, "race", nil)

	err := te.Signal(ctx, pid, nil, nil)
	require.ErrorIs(t, err, errors.ErrEventGatewaySignaledDirectly)
}

func timeoutModel(t *testing.T, interrupting bool) *process.Model {
	return mustBuild(t, NewBuilder("timeout", "Timeout").
		StartEvent("start").
		UserTask("review", UserTask{Name: "Review"}).
		EndEvent("done").
		BoundaryEvent("late", "review", TimerDuration("PT1H"), interrupting).
		UserTask("escalate", UserTask{Name: "Escalate"}).
		EndEvent("escalated").
		Flow("f0", "start", "review").
		Flow("f1", "review", "done").
		Flow("f2", "late", "escalate").
		Flow("f3", "escalate", "escalated"))
}

func TestInterruptingTimerBoundaryCancelsTask(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	te := newTestEngine(t, []*process.Model{timeoutModel(t, true)}, WithClock(clock.Now))
	pid := te.start(t, "timeout", nil)

	jobs, err := te.ListJobs(ctx, JobFilter{ProcessInstanceID: pid.String(), HandlerType: JobTypeTimer})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].RunAt)
	assert.Equal(t, clock.Now().Add(time.Hour).UnixMilli(), jobs[0].RunAt.UnixMilli())
	assert.Contains(t, te.tasks(t, pid), "review")

	clock.Advance(2 * time.Hour)
	require.NoError(t, te.ExecuteJob(ctx, jobs[0].ID, ""))

	tasks := te.tasks(t, pid)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks, "escalate")
	assert.Len(t, te.events.OfType(EventUserTaskCanceled), 1)
	jobs, err = te.ListJobs(ctx, JobFilter{ProcessInstanceID: pid.String()})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	te.complete(t, pid, "escalate", nil)
	assert.Zero(t, te.count(t, pid))
	for _, ev := range te.events.OfType(EventActivityCompleted) {
		assert.NotEqual(t, "review", ev.NodeID)
	}
}

func TestCompletingTaskWithdrawsTimer(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	te := newTestEngine(t, []*process.Model{timeoutModel(t, true)}, WithClock(clock.Now))
	pid := te.start(t, "timeout", nil)
	jobs, err := te.ListJobs(ctx, JobFilter{HandlerType: JobTypeTimer})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	te.complete(t, pid, "review", nil)
	assert.Zero(t, te.count(t, pid))

	jobs, err = te.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestNonInterruptingTimerBoundaryKeepsTask(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	te := newTestEngine(t, []*process.Model{timeoutModel(t, false)}, WithClock(clock.Now))
	pid := te.start(t, "timeout", nil)

	jobs, err := te.ListJobs(ctx, JobFilter{HandlerType: JobTypeTimer})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	clock.Advance(2 * time.Hour)
	require.NoError(t, te.ExecuteJob(ctx, jobs[0].ID, ""))

	tasks := te.tasks(t, pid)
	assert.Len(t, tasks, 2)
	assert.Contains(t, tasks, "review")
	assert.Contains(t, tasks, "escalate")

	te.complete(t, pid, "escalate", nil)
	assert.Positive(t, te.count(t, pid))
	te.complete(t, pid, "review", nil)
	assert.Zero(t, te.count(t, pid))
}

func TestSignalBoundaryPrefersDeepestSubscriber(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("nested", "Nested").
		StartEvent("start").
		SubProcess("sub", func(sb *Builder) {
			sb.StartEvent("subStart").
				UserTask("inner", UserTask{}).
				EndEvent("subEnd").
				BoundaryEvent("innerStop", "inner", SignalEvent("stop"), true).
				EndEvent("innerStopped").
				Flow("s0", "subStart", "inner").
				Flow("s1", "inner", "subEnd").
				Flow("s2", "innerStop", "innerStopped")
		}).
		UserTask("after", UserTask{}).
		EndEvent("end").
		Flow("f0", "start", "sub").
		Flow("f1", "sub", "after").
		Flow("f2", "after", "end"))
	te := newTestEngine(t, []*process.Model{m})
	pid := te.start(t, "nested", nil)
	assert.Contains(t, te.tasks(t, pid), "inner")

	n, err := te.SignalEventReceived(ctx, "stop", uuid.Nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks := te.tasks(t, pid)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks, "after")
}

func TestSignalStartEventStartsNewInstances(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("onAlarm", "On alarm").
		SignalStartEvent("start", "alarm").
		UserTask("handle", UserTask{}).
		EndEvent("end").
		Flow("f0", "start", "handle").
		Flow("f1", "handle", "end"))
	te := newTestEngine(t, []*process.Model{m})

	n, err := te.SignalEventReceived(ctx, "alarm", uuid.Nil, model.Vars{"level": 3})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err := te.ListTasks(ctx, TaskFilter{ActivityID: "handle"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	pid := uuid.MustParse(tasks[0].ProcessInstanceID)
	got, err := te.GetVariables(ctx, pid)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got["level"])
}

func TestMessageStartEvent(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("order", "Order").
		MessageStartEvent("start", "orderPlaced").
		UserTask("pack", UserTask{}).
		EndEvent("end").
		Flow("f0", "start", "pack").
		Flow("f1", "pack", "end"))
	te := newTestEngine(t, []*process.Model{m})

	pid, err := te.StartProcessInstanceByMessage(ctx, "orderPlaced", nil, "order-1")
	require.NoError(t, err)
	assert.Contains(t, te.tasks(t, pid), "pack")

	found, err := te.FindProcessInstancesByBusinessKey(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, pid.String(), found[0].ID)

	_, err = te.StartProcessInstanceByMessage(ctx, "unknown", nil, "")
	assert.ErrorIs(t, err, errors.ErrDefinitionNotFound)
}

func TestRedeployCreatesNewVersion(t *testing.T) {
	ctx := context.Background()
	m := choiceModel(t)
	te := newTestEngine(t, []*process.Model{m})
	first, err := te.LatestDefinition(ctx, "choose")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	dep, err := te.Deploy(ctx, "again", Resource{Name: "choose.bpmn", Data: []byte("choose")})
	require.NoError(t, err)
	require.Len(t, dep.Definitions, 1)
	assert.Equal(t, 2, dep.Definitions[0].Version)

	latest, err := te.LatestDefinition(ctx, "choose")
	require.NoError(t, err)
	assert.Equal(t, dep.Definitions[0].ID, latest.ID)
	defs, err := te.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestDeployWithoutResourcesFails(t *testing.T) {
	te := newTestEngine(t, nil)
	_, err := te.Deploy(context.Background(), "empty")
	assert.ErrorIs(t, err, errors.ErrInvalidModel)
}

func TestServiceAndScriptTasks(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("calc", "Calc").
		StartEvent("start").
		ServiceTask("price").
		ScriptTask("total", "=price * qty", "total").
		UserTask("check", UserTask{Name: `="Check " + string(total)`}).
		EndEvent("end").
		Flow("f0", "start", "price").
		Flow("f1", "price", "total").
		Flow("f2", "total", "check").
		Flow("f3", "check", "end"))
	te := newTestEngine(t, []*process.Model{m})
	var seen ServiceCall
	te.RegisterServiceTask("calc", "price", func(_ context.Context, call ServiceCall) (model.Vars, error) {
		seen = call
		return model.Vars{"price": 4}, nil
	})
	pid := te.start(t, "calc", model.Vars{"qty": 3})

	assert.Equal(t, "price", seen.NodeID)
	assert.EqualValues(t, 3, seen.Variables["qty"])
	got, err := te.GetVariables(ctx, pid)
	require.NoError(t, err)
	assert.EqualValues(t, 12, got["total"])
	assert.Equal(t, "Check 12", te.tasks(t, pid)["check"].Name)
}

func TestMissingServiceHandlerIsFatal(t *testing.T) {
	m := mustBuild(t, NewBuilder("calc", "Calc").
		StartEvent("start").
		ServiceTask("price").
		EndEvent("end").
		Flow("f0", "start", "price").
		Flow("f1", "price", "end"))
	te := newTestEngine(t, []*process.Model{m})
	_, err := te.StartProcessInstanceByKey(context.Background(), "calc", nil, "")
	require.ErrorIs(t, err, errors.ErrNoHandler)
	assert.True(t, errors.IsFatal(err))
}

func TestCallActivityMapsVariables(t *testing.T) {
	ctx := context.Background()
	child := mustBuild(t, NewBuilder("child", "Child").
		StartEvent("start").
		ScriptTask("double", "=n * 2", "doubled").
		UserTask("look", UserTask{}).
		EndEvent("end").
		Flow("f0", "start", "double").
		Flow("f1", "double", "look").
		Flow("f2", "look", "end"))
	parent := mustBuild(t, NewBuilder("parent", "Parent").
		StartEvent("start").
		CallActivity("call", "child",
			[]vars.Mapping{{Source: "amount", Target: "n"}},
			[]vars.Mapping{{Source: "doubled", Target: "result"}}).
		UserTask("after", UserTask{}).
		EndEvent("end").
		Flow("f0", "start", "call").
		Flow("f1", "call", "after").
		Flow("f2", "after", "end"))
	te := newTestEngine(t, []*process.Model{child, parent})
	pid := te.start(t, "parent", model.Vars{"amount": 21, "secret": "s"})

	tasks := te.tasks(t, pid)
	require.Contains(t, tasks, "look")
	inner, err := uuid.Parse(tasks["look"].ExecutionID)
	require.NoError(t, err)
	innerVars, err := te.GetVariables(ctx, inner)
	require.NoError(t, err)
	assert.EqualValues(t, 21, innerVars["n"])
	assert.NotContains(t, innerVars, "secret")

	te.complete(t, pid, "look", nil)
	outer, err := te.GetVariables(ctx, pid)
	require.NoError(t, err)
	assert.EqualValues(t, 42, outer["result"])
	assert.NotContains(t, outer, "n")
	assert.Contains(t, te.tasks(t, pid), "after")
}

func TestTerminateEndEventKillsScope(t *testing.T) {
	m := mustBuild(t, NewBuilder("kill", "Kill").
		StartEvent("start").
		ParallelGateway("fork").
		UserTask("slow", UserTask{}).
		TerminateEndEvent("stop").
		EndEvent("end").
		Flow("f0", "start", "fork").
		Flow("f1", "fork", "slow").
		Flow("f2", "fork", "stop").
		Flow("f3", "slow", "end"))
	te := newTestEngine(t, []*process.Model{m})
	pid := te.start(t, "kill", nil)

	assert.Zero(t, te.count(t, pid))
	assert.Empty(t, te.tasks(t, pid))
	assert.Len(t, te.events.OfType(EventProcessEnded), 1)
}

func TestCancelProcessInstance(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, []*process.Model{timeoutModel(t, true)})
	pid := te.start(t, "timeout", nil)

	require.NoError(t, te.CancelProcessInstance(ctx, pid))
	assert.Zero(t, te.count(t, pid))
	jobs, err := te.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Len(t, te.events.OfType(EventUserTaskCanceled), 1)

	err = te.CancelProcessInstance(ctx, pid)
	assert.True(t, errors.IsNotFound(err))
}

func TestAsyncBeforeRunsFromJob(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("async", "Async").
		StartEvent("start").
		UserTask("later", UserTask{}, AsyncBefore()).
		EndEvent("end").
		Flow("f0", "start", "later").
		Flow("f1", "later", "end"))

	t.Run("immediate scheduler", func(t *testing.T) {
		te := newTestEngine(t, []*process.Model{m})
		pid := te.start(t, "async", nil)
		assert.Contains(t, te.tasks(t, pid), "later")
		assert.Len(t, te.events.OfType(EventJobScheduled), 1)
	})

	t.Run("stored until acquired", func(t *testing.T) {
		te := newTestEngine(t, []*process.Model{m}, WithScheduler(NoopScheduler{}))
		pid := te.start(t, "async", nil)
		assert.Empty(t, te.tasks(t, pid))

		jobs, err := te.AcquireJobs(ctx, "worker-1", 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, JobTypeAsyncContinuation, jobs[0].HandlerType)

		err = te.ExecuteJob(ctx, jobs[0].ID, "worker-2")
		require.ErrorIs(t, err, errors.ErrJobLockLost)

		again, err := te.AcquireJobs(ctx, "worker-2", 10, time.Minute)
		require.NoError(t, err)
		assert.Empty(t, again)

		require.NoError(t, te.ExecuteJob(ctx, jobs[0].ID, "worker-1"))
		assert.Contains(t, te.tasks(t, pid), "later")
	})
}

func TestFailedJobLosesRetries(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("flaky", "Flaky").
		StartEvent("start").
		ServiceTask("call", AsyncBefore()).
		EndEvent("end").
		Flow("f0", "start", "call").
		Flow("f1", "call", "end"))
	te := newTestEngine(t, []*process.Model{m}, WithScheduler(NoopScheduler{}), WithJobRetries(2))
	fail := true
	te.RegisterServiceTask("flaky", "call", func(context.Context, ServiceCall) (model.Vars, error) {
		if fail {
			return nil, assert.AnError
		}
		return nil, nil
	})
	pid := te.start(t, "flaky", nil)
	jobs, err := te.ListJobs(ctx, JobFilter{ProcessInstanceID: pid.String()})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	id := jobs[0].ID

	err = te.ExecuteJob(ctx, id, "")
	require.ErrorIs(t, err, errors.ErrJobFailed)
	job, err := te.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Retries)
	assert.Contains(t, job.Exception, assert.AnError.Error())

	require.ErrorIs(t, te.ExecuteJob(ctx, id, ""), errors.ErrJobFailed)
	require.ErrorIs(t, te.ExecuteJob(ctx, id, ""), errors.ErrNoJobRetries)

	fail = false
	require.NoError(t, te.SetJobRetries(ctx, id, 1))
	require.NoError(t, te.ExecuteJob(ctx, id, ""))
	assert.Zero(t, te.count(t, pid))

	assert.ErrorIs(t, te.SetJobRetries(ctx, id, -1), errors.ErrInvalidRetries)
}

func TestEventSubProcessInterruptsScope(t *testing.T) {
	ctx := context.Background()
	m := mustBuild(t, NewBuilder("cancellable", "Cancellable").
		StartEvent("start").
		UserTask("work", UserTask{}).
		EndEvent("end").
		EventSubProcess("onCancel", MessageEvent("cancel"), true, func(sb *Builder) {
			sb.StartEvent("cancelStart").
				UserTask("cleanup", UserTask{}).
				EndEvent("cancelEnd").
				Flow("c0", "cancelStart", "cleanup").
				Flow("c1", "cleanup", "cancelEnd")
		}).
		Flow("f0", "start", "work").
		Flow("f1", "work", "end"))
	te := newTestEngine(t, []*process.Model{m})
	pid := te.start(t, "cancellable", nil)
	assert.Contains(t, te.tasks(t, pid), "work")

	require.NoError(t, te.MessageEventReceived(ctx, "cancel", uuid.Nil, nil))
	tasks := te.tasks(t, pid)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks, "cleanup")

	te.complete(t, pid, "cleanup", nil)
	assert.Zero(t, te.count(t, pid))
}
