package workflow

import (
	"bytes"
	"container/heap"
	"context"
	errors2 "errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type stubCommand struct {
	name     string
	priority int
}

func (c stubCommand) Name() string  { return c.name }
func (c stubCommand) Priority() int { return c.priority }
func (c stubCommand) Execute(context.Context, *CommandContext) (any, error) {
	return c.name, nil
}

func TestCommandQueueOrdersByPriorityThenPushOrder(t *testing.T) {
	q := &commandQueue{}
	pushed := []stubCommand{
		{"a", PriorityDefault},
		{"b", PriorityHigh},
		{"c", PriorityDefault},
		{"d", PriorityHigh},
		{"e", 50},
	}
	for i, c := range pushed {
		heap.Push(q, queuedCommand{cmd: c, seq: int64(i)})
	}
	var got []string
	for q.Len() > 0 {
		got = append(got, heap.Pop(q).(queuedCommand).cmd.Name())
	}
	assert.Equal(t, []string{"b", "d", "e", "a", "c"}, got)
}

type recordingInterceptor struct {
	mx       *sync.Mutex
	seen     *[]string
	name     string
	priority int
}

func (r recordingInterceptor) Priority() int { return r.priority }

func (r recordingInterceptor) Intercept(ctx context.Context, cmd Command, next Next) (any, error) {
	r.mx.Lock()
	*r.seen = append(*r.seen, r.name+":"+cmd.Name())
	r.mx.Unlock()
	return next(ctx)
}

func TestInterceptorsRunOutermostFirst(t *testing.T) {
	mx := &sync.Mutex{}
	var seen []string
	ic := func(name string, priority int) Interceptor {
		return recordingInterceptor{mx: mx, seen: &seen, name: name, priority: priority}
	}
	te := newTestEngine(t, nil, WithInterceptors(ic("inner", 1), ic("outer", 50)))
	te.RegisterInterceptor(ic("middle", 10))

	res, err := te.ExecuteCommand(context.Background(), inspect(func(ctx context.Context, cc *CommandContext) (any, error) {
		return cc.ExecuteCommand(ctx, stubCommand{name: "Nested"})
	}))
	require.NoError(t, err)
	assert.Equal(t, "Nested", res)
	assert.Equal(t, []string{
		"outer:Inspect", "middle:Inspect", "inner:Inspect",
		"outer:Nested", "middle:Nested", "inner:Nested",
	}, seen)
}

func TestInterceptorCanShortCircuit(t *testing.T) {
	ic := &MockInterceptor{}
	ic.On("Priority").Return(5)
	ic.On("Intercept", mock.Anything, mock.Anything, mock.Anything).Return("blocked", nil)
	te := newTestEngine(t, nil, WithInterceptors(ic))

	called := false
	res, err := te.ExecuteCommand(context.Background(), inspect(func(context.Context, *CommandContext) (any, error) {
		called = true
		return "ran", nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "blocked", res)
	assert.False(t, called)
	ic.AssertNumberOfCalls(t, "Intercept", 1)
}

func TestMaxDepthStopsRunawayNesting(t *testing.T) {
	te := newTestEngine(t, nil, WithMaxDepth(4))
	depth := 0
	var recurse inspect
	recurse = func(ctx context.Context, cc *CommandContext) (any, error) {
		depth = cc.Depth()
		return cc.ExecuteCommand(ctx, recurse)
	}
	_, err := te.ExecuteCommand(context.Background(), recurse)
	require.ErrorIs(t, err, errors.ErrMaxDepthExceeded)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, 4, depth)
}

func TestNewEngineRejectsInvalidMaxDepth(t *testing.T) {
	_, err := New(newTestStore(t), builtModels{}, WithMaxDepth(0))
	assert.Error(t, err)
}

func singleTaskModel(t *testing.T) *process.Model {
	return mustBuild(t, NewBuilder("single", "Single").
		StartEvent("start").
		UserTask("t", UserTask{Name: "Do it"}).
		EndEvent("end").
		Flow("f0", "start", "t").
		Flow("f1", "t", "end"))
}

func TestFailedCommandRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	sched := &MockJobScheduler{}
	te := newTestEngine(t, []*process.Model{singleTaskModel(t)}, WithScheduler(sched))
	pid := te.start(t, "single", map[string]any{"a": 1})
	before := len(te.events.Events())

	boom := errors2.New("boom")
	_, err := te.ExecuteCommand(ctx, inspect(func(ctx context.Context, cc *CommandContext) (any, error) {
		ex, err := cc.FindExecution(ctx, pid)
		if err != nil {
			return nil, err
		}
		ex.SetVariable("a", 2)
		ex.SetVariableLocal("b", "new")
		if _, err := cc.ScheduleJob(ctx, ex, JobTypeAsyncContinuation, asyncContinuation{NodeID: "t"}, nil); err != nil {
			return nil, err
		}
		return nil, boom
	}))
	require.ErrorIs(t, err, boom)

	got, err := te.GetVariables(ctx, pid)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got["a"])
	assert.NotContains(t, got, "b")
	jobs, err := te.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Len(t, te.events.Events(), before)
	sched.AssertNotCalled(t, "ScheduleJob", mock.Anything, mock.Anything)
}

func TestJobsReachSchedulerAfterCommit(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	sched := &MockJobScheduler{}
	te := newTestEngine(t, []*process.Model{timeoutModel(t, true)}, WithScheduler(sched), WithClock(clock.Now))

	var scheduled *Job
	sched.On("ScheduleJob", mock.Anything, mock.MatchedBy(func(j *Job) bool { return j.HandlerType == JobTypeTimer })).
		Run(func(args mock.Arguments) {
			scheduled = args.Get(1).(*Job)
			stored, err := te.GetJob(ctx, scheduled.ID)
			require.NoError(t, err)
			assert.Equal(t, scheduled.ID, stored.ID)
		}).
		Return(nil).
		Once()
	pid := te.start(t, "timeout", nil)
	require.NotNil(t, scheduled)
	assert.Equal(t, clock.Now().Add(time.Hour).UnixMilli(), scheduled.RunAt.UnixMilli())
	assert.Equal(t, DefaultJobRetries, scheduled.Retries)

	sched.On("RemoveJob", mock.Anything, scheduled.ID).Return(nil).Once()
	te.complete(t, pid, "review", nil)
	sched.AssertExpectations(t)
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	ctx := logx.NewContext(context.Background(), slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	cmd := stubCommand{name: "Probe"}

	res, err := LoggingInterceptor{}.Intercept(ctx, cmd, func(context.Context) (any, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, res)
	assert.Contains(t, buf.String(), `"msg":"command executed"`)
	assert.Contains(t, buf.String(), `"cmd":"Probe"`)

	buf.Reset()
	_, err = LoggingInterceptor{}.Intercept(ctx, cmd, func(context.Context) (any, error) { return nil, assert.AnError })
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"msg":"command failed"`)
}
