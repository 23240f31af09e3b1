package workflow

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// builtModels serves models made with a Builder as if they had been parsed from the named resource.
type builtModels map[string][]*process.Model

func (b builtModels) Load(_ context.Context, name string, _ []byte) ([]*process.Model, error) {
	m, ok := b[name]
	if !ok {
		return nil, errors.Fatalf("unknown resource %s: %w", name, errors.ErrInvalidModel)
	}
	return m, nil
}

type testClock struct {
	mx  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()
	s, err := storage.Open(ctx, storage.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

type testEngine struct {
	*Engine
	events *RecordingNotifier
	defs   map[string]string
}

// newTestEngine deploys every model in its own resource and returns an engine running due jobs immediately.
func newTestEngine(t *testing.T, models []*process.Model, opts ...EngineOption) *testEngine {
	t.Helper()
	loader := builtModels{}
	resources := make([]Resource, 0, len(models))
	for _, m := range models {
		name := m.Key + ".bpmn"
		loader[name] = []*process.Model{m}
		resources = append(resources, Resource{Name: name, Data: []byte(m.Key)})
	}
	events := &RecordingNotifier{}
	opts = append([]EngineOption{WithScheduler(NewImmediateScheduler()), WithNotifier(events)}, opts...)
	e, err := New(newTestStore(t), loader, opts...)
	require.NoError(t, err)
	te := &testEngine{Engine: e, events: events, defs: make(map[string]string)}
	if len(resources) > 0 {
		dep, err := e.Deploy(context.Background(), t.Name(), resources...)
		require.NoError(t, err)
		for _, d := range dep.Definitions {
			te.defs[d.ProcessKey] = d.ID
		}
	}
	return te
}

func (te *testEngine) start(t *testing.T, key string, vars map[string]any) uuid.UUID {
	t.Helper()
	id, err := te.StartProcessInstanceByKey(context.Background(), key, vars, "")
	require.NoError(t, err)
	return id
}

func (te *testEngine) count(t *testing.T, pid uuid.UUID) int {
	t.Helper()
	n, err := te.CountExecutions(context.Background(), pid)
	require.NoError(t, err)
	return n
}

func (te *testEngine) tasks(t *testing.T, pid uuid.UUID) map[string]TaskInfo {
	t.Helper()
	list, err := te.ListTasks(context.Background(), TaskFilter{ProcessInstanceID: pid.String()})
	require.NoError(t, err)
	ret := make(map[string]TaskInfo, len(list))
	for _, task := range list {
		ret[task.ActivityID] = task
	}
	return ret
}

func (te *testEngine) complete(t *testing.T, pid uuid.UUID, activityID string, vars map[string]any) {
	t.Helper()
	task, ok := te.tasks(t, pid)[activityID]
	require.True(t, ok, fmt.Sprintf("no open task at %s", activityID))
	require.NoError(t, te.CompleteUserTask(context.Background(), task.ID, vars))
}

// inspect runs a function as a command inside a unit of work.
type inspect func(ctx context.Context, cc *CommandContext) (any, error)

func (f inspect) Name() string  { return "Inspect" }
func (f inspect) Priority() int { return PriorityDefault }
func (f inspect) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	return f(ctx, cc)
}

func mustBuild(t *testing.T, b *Builder) *process.Model {
	t.Helper()
	m, err := b.Build()
	require.NoError(t, err)
	return m
}
