package server

import (
	"context"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/messages"
	"gitlab.com/shar-workflow/bpmnrt/server/server/option"
	"gitlab.com/shar-workflow/bpmnrt/server/services/natz"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpcHealth "google.golang.org/grpc/health/grpc_health_v1"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

const approval = `<?xml version="1.0" encoding="UTF-8"?>
<definitions xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL" id="d">
  <process id="approval" name="Approval" isExecutable="true">
    <startEvent id="start"/>
    <userTask id="approve" name="Approve"/>
    <endEvent id="end"/>
    <sequenceFlow id="f0" sourceRef="start" targetRef="approve"/>
    <sequenceFlow id="f1" sourceRef="approve" targetRef="end"/>
  </process>
</definitions>`

func startNats(t *testing.T) string {
	t.Helper()
	nsvr, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: server.RANDOM_PORT, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go nsvr.Start()
	require.True(t, nsvr.ReadyForConnections(5*time.Second), "start NATS")
	t.Cleanup(func() {
		nsvr.Shutdown()
		nsvr.WaitForShutdown()
	})
	return nsvr.ClientURL()
}

func runServer(t *testing.T, opts ...option.Option) (*Server, func() error) {
	t.Helper()
	opts = append([]option.Option{
		option.Database(storage.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "server.db")),
		option.GrpcPort(0),
		option.MetricsPort(0),
		option.JobTimings(time.Minute, 50*time.Millisecond),
	}, opts...)
	svr := New(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svr.Listen(ctx) }()
	require.Eventually(t, svr.Ready, 10*time.Second, 10*time.Millisecond)

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("server did not stop")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return svr, stop
}

func TestServerRunsEngine(t *testing.T) {
	ctx := context.Background()
	natsURL := startNats(t)
	sub, err := natz.Connect(natz.NatsConnConfiguration{URL: natsURL, Name: "watcher"})
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	events := make(chan *nats.Msg, 32)
	s, err := sub.ChanSubscribe(messages.EventAll, events)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Unsubscribe() })
	require.NoError(t, sub.Flush())

	svr, stop := runServer(t, option.NatsUrl(natsURL))
	eng := svr.Engine()
	_, err = eng.Deploy(ctx, "approval", workflow.Resource{Name: "approval.bpmn", Data: []byte(approval)})
	require.NoError(t, err)
	pid, err := eng.StartProcessInstanceByKey(ctx, "approval", model.Vars{"amount": 10}, "")
	require.NoError(t, err)
	tasks, err := eng.ListTasks(ctx, workflow.TaskFilter{ProcessInstanceID: pid.String()})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "approve", tasks[0].ActivityID)

	select {
	case msg := <-events:
		_, ev, err := natz.DecodeEvent(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, pid.String(), ev.ProcessInstanceID)
	case <-time.After(5 * time.Second):
		t.Fatal("no event published")
	}

	res, err := http.Get("http://" + svr.MetricsEndPoint() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, res.Body.Close())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), `bpmnrt_commands_total{command="StartProcessInstance",outcome="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")

	require.NoError(t, stop())
	assert.False(t, svr.Ready())
}

func TestServerHealth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svr, stop := runServer(t, option.WithNoMetricsServer())
	assert.Empty(t, svr.MetricsEndPoint())

	conn, err := grpc.NewClient(svr.GetEndPoint(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	res, err := grpcHealth.NewHealthClient(conn).Check(ctx, &grpcHealth.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpcHealth.HealthCheckResponse_SERVING, res.Status)

	require.NoError(t, stop())
}

func TestServerRunsAsyncJobs(t *testing.T) {
	ctx := context.Background()
	svr, _ := runServer(t, option.WithNoHealthServer(), option.WithNoMetricsServer())
	assert.Empty(t, svr.GetEndPoint())

	doc := `<definitions xmlns="http://www.omg.org/spec/BPMN/20100524/MODEL" xmlns:camunda="http://camunda.org/schema/1.0/bpmn">
  <process id="later" isExecutable="true">
    <startEvent id="start"/>
    <userTask id="work" camunda:asyncBefore="true"/>
    <sequenceFlow id="f0" sourceRef="start" targetRef="work"/>
  </process>
</definitions>`
	eng := svr.Engine()
	_, err := eng.Deploy(ctx, "later", workflow.Resource{Name: "later.bpmn", Data: []byte(doc)})
	require.NoError(t, err)
	pid, err := eng.StartProcessInstanceByKey(ctx, "later", nil, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tasks, err := eng.ListTasks(ctx, workflow.TaskFilter{ProcessInstanceID: pid.String()})
		return err == nil && len(tasks) == 1
	}, 10*time.Second, 20*time.Millisecond, "the executor runs the continuation job")
}

func TestServerFailsOnBadStore(t *testing.T) {
	svr := New(option.Database("mysql", "nowhere"), option.GrpcPort(0), option.WithNoMetricsServer())
	err := svr.Listen(context.Background())
	assert.Error(t, err)
	assert.False(t, svr.Ready())
}

func TestServerPublishesLogs(t *testing.T) {
	natsURL := startNats(t)
	sub, err := natz.Connect(natz.NatsConnConfiguration{URL: natsURL, Name: "watcher"})
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	records := make(chan *nats.Msg, 64)
	s, err := sub.ChanSubscribe(messages.LogAll, records)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Unsubscribe() })
	require.NoError(t, sub.Flush())

	_, stop := runServer(t, option.NatsUrl(natsURL), option.WithLogPublishing(slog.LevelInfo), option.WithNoMetricsServer())

	deadline := time.After(5 * time.Second)
	for started := false; !started; {
		select {
		case msg := <-records:
			lr, err := natz.DecodeLogRecord(msg)
			require.NoError(t, err)
			started = lr.Message == "engine started"
		case <-deadline:
			t.Fatal("engine start was not published")
		}
	}
	require.NoError(t, stop())
}
