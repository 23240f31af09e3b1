package health

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpcHealth "google.golang.org/grpc/health/grpc_health_v1"
	"net"
	"testing"
	"time"
)

func serve(t *testing.T, c *Checker) grpcHealth.HealthClient {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	svr := grpc.NewServer()
	grpcHealth.RegisterHealthServer(svr, c)
	go func() { _ = svr.Serve(lis) }()
	t.Cleanup(svr.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return grpcHealth.NewHealthClient(conn)
}

func TestCheck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := New()
	cl := serve(t, c)

	res, err := cl.Check(ctx, &grpcHealth.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpcHealth.HealthCheckResponse_NOT_SERVING, res.Status)

	c.SetStatus(grpcHealth.HealthCheckResponse_SERVING)
	res, err = cl.Check(ctx, &grpcHealth.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpcHealth.HealthCheckResponse_SERVING, res.Status)
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := New()
	cl := serve(t, c)

	stream, err := cl.Watch(ctx, &grpcHealth.HealthCheckRequest{})
	require.NoError(t, err)
	res, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, grpcHealth.HealthCheckResponse_NOT_SERVING, res.Status)

	c.SetStatus(grpcHealth.HealthCheckResponse_SERVING)
	res, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, grpcHealth.HealthCheckResponse_SERVING, res.Status)
}

func TestSetStatusIgnoresRepeats(t *testing.T) {
	c := New()
	w := make(chan grpcHealth.HealthCheckResponse_ServingStatus, 1)
	c.watchers[w] = struct{}{}
	c.SetStatus(grpcHealth.HealthCheckResponse_NOT_SERVING)
	assert.Empty(t, w)
	c.SetStatus(grpcHealth.HealthCheckResponse_SERVING)
	c.SetStatus(grpcHealth.HealthCheckResponse_NOT_SERVING)
	assert.Len(t, w, 1)
	assert.Equal(t, grpcHealth.HealthCheckResponse_NOT_SERVING, <-w)
}
