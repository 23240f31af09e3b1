// Package health serves the standard gRPC health protocol for the engine server.
package health

import (
	"context"
	"google.golang.org/grpc/codes"
	grpcHealth "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"sync"
)

// Checker reports a single serving status for the whole server.
type Checker struct {
	grpcHealth.UnimplementedHealthServer
	mx       sync.Mutex
	status   grpcHealth.HealthCheckResponse_ServingStatus
	watchers map[chan grpcHealth.HealthCheckResponse_ServingStatus]struct{}
}

// New creates a checker reporting NOT_SERVING.
func New() *Checker {
	return &Checker{
		status:   grpcHealth.HealthCheckResponse_NOT_SERVING,
		watchers: make(map[chan grpcHealth.HealthCheckResponse_ServingStatus]struct{}),
	}
}

// SetStatus changes the reported status and notifies watchers.
func (c *Checker) SetStatus(st grpcHealth.HealthCheckResponse_ServingStatus) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.status == st {
		return
	}
	c.status = st
	for w := range c.watchers {
		// a slow watcher only ever needs the latest status
		select {
		case <-w:
		default:
		}
		w <- st
	}
}

// GetStatus returns the current status.
func (c *Checker) GetStatus() grpcHealth.HealthCheckResponse_ServingStatus {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.status
}

// Check implements grpc_health_v1.HealthServer.
func (c *Checker) Check(_ context.Context, _ *grpcHealth.HealthCheckRequest) (*grpcHealth.HealthCheckResponse, error) {
	return &grpcHealth.HealthCheckResponse{Status: c.GetStatus()}, nil
}

// Watch implements grpc_health_v1.HealthServer. It sends the current status, then every change until the client goes away.
func (c *Checker) Watch(_ *grpcHealth.HealthCheckRequest, stream grpcHealth.Health_WatchServer) error {
	w := make(chan grpcHealth.HealthCheckResponse_ServingStatus, 1)
	c.mx.Lock()
	w <- c.status
	c.watchers[w] = struct{}{}
	c.mx.Unlock()
	defer func() {
		c.mx.Lock()
		delete(c.watchers, w)
		c.mx.Unlock()
	}()
	for {
		select {
		case st := <-w:
			if err := stream.Send(&grpcHealth.HealthCheckResponse{Status: st}); err != nil {
				return status.Error(codes.Canceled, "stream has ended")
			}
		case <-stream.Context().Done():
			return status.Error(codes.Canceled, "stream has ended")
		}
	}
}
