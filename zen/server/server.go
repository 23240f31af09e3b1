// Package server starts an in process NATS server together with an engine server publishing to it,
// for development and tests.
package server

import (
	"context"
	errors2 "errors"
	"fmt"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/segmentio/ksuid"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	enginesvr "gitlab.com/shar-workflow/bpmnrt/server/server"
	"gitlab.com/shar-workflow/bpmnrt/server/server/option"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"log/slog"
	"time"
)

type zenOpts struct {
	natsHost string
	natsPort int
	options  []option.Option
}

// ZenOptionApplyFn represents a zen server configuration function
type ZenOptionApplyFn func(cfg *zenOpts)

// WithNatsAddress sets where the NATS server listens. The default picks a free port on 127.0.0.1.
func WithNatsAddress(host string, port int) ZenOptionApplyFn {
	return func(cfg *zenOpts) {
		cfg.natsHost = host
		cfg.natsPort = port
	}
}

// WithServerOptions passes options on to the engine server.
func WithServerOptions(opts ...option.Option) ZenOptionApplyFn {
	return func(cfg *zenOpts) {
		cfg.options = append(cfg.options, opts...)
	}
}

// Servers is a running NATS and engine server pair.
type Servers struct {
	Engine *enginesvr.Server
	Nats   *NatsServer
	stop   context.CancelFunc
	done   chan error
}

// GetServers starts a NATS server, then an engine server connected to it, and returns once the engine is ready.
// Unless overridden, the engine uses an in memory SQLite store and serves neither health nor metrics.
func GetServers(ctx context.Context, opts ...ZenOptionApplyFn) (*Servers, error) {
	defaults := &zenOpts{natsHost: "127.0.0.1", natsPort: server.RANDOM_PORT}
	for _, i := range opts {
		i(defaults)
	}

	nsvr := &NatsServer{}
	if err := nsvr.Listen(defaults.natsHost, defaults.natsPort); err != nil {
		return nil, err
	}

	svrOpts := append([]option.Option{
		option.Database(storage.DriverSQLite, "file:zen-"+ksuid.New().String()+"?mode=memory&cache=shared"),
		option.WithNoHealthServer(),
		option.WithNoMetricsServer(),
	}, defaults.options...)
	svrOpts = append(svrOpts, option.NatsUrl(nsvr.ClientURL()))
	ssvr := enginesvr.New(svrOpts...)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- ssvr.Listen(ctx) }()
	for !ssvr.Ready() {
		select {
		case err := <-done:
			cancel()
			nsvr.Shutdown()
			if err == nil {
				err = errors2.New("engine server stopped during start up")
			}
			return nil, fmt.Errorf("start engine server: %w", err)
		case <-time.After(20 * time.Millisecond):
			slog.Debug("waiting for engine server")
		}
	}
	logx.FromContext(ctx).Info("zen servers started", slog.String("nats", nsvr.ClientURL()))
	return &Servers{Engine: ssvr, Nats: nsvr, stop: cancel, done: done}, nil
}

// Shutdown stops the engine server, then the NATS server.
func (s *Servers) Shutdown() error {
	s.stop()
	err := <-s.done
	s.Nats.Shutdown()
	if err != nil {
		return fmt.Errorf("shut down engine server: %w", err)
	}
	return nil
}

// NatsServer is a wrapper around the nats lib server so that its lifecycle can be managed alongside the engine.
type NatsServer struct {
	nsvr *server.Server
}

// Listen starts an in process nats server
func (natserver *NatsServer) Listen(natsHost string, natsPort int) error {
	nsvr, err := server.NewServer(&server.Options{Host: natsHost, Port: natsPort, NoLog: true, NoSigs: true})
	if err != nil {
		return fmt.Errorf("create a new server instance: %w", err)
	}
	go nsvr.Start()
	if !nsvr.ReadyForConnections(5 * time.Second) {
		nsvr.Shutdown()
		return fmt.Errorf("start NATS: not ready for connections")
	}
	slog.Info("NATS started")
	natserver.nsvr = nsvr
	return nil
}

// ClientURL is the URL clients connect to the NATS server on.
func (natserver *NatsServer) ClientURL() string {
	return natserver.nsvr.ClientURL()
}

// Shutdown shutsdown an in process nats server
func (natserver *NatsServer) Shutdown() {
	natserver.nsvr.Shutdown()
	natserver.nsvr.WaitForShutdown()
}
