package server

import (
	"context"
	errors2 "errors"
	"fmt"
	"github.com/hashicorp/go-version"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"gitlab.com/shar-workflow/bpmnrt/client/parser"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/common/telemetry"
	version2 "gitlab.com/shar-workflow/bpmnrt/common/version"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/executor"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/server/health"
	"gitlab.com/shar-workflow/bpmnrt/server/interceptors"
	"gitlab.com/shar-workflow/bpmnrt/server/server/option"
	"gitlab.com/shar-workflow/bpmnrt/server/services/natz"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"
	grpcHealth "google.golang.org/grpc/health/grpc_health_v1"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Server hosts a workflow engine together with its job executor, health endpoint, metrics endpoint and event publisher.
type Server struct {
	options       option.ServerOptions
	healthService *health.Checker
	grpcServer    *gogrpc.Server
	metricsServer *http.Server
	store         *storage.Store
	engine        *workflow.Engine
	executor      *executor.Executor
	conn          *nats.Conn
	stopTelemetry func(context.Context) error
	logHandler    slog.Handler

	mx          sync.Mutex
	grpcAddr    net.Addr
	metricsAddr net.Addr
}

// New creates a new engine server.
func New(options ...option.Option) *Server {
	currentVer, err := version.NewVersion(version2.Version)
	if err != nil {
		panic(err)
	}
	s := &Server{
		options: option.ServerOptions{
			DBDriver:             storage.DriverSQLite,
			DBDSN:                "file:bpmnrt.db",
			Concurrency:          executor.DefaultWorkers,
			JobLockTimeout:       executor.DefaultLockTimeout,
			JobPollInterval:      executor.DefaultPollInterval,
			HealthServiceEnabled: true,
			MetricsEnabled:       true,
			ServerVersion:        currentVer,
		},
		healthService: health.New(),
	}
	for _, i := range options {
		i.Configure(&s.options)
	}
	if s.options.Registry == nil {
		s.options.Registry = prometheus.NewRegistry()
	}
	if s.options.ShowSplash {
		s.Details()
	}
	return s
}

// The following variables are set by -ldflags at build time.
var (
	VersionTag string
	CommitHash string
	BuildDate  string
)

// Details prints the details to stdout of the current server.
func (s *Server) Details() {
	pterm.DefaultHeader.Println("bpmnrt " + s.options.ServerVersion.String())
	err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(pterm.TableData{
		{"SERVER CONFIGURATION", "VALUE"},
		{"Version", version2.Version},
		{"Build Time", BuildDate},
		{"Commit SHA", CommitHash},
		{"Database Driver", s.options.DBDriver},
		{"Nats URL", s.options.NatsUrl},
		{"Job Workers", strconv.Itoa(s.options.Concurrency)},
		{"Grpc Port", strconv.Itoa(s.options.GrpcPort)},
		{"Metrics Port", strconv.Itoa(s.options.MetricsPort)},
		{"Telemetry Enabled", strconv.FormatBool(s.options.TelemetryConfig.Enabled)},
		{"Telemetry Endpoint", s.options.TelemetryConfig.Endpoint},
	}).Render()
	if err != nil {
		slog.Warn("render server details", slog.Any("error", err))
	}
}

// Listen starts the engine and its endpoints, and serves until ctx is done or an endpoint fails.
// Everything started is shut down before Listen returns.
func (s *Server) Listen(ctx context.Context) (err error) {
	defer func() {
		err = multierr.Append(err, s.Shutdown(context.WithoutCancel(ctx)))
	}()

	if err := s.setUp(ctx); err != nil {
		return err
	}
	if s.logHandler != nil {
		ctx = logx.NewContext(ctx, slog.New(s.logHandler))
	}
	ctx, log := logx.ContextWith(ctx, "server")

	var grpcLis, metricsLis net.Listener
	if s.grpcServer != nil {
		if grpcLis, err = s.listen(s.options.GrpcPort, &s.grpcAddr); err != nil {
			return fmt.Errorf("listen for grpc health: %w", err)
		}
	}
	if s.metricsServer != nil {
		if metricsLis, err = s.listen(s.options.MetricsPort, &s.metricsAddr); err != nil {
			if grpcLis != nil {
				_ = grpcLis.Close()
			}
			return fmt.Errorf("listen for metrics: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if grpcLis != nil {
		g.Go(func() error {
			if err := s.grpcServer.Serve(grpcLis); err != nil {
				return fmt.Errorf("serve grpc health: %w", err)
			}
			return nil
		})
		log.Info("grpc health started", slog.String("addr", grpcLis.Addr().String()))
	}
	if metricsLis != nil {
		g.Go(func() error {
			if err := s.metricsServer.Serve(metricsLis); err != nil && !errors2.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
		log.Info("metrics started", slog.String("addr", metricsLis.Addr().String()))
	}
	g.Go(func() error {
		return s.executor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.stopEndpoints(context.WithoutCancel(gctx))
		return nil
	})

	s.healthService.SetStatus(grpcHealth.HealthCheckResponse_SERVING)
	log.Info("engine started", slog.String("driver", s.options.DBDriver), slog.Int("workers", s.options.Concurrency))
	if err := g.Wait(); err != nil {
		return logx.Err(ctx, "server stopped", err)
	}
	return nil
}

func (s *Server) setUp(ctx context.Context) error {
	stop, err := telemetry.SetUpHTTP(ctx, s.options.TelemetryConfig.Endpoint, "bpmnrt")
	if err != nil {
		return fmt.Errorf("set up telemetry: %w", err)
	}
	s.stopTelemetry = stop

	if s.options.HealthServiceEnabled {
		s.grpcServer = gogrpc.NewServer()
		grpcHealth.RegisterHealthServer(s.grpcServer, s.healthService)
	}

	metrics, err := interceptors.NewMetrics(s.options.Registry)
	if err != nil {
		return fmt.Errorf("register command metrics: %w", err)
	}
	if err := s.options.Registry.Register(collectors.NewGoCollector()); err != nil {
		return fmt.Errorf("register go metrics: %w", err)
	}
	if s.options.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.options.Registry, promhttp.HandlerOpts{}))
		s.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	store, err := storage.Open(ctx, s.options.DBDriver, s.options.DBDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = store
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	notifier := workflow.MultiNotifier{workflow.LogNotifier{}}
	if s.options.NatsUrl != "" {
		conn, err := natz.Connect(natz.NatsConnConfiguration{URL: s.options.NatsUrl, Name: "bpmnrt"})
		if err != nil {
			return err
		}
		s.conn = conn
		notifier = append(notifier, natz.NewNotifier(conn))
		if s.options.PublishLogs {
			s.logHandler = logx.NewMultiHandler(logx.FromContext(ctx).Handler(), natz.NewLogHandler(conn, s.options.LogLevel))
		}
	}

	s.executor = executor.New(
		executor.WithWorkers(s.options.Concurrency),
		executor.WithLockTimeout(s.options.JobLockTimeout),
		executor.WithPollInterval(s.options.JobPollInterval),
	)
	eng, err := workflow.New(store, parser.Loader{},
		workflow.WithScheduler(s.executor),
		workflow.WithNotifier(notifier),
		workflow.WithInterceptors(interceptors.NewTracing(otel.GetTracerProvider()), metrics),
	)
	if err != nil {
		return fmt.Errorf("create workflow engine: %w", err)
	}
	s.engine = eng
	s.executor.Attach(eng)
	return nil
}

func (s *Server) listen(port int, addr *net.Addr) (net.Listener, error) {
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	s.mx.Lock()
	*addr = lis.Addr()
	s.mx.Unlock()
	return lis, nil
}

func (s *Server) stopEndpoints(ctx context.Context) {
	s.healthService.SetStatus(grpcHealth.HealthCheckResponse_NOT_SERVING)
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
		slog.Info("grpc health stopped")
	}
	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			slog.Warn("stop metrics", slog.Any("error", err))
		}
	}
}

// Shutdown releases the NATS connection, the store and the trace exporter.
// Endpoints are stopped by cancelling the context given to Listen.
func (s *Server) Shutdown(ctx context.Context) error {
	s.healthService.SetStatus(grpcHealth.HealthCheckResponse_NOT_SERVING)
	var err error
	if s.conn != nil {
		if cerr := s.conn.Drain(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("drain nats: %w", cerr))
		}
		s.conn = nil
	}
	if s.store != nil {
		if cerr := s.store.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close store: %w", cerr))
		}
		s.store = nil
	}
	if s.stopTelemetry != nil {
		if cerr := s.stopTelemetry(ctx); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("stop telemetry: %w", cerr))
		}
		s.stopTelemetry = nil
	}
	return err
}

// Engine returns the hosted engine. It is nil until Listen has set it up.
func (s *Server) Engine() *workflow.Engine {
	return s.engine
}

// GetEndPoint will return the address of the grpc health endpoint, or an empty string before it listens.
func (s *Server) GetEndPoint() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.grpcAddr == nil {
		return ""
	}
	return s.grpcAddr.String()
}

// MetricsEndPoint will return the address /metrics is served on, or an empty string before it listens.
func (s *Server) MetricsEndPoint() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.metricsAddr == nil {
		return ""
	}
	return s.metricsAddr.String()
}

// Ready returns true if the server is running its engine.
func (s *Server) Ready() bool {
	return s.healthService.GetStatus() == grpcHealth.HealthCheckResponse_SERVING
}
