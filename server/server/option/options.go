package option

import (
	version2 "github.com/hashicorp/go-version"
	"github.com/prometheus/client_golang/prometheus"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/common/telemetry"
	"gitlab.com/shar-workflow/bpmnrt/server/config"
	"log/slog"
	"time"
)

// ServerOptions contains settings that control various aspects of engine server operation and behaviour
type ServerOptions struct {
	DBDriver             string
	DBDSN                string
	Concurrency          int
	JobLockTimeout       time.Duration
	JobPollInterval      time.Duration
	HealthServiceEnabled bool
	MetricsEnabled       bool
	ServerVersion        *version2.Version
	NatsUrl              string
	GrpcPort             int
	MetricsPort          int
	Registry             *prometheus.Registry
	TelemetryConfig      telemetry.Config
	ShowSplash           bool
	PublishLogs          bool
	LogLevel             slog.Level
}

// Option represents an engine server option
type Option interface {
	Configure(serverOptions *ServerOptions)
}

// FromSettings applies loaded configuration settings.
func FromSettings(cfg *config.Settings) settingsOption { //nolint
	return settingsOption{value: cfg}
}

type settingsOption struct{ value *config.Settings }

func (o settingsOption) Configure(serverOptions *ServerOptions) {
	serverOptions.DBDriver = o.value.DBDriver
	serverOptions.DBDSN = o.value.DBDSN
	serverOptions.Concurrency = o.value.JobWorkers
	serverOptions.JobLockTimeout = o.value.JobLockTimeout
	serverOptions.JobPollInterval = o.value.JobPollInterval
	serverOptions.NatsUrl = o.value.NatsURL
	serverOptions.GrpcPort = o.value.GrpcPort
	serverOptions.MetricsPort = o.value.MetricsPort
	WithTelemetryEndpoint(o.value.OTLPEndpoint).Configure(serverOptions)
	if o.value.LogPublish {
		lev, _ := logx.ParseLevel(o.value.LogLevel)
		WithLogPublishing(lev).Configure(serverOptions)
	}
}

// Database specifies the database/sql driver and data source the engine stores its state in.
func Database(driver string, dsn string) databaseOption { //nolint
	return databaseOption{driver: driver, dsn: dsn}
}

type databaseOption struct{ driver, dsn string }

func (o databaseOption) Configure(serverOptions *ServerOptions) {
	serverOptions.DBDriver = o.driver
	serverOptions.DBDSN = o.dsn
}

// Concurrency specifies the number of job executor workers.
func Concurrency(n int) concurrencyOption { //nolint
	return concurrencyOption{value: n}
}

type concurrencyOption struct{ value int }

func (o concurrencyOption) Configure(serverOptions *ServerOptions) {
	serverOptions.Concurrency = o.value
}

// JobTimings specifies how long a claimed job stays locked and how long an idle executor waits between polls.
func JobTimings(lockTimeout time.Duration, pollInterval time.Duration) jobTimingsOption { //nolint
	return jobTimingsOption{lockTimeout: lockTimeout, pollInterval: pollInterval}
}

type jobTimingsOption struct{ lockTimeout, pollInterval time.Duration }

func (o jobTimingsOption) Configure(serverOptions *ServerOptions) {
	serverOptions.JobLockTimeout = o.lockTimeout
	serverOptions.JobPollInterval = o.pollInterval
}

// WithNoHealthServer disables the gRPC health endpoint.
func WithNoHealthServer() noHealthServerOption { //nolint
	return noHealthServerOption{}
}

type noHealthServerOption struct{}

func (o noHealthServerOption) Configure(serverOptions *ServerOptions) {
	serverOptions.HealthServiceEnabled = false
}

// WithNoMetricsServer disables the prometheus /metrics endpoint. Command metrics are still collected.
func WithNoMetricsServer() noMetricsServerOption { //nolint
	return noMetricsServerOption{}
}

type noMetricsServerOption struct{}

func (o noMetricsServerOption) Configure(serverOptions *ServerOptions) {
	serverOptions.MetricsEnabled = false
}

// WithRegistry collects server metrics into reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) registryOption { //nolint
	return registryOption{value: reg}
}

type registryOption struct{ value *prometheus.Registry }

func (o registryOption) Configure(serverOptions *ServerOptions) {
	serverOptions.Registry = o.value
}

// WithServerVersion instructs the server to claim it is a specific version.
func WithServerVersion(version *version2.Version) serverVersionOption { //nolint
	return serverVersionOption{version: version}
}

type serverVersionOption struct {
	version *version2.Version
}

func (o serverVersionOption) Configure(serverOptions *ServerOptions) {
	serverOptions.ServerVersion = o.version
}

// NatsUrl specifies the nats URL runtime events are published to. Events are not published without one.
func NatsUrl(url string) natsUrlOption { //nolint
	return natsUrlOption{value: url}
}

type natsUrlOption struct{ value string }

func (o natsUrlOption) Configure(serverOptions *ServerOptions) {
	serverOptions.NatsUrl = o.value
}

// GrpcPort specifies the port healthcheck is listening on. Zero picks a free port.
func GrpcPort(port int) grpcPortOption { //nolint
	return grpcPortOption{value: port}
}

type grpcPortOption struct{ value int }

func (o grpcPortOption) Configure(serverOptions *ServerOptions) {
	serverOptions.GrpcPort = o.value
}

// MetricsPort specifies the port /metrics is served on. Zero picks a free port.
func MetricsPort(port int) metricsPortOption { //nolint
	return metricsPortOption{value: port}
}

type metricsPortOption struct{ value int }

func (o metricsPortOption) Configure(serverOptions *ServerOptions) {
	serverOptions.MetricsPort = o.value
}

// WithTelemetryEndpoint specifies the OTLP HTTP endpoint traces are exported to.
func WithTelemetryEndpoint(endpoint string) telemetryEndpointOption { //nolint
	return telemetryEndpointOption{endpoint: endpoint}
}

type telemetryEndpointOption struct {
	endpoint string
}

func (o telemetryEndpointOption) Configure(serverOptions *ServerOptions) {
	serverOptions.TelemetryConfig = telemetry.Config{Enabled: o.endpoint != "", Endpoint: o.endpoint}
}

// WithShowSplash specifies whether to show a splash screen on the server startup.
func WithShowSplash() showSplashOption {
	return showSplashOption{showSplash: true}
}

type showSplashOption struct {
	showSplash bool
}

func (o showSplashOption) Configure(serverOptions *ServerOptions) {
	serverOptions.ShowSplash = o.showSplash
}

// WithLogPublishing also publishes the server's log records at or above level to NATS.
// It has no effect without a nats URL.
func WithLogPublishing(level slog.Level) logPublishingOption {
	return logPublishingOption{level: level}
}

type logPublishingOption struct {
	level slog.Level
}

func (o logPublishingOption) Configure(serverOptions *ServerOptions) {
	serverOptions.PublishLogs = true
	serverOptions.LogLevel = o.level
}
