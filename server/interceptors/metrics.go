package interceptors

import (
	"context"
	"fmt"
	"github.com/prometheus/client_golang/prometheus"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"time"
)

// Outcomes recorded by Metrics.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeFatal = "fatal"
)

// Metrics counts and times commands.
type Metrics struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the command metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bpmnrt_commands_total",
				Help: "Total number of executed engine commands",
			},
			[]string{"command", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bpmnrt_command_duration_seconds",
				Help:    "Duration of engine commands, nested commands included",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
			[]string{"command"},
		),
	}
	for _, c := range []prometheus.Collector{m.commands, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register command metrics: %w", err)
		}
	}
	return m, nil
}

// Priority implements workflow.Interceptor.
func (m *Metrics) Priority() int { return MetricsPriority }

// Intercept implements workflow.Interceptor.
func (m *Metrics) Intercept(ctx context.Context, cmd workflow.Command, next workflow.Next) (any, error) {
	start := time.Now()
	res, err := next(ctx)
	m.duration.WithLabelValues(cmd.Name()).Observe(time.Since(start).Seconds())
	outcome := OutcomeOK
	switch {
	case errors.IsFatal(err):
		outcome = OutcomeFatal
	case err != nil:
		outcome = OutcomeError
	}
	m.commands.WithLabelValues(cmd.Name(), outcome).Inc()
	return res, err
}
