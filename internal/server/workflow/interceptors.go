package workflow

import (
	"context"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"log/slog"
	"time"
)

// LoggingPriority is the priority of LoggingInterceptor. It sits inside tracing and metrics.
const LoggingPriority = 10

// LoggingInterceptor writes a debug record for every command and a warning for failed ones.
type LoggingInterceptor struct{}

// Priority implements Interceptor.
func (LoggingInterceptor) Priority() int { return LoggingPriority }

// Intercept implements Interceptor.
func (LoggingInterceptor) Intercept(ctx context.Context, cmd Command, next Next) (any, error) {
	log := logx.FromContext(ctx)
	depth := 0
	if cc, ok := CommandContextFrom(ctx); ok {
		depth = cc.Depth()
	}
	start := time.Now()
	res, err := next(ctx)
	attrs := []any{slog.String(keys.Command, cmd.Name()), slog.Int(keys.Depth, depth), slog.Duration("took", time.Since(start))}
	if err != nil {
		log.Warn("command failed", append(attrs, slog.Any("error", err))...)
		return nil, err
	}
	log.Debug("command executed", attrs...)
	return res, nil
}
