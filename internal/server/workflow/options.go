package workflow

import (
	"gitlab.com/shar-workflow/bpmnrt/common/expression"
	"gitlab.com/shar-workflow/bpmnrt/server/services/cache"
	"time"
)

// EngineOptions contains the settings of an Engine.
type EngineOptions struct {
	MaxDepth         int
	JobRetries       int
	Clock            func() time.Time
	Scheduler        JobScheduler
	Notifier         Notifier
	ExpressionEngine expression.Engine
	ModelCache       cache.Backend
	ModelCacheSize   int64
	Interceptors     []Interceptor
}

// EngineOption configures an Engine.
type EngineOption interface {
	Configure(opts *EngineOptions)
}

// WithMaxDepth bounds the nesting of commands inside one unit of work.
func WithMaxDepth(n int) maxDepthOption { //nolint
	return maxDepthOption{value: n}
}

type maxDepthOption struct{ value int }

func (o maxDepthOption) Configure(opts *EngineOptions) {
	opts.MaxDepth = o.value
}

// WithJobRetries sets the number of attempts new jobs get.
func WithJobRetries(n int) jobRetriesOption { //nolint
	return jobRetriesOption{value: n}
}

type jobRetriesOption struct{ value int }

func (o jobRetriesOption) Configure(opts *EngineOptions) {
	opts.JobRetries = o.value
}

// WithClock replaces the wall clock used for timers, jobs and timestamps.
func WithClock(clock func() time.Time) clockOption { //nolint
	return clockOption{value: clock}
}

type clockOption struct{ value func() time.Time }

func (o clockOption) Configure(opts *EngineOptions) {
	opts.Clock = o.value
}

// WithScheduler sets the scheduler jobs are handed to after commit. The default is NoopScheduler.
func WithScheduler(s JobScheduler) schedulerOption { //nolint
	return schedulerOption{value: s}
}

type schedulerOption struct{ value JobScheduler }

func (o schedulerOption) Configure(opts *EngineOptions) {
	opts.Scheduler = o.value
}

// WithNotifier sets the receiver of engine events. The default is NoopNotifier.
func WithNotifier(n Notifier) notifierOption { //nolint
	return notifierOption{value: n}
}

type notifierOption struct{ value Notifier }

func (o notifierOption) Configure(opts *EngineOptions) {
	opts.Notifier = o.value
}

// WithExpressionEngine replaces the expr based evaluator.
func WithExpressionEngine(eng expression.Engine) expressionEngineOption { //nolint
	return expressionEngineOption{value: eng}
}

type expressionEngineOption struct{ value expression.Engine }

func (o expressionEngineOption) Configure(opts *EngineOptions) {
	opts.ExpressionEngine = o.value
}

// WithModelCache replaces the ristretto cache of parsed definitions.
func WithModelCache(be cache.Backend) modelCacheOption { //nolint
	return modelCacheOption{value: be}
}

type modelCacheOption struct{ value cache.Backend }

func (o modelCacheOption) Configure(opts *EngineOptions) {
	opts.ModelCache = o.value
}

// WithModelCacheSize sets how many parsed definitions the default cache holds.
func WithModelCacheSize(n int64) modelCacheSizeOption { //nolint
	return modelCacheSizeOption{value: n}
}

type modelCacheSizeOption struct{ value int64 }

func (o modelCacheSizeOption) Configure(opts *EngineOptions) {
	opts.ModelCacheSize = o.value
}

// WithInterceptors registers command interceptors.
func WithInterceptors(ics ...Interceptor) interceptorsOption { //nolint
	return interceptorsOption{value: ics}
}

type interceptorsOption struct{ value []Interceptor }

func (o interceptorsOption) Configure(opts *EngineOptions) {
	opts.Interceptors = append(opts.Interceptors, o.value...)
}
