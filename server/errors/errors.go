package errors

import (
	"errors"
	"fmt"
)

// ErrWorkflowFatal marks an error caused by a defect in a process model or by misuse of the engine API.
// Fatal errors abort the enclosing transaction and must never be retried.
type ErrWorkflowFatal struct {
	Err error
}

// Error returns the string version of the ErrWorkflowFatal error
func (w ErrWorkflowFatal) Error() string {
	return w.Err.Error()
}

// Unwrap returns the wrapped error.
func (w ErrWorkflowFatal) Unwrap() error {
	return w.Err
}

// Fatal wraps err as an ErrWorkflowFatal.
func Fatal(err error) error {
	return &ErrWorkflowFatal{Err: err}
}

// Fatalf formats a message and wraps it as an ErrWorkflowFatal.
func Fatalf(format string, args ...any) error {
	return &ErrWorkflowFatal{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether any error in err's chain is an ErrWorkflowFatal.
func IsFatal(err error) bool {
	var fatal *ErrWorkflowFatal
	return errors.As(err, &fatal)
}

// Fatal programming and model errors.
var (
	ErrSignalMismatch               = errors.New("signal does not match the awaited event")            // ErrSignalMismatch is raised when a behavior is resumed by an unexpected signal.
	ErrEventGatewaySignaledDirectly = errors.New("event based gateway signaled without delegation")    // ErrEventGatewaySignaledDirectly is raised when an event based gateway receives a signal that was not delegated by a catch event.
	ErrMissingStartNode             = errors.New("scope has no start node")                            // ErrMissingStartNode is raised when a scope cannot find the node to begin with.
	ErrNoOutgoingTransition         = errors.New("no outgoing transition could be taken")              // ErrNoOutgoingTransition is raised when a gateway has no matching condition and no default.
	ErrUnknownBehavior              = errors.New("unknown behavior")                                   // ErrUnknownBehavior is raised when a node is bound to a behavior the runtime cannot drive.
	ErrMaxDepthExceeded             = errors.New("maximum command depth exceeded")                     // ErrMaxDepthExceeded is raised when nested command execution runs away.
	ErrInvalidModel                 = errors.New("invalid process model")                              // ErrInvalidModel is raised when a process model fails validation.
	ErrBusinessKeyNotRoot           = errors.New("business key can only be changed on the root")       // ErrBusinessKeyNotRoot is raised when a nested execution tries to change the business key.
	ErrNoHandler                    = errors.New("no handler registered")                              // ErrNoHandler is raised when a service task, delegate or job type has no registered handler.
	ErrExecutionTerminated          = errors.New("execution is terminated")                            // ErrExecutionTerminated is raised when a terminated execution is mutated.
	ErrBadTimer                     = errors.New("timer definition cannot be evaluated")               // ErrBadTimer is raised when a timer date or duration cannot be parsed.
	ErrBadlyQuotedIdentifier        = errors.New("badly quoted identifier")                            // ErrBadlyQuotedIdentifier is returned when a variable identifier is not correctly quoted.
	ErrExtractingVar                = errors.New("error extracting variable")                          // ErrExtractingVar is returned when a variable cannot be extracted from a CLI argument.
	ErrAmbiguousStart               = errors.New("more than one definition can be started")            // ErrAmbiguousStart is raised when a message start matches several definitions.
	ErrInvalidRetries               = errors.New("job retries cannot be negative")                     // ErrInvalidRetries is raised when a job is given a negative retry count.
	ErrSchemaTooNew                 = errors.New("database schema is newer than this engine supports") // ErrSchemaTooNew is returned when the store was migrated by a newer engine.
)

// Not found errors surfaced at query boundaries.
var (
	ErrExecutionNotFound    = errors.New("execution not found")    // ErrExecutionNotFound is returned when an execution does not exist.
	ErrJobNotFound          = errors.New("job not found")          // ErrJobNotFound is returned when a job does not exist.
	ErrTaskNotFound         = errors.New("task not found")         // ErrTaskNotFound is returned when a user task does not exist.
	ErrDefinitionNotFound   = errors.New("definition not found")   // ErrDefinitionNotFound is returned when a process definition does not exist.
	ErrSubscriptionNotFound = errors.New("subscription not found") // ErrSubscriptionNotFound is returned when no subscription matches.
	ErrDeploymentNotFound   = errors.New("deployment not found")   // ErrDeploymentNotFound is returned when a deployment does not exist.
)

// Retryable errors.
var (
	ErrJobFailed    = errors.New("job failed")                     // ErrJobFailed wraps an error returned by a job handler.
	ErrJobLockLost  = errors.New("job is locked by another owner") // ErrJobLockLost is returned when another worker won the claim for a job.
	ErrNoJobRetries = errors.New("job has no retries left")        // ErrNoJobRetries is returned when executing a job whose retries are exhausted.
)

// IsNotFound reports whether err is one of the not found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrDeploymentNotFound)
}
