package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"log/slog"
	"time"
)

// CreateSignalSubscriptionCommand subscribes an execution to a signal on behalf of an activity.
// It returns the subscription id.
type CreateSignalSubscriptionCommand struct {
	defaultPriority
	ExecutionID uuid.UUID
	ActivityID  string
	NodeID      string
	Signal      string
	Boundary    bool
}

// Name implements Command.
func (c *CreateSignalSubscriptionCommand) Name() string { return "CreateSignalSubscription" }

// Execute implements Command.
func (c *CreateSignalSubscriptionCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	return cc.insertSubscription(ctx, c.ExecutionID, storage.SubscriptionRow{
		Type:       storage.SubscriptionSignal,
		Name:       c.Signal,
		ActivityID: c.ActivityID,
		Node:       c.NodeID,
		Boundary:   c.Boundary,
	})
}

// CreateMessageSubscriptionCommand subscribes an execution to a message on behalf of an activity.
// It returns the subscription id.
type CreateMessageSubscriptionCommand struct {
	defaultPriority
	ExecutionID uuid.UUID
	ActivityID  string
	NodeID      string
	Message     string
	Boundary    bool
}

// Name implements Command.
func (c *CreateMessageSubscriptionCommand) Name() string { return "CreateMessageSubscription" }

// Execute implements Command.
func (c *CreateMessageSubscriptionCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	return cc.insertSubscription(ctx, c.ExecutionID, storage.SubscriptionRow{
		Type:       storage.SubscriptionMessage,
		Name:       c.Message,
		ActivityID: c.ActivityID,
		Node:       c.NodeID,
		Boundary:   c.Boundary,
	})
}

// CreateTimerSubscriptionCommand subscribes an execution to a point in time. The subscription owns a
// timer job due at RunAt. It returns the subscription id.
type CreateTimerSubscriptionCommand struct {
	defaultPriority
	ExecutionID uuid.UUID
	ActivityID  string
	NodeID      string
	RunAt       time.Time
	Boundary    bool
}

// Name implements Command.
func (c *CreateTimerSubscriptionCommand) Name() string { return "CreateTimerSubscription" }

// Execute implements Command.
func (c *CreateTimerSubscriptionCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	ex, err := cc.FindExecution(ctx, c.ExecutionID)
	if err != nil {
		return nil, err
	}
	subID := ksuid.New().String()
	runAt := c.RunAt
	job, err := cc.ScheduleJob(ctx, ex, JobTypeTimer, timerPayload{SubscriptionID: subID}, &runAt)
	if err != nil {
		return nil, err
	}
	return cc.insertSubscription(ctx, c.ExecutionID, storage.SubscriptionRow{
		ID:         subID,
		Type:       storage.SubscriptionTimer,
		Name:       c.RunAt.UTC().Format(time.RFC3339Nano),
		ActivityID: c.ActivityID,
		Node:       c.NodeID,
		Boundary:   c.Boundary,
		JobID:      sql.NullString{String: job.ID, Valid: true},
	})
}

// ClearEventSubscriptionsCommand deletes the subscriptions an execution holds for an activity,
// together with their timer jobs. An empty ActivityID clears every subscription of the execution.
type ClearEventSubscriptionsCommand struct {
	ExecutionID uuid.UUID
	ActivityID  string
}

// Name implements Command.
func (c *ClearEventSubscriptionsCommand) Name() string { return "ClearEventSubscriptions" }

// Priority implements Command. Cleanup runs before other queued work.
func (c *ClearEventSubscriptionsCommand) Priority() int { return PriorityHigh }

// Execute implements Command.
func (c *ClearEventSubscriptionsCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	ex, err := cc.FindExecution(ctx, c.ExecutionID)
	if err != nil {
		return nil, err
	}
	return nil, cc.clearSubscriptions(ctx, ex, c.ActivityID)
}

// SignalEventReceivedCommand broadcasts a signal to every subscribed execution, deepest first, and
// starts the definitions with a matching signal start event. With ExecutionID set only that execution
// is signalled. It returns the number of deliveries.
type SignalEventReceivedCommand struct {
	defaultPriority
	Signal      string
	ExecutionID uuid.UUID
	Variables   model.Vars
}

// Name implements Command.
func (c *SignalEventReceivedCommand) Name() string { return "SignalEventReceived" }

// Execute implements Command.
func (c *SignalEventReceivedCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	filter := storage.SubscriptionFilter{Type: storage.SubscriptionSignal, Name: c.Signal}
	if c.ExecutionID != uuid.Nil {
		filter.ExecutionID = c.ExecutionID.String()
	}
	subs, err := cc.tx.FindSubscriptions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("signal %s: %w", c.Signal, err)
	}
	delivered := 0
	for _, sub := range subs {
		ok, err := cc.deliver(ctx, sub, &c.Signal, c.Variables)
		if err != nil {
			return nil, fmt.Errorf("signal %s: %w", c.Signal, err)
		}
		if ok {
			delivered++
		}
	}
	if c.ExecutionID != uuid.Nil {
		return delivered, nil
	}
	starts, err := cc.tx.FindProcessSubscriptions(ctx, storage.SubscriptionSignal, c.Signal)
	if err != nil {
		return nil, fmt.Errorf("signal %s: %w", c.Signal, err)
	}
	for _, ps := range starts {
		cc.PushCommand(&StartProcessInstanceCommand{DefinitionID: ps.DefinitionID, StartNodeID: ps.NodeID, Variables: c.Variables})
		delivered++
	}
	logx.FromContext(ctx).Debug("signal received", slog.String(keys.EventName, c.Signal), slog.Int(keys.Count, delivered))
	return delivered, nil
}

// MessageEventReceivedCommand delivers a message to the one execution waiting for it. Timers held by
// the same execution and activity are withdrawn.
type MessageEventReceivedCommand struct {
	defaultPriority
	Message     string
	ExecutionID uuid.UUID
	Variables   model.Vars
}

// Name implements Command.
func (c *MessageEventReceivedCommand) Name() string { return "MessageEventReceived" }

// Execute implements Command.
func (c *MessageEventReceivedCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	filter := storage.SubscriptionFilter{Type: storage.SubscriptionMessage, Name: c.Message}
	if c.ExecutionID != uuid.Nil {
		filter.ExecutionID = c.ExecutionID.String()
	}
	subs, err := cc.tx.FindSubscriptions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", c.Message, err)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("message %s: %w", c.Message, errors.ErrSubscriptionNotFound)
	}
	sub := subs[0]
	for _, s := range subs[1:] {
		if s.ExecutionID != sub.ExecutionID {
			return nil, fmt.Errorf("message %s is awaited by more than one execution: %w", c.Message, errors.ErrSubscriptionNotFound)
		}
	}
	timers, err := cc.tx.FindSubscriptions(ctx, storage.SubscriptionFilter{Type: storage.SubscriptionTimer, ExecutionID: sub.ExecutionID, ActivityID: sub.ActivityID})
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", c.Message, err)
	}
	for _, t := range timers {
		if err := cc.deleteSubscription(ctx, t); err != nil {
			return nil, fmt.Errorf("message %s: %w", c.Message, err)
		}
	}
	if _, err := cc.deliver(ctx, sub, &c.Message, c.Variables); err != nil {
		return nil, fmt.Errorf("message %s: %w", c.Message, err)
	}
	return nil, nil
}

func (cc *CommandContext) insertSubscription(ctx context.Context, executionID uuid.UUID, row storage.SubscriptionRow) (string, error) {
	ex, err := cc.FindExecution(ctx, executionID)
	if err != nil {
		return "", err
	}
	if err := cc.syncExecution(ctx, ex); err != nil {
		return "", err
	}
	if row.ID == "" {
		row.ID = ksuid.New().String()
	}
	row.ExecutionID = ex.id.String()
	row.ProcessInstanceID = ex.processID.String()
	row.CreatedAt = cc.now().UnixMilli()
	if err := cc.tx.InsertSubscription(ctx, row); err != nil {
		return "", fmt.Errorf("subscribe %s to %s %q: %w", ex.id, row.Type, row.Name, err)
	}
	logx.FromContext(ctx).Debug("subscribed", slog.String(keys.ExecutionID, ex.id.String()), slog.String(keys.ElementID, row.ActivityID), slog.String(keys.EventName, row.Name))
	return row.ID, nil
}

// deleteSubscription removes a subscription and its timer job.
func (cc *CommandContext) deleteSubscription(ctx context.Context, sub storage.SubscriptionRow) error {
	if _, err := cc.tx.DeleteSubscription(ctx, sub.ID); err != nil {
		return err
	}
	if sub.JobID.Valid {
		return cc.removeJob(ctx, sub.JobID.String)
	}
	return nil
}

// clearSubscriptions removes the subscriptions of ex held for activityID, or all of them when activityID is empty.
func (cc *CommandContext) clearSubscriptions(ctx context.Context, ex *Execution, activityID string) error {
	if !ex.persisted {
		return nil
	}
	subs, err := cc.tx.FindSubscriptions(ctx, storage.SubscriptionFilter{ExecutionID: ex.id.String(), ActivityID: activityID})
	if err != nil {
		return fmt.Errorf("clear subscriptions of %s: %w", ex.id, err)
	}
	for _, sub := range subs {
		if err := cc.deleteSubscription(ctx, sub); err != nil {
			return fmt.Errorf("clear subscriptions of %s: %w", ex.id, err)
		}
	}
	return nil
}

// deliver consumes a subscription and signals its execution. It reports false when the subscription
// was already consumed.
func (cc *CommandContext) deliver(ctx context.Context, sub storage.SubscriptionRow, signal *string, vars model.Vars) (bool, error) {
	ok, err := cc.tx.DeleteSubscription(ctx, sub.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		logx.FromContext(ctx).Debug("subscription already consumed", slog.String(keys.SubscriptionID, sub.ID))
		return false, nil
	}
	if sub.JobID.Valid {
		if err := cc.removeJob(ctx, sub.JobID.String); err != nil {
			return false, err
		}
	}
	id, err := uuid.Parse(sub.ExecutionID)
	if err != nil {
		return false, fmt.Errorf("deliver subscription %s: %w", sub.ID, err)
	}
	ex, err := cc.FindExecution(ctx, id)
	if err != nil {
		return false, err
	}
	node, ok := ex.model.FindNode(sub.Node)
	if !ok {
		return false, errors.Fatalf("subscription %s targets unknown node %s: %w", sub.ID, sub.Node, errors.ErrInvalidModel)
	}
	switch {
	case isTriggerable(node):
		ex.Signal(signal, vars, &Delegation{NodeID: node.ID})
	case sub.ActivityID != sub.Node:
		// The activity subscribed on behalf of the node, as an event based gateway does for its catch events.
		// The first delivery wins, the siblings are withdrawn right away.
		if err := cc.clearSubscriptions(ctx, ex, sub.ActivityID); err != nil {
			return false, err
		}
		if t := connecting(ex, sub.ActivityID, node.ID); t != nil {
			ex.setTransition(t)
		}
		ex.setNode(node)
		ex.Signal(signal, vars, &Delegation{NodeID: sub.ActivityID})
	default:
		ex.Signal(signal, vars, nil)
	}
	return true, nil
}

func isTriggerable(node *process.Node) bool {
	_, ok := node.Behavior.(Triggerable)
	return ok
}

func connecting(ex *Execution, from string, to string) *process.Transition {
	for _, t := range ex.model.Outgoing(from) {
		if t.To == to {
			return t
		}
	}
	return nil
}
