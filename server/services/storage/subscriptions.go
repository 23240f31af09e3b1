package storage

import (
	"context"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
)

const subscriptionColumns = `s.id, s.execution_id, s.activity_id, s.node, s.process_instance_id, s.type, s.name, s.created_at, s.job_id, s.boundary`

// InsertSubscription writes an event subscription.
func (t *Tx) InsertSubscription(ctx context.Context, row SubscriptionRow) error {
	_, err := t.exec(ctx, "insert subscription", `INSERT INTO event_subscription (id, execution_id, activity_id, node, process_instance_id, type, name, created_at, job_id, boundary)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.ExecutionID, row.ActivityID, row.Node, row.ProcessInstanceID, row.Type, row.Name, row.CreatedAt, row.JobID, row.Boundary)
	return err
}

// GetSubscription returns a subscription by id.
func (t *Tx) GetSubscription(ctx context.Context, id string) (*SubscriptionRow, error) {
	row := &SubscriptionRow{}
	if err := t.get(ctx, row, errors.ErrSubscriptionNotFound, "get subscription "+id, `SELECT `+subscriptionColumns+` FROM event_subscription s WHERE s.id = ?`, id); err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteSubscription removes a subscription. It reports whether a row was deleted.
func (t *Tx) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	n, err := t.exec(ctx, "delete subscription "+id, `DELETE FROM event_subscription WHERE id = ?`, id)
	return n > 0, err
}

// FindSubscriptions returns the matching subscriptions, deepest execution first.
func (t *Tx) FindSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]SubscriptionRow, error) {
	w := &where{}
	w.eq("s.type", filter.Type)
	w.eq("s.name", filter.Name)
	w.eq("s.execution_id", filter.ExecutionID)
	w.eq("s.activity_id", filter.ActivityID)
	w.eq("s.process_instance_id", filter.ProcessInstanceID)
	var rows []SubscriptionRow
	err := t.selectRows(ctx, &rows, "find subscriptions",
		`SELECT `+subscriptionColumns+` FROM event_subscription s JOIN execution e ON e.id = s.execution_id`+w.String()+` ORDER BY e.depth DESC, s.created_at, s.id`, w.args...)
	return rows, err
}
