package storage

import (
	"context"
	"fmt"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
)

// InsertDeployment records a deployment.
func (t *Tx) InsertDeployment(ctx context.Context, row DeploymentRow) error {
	_, err := t.exec(ctx, "insert deployment", `INSERT INTO deployment (id, name, created_at) VALUES (?, ?, ?)`, row.ID, row.Name, row.CreatedAt)
	return err
}

// GetDeployment returns a deployment by id.
func (t *Tx) GetDeployment(ctx context.Context, id string) (*DeploymentRow, error) {
	row := &DeploymentRow{}
	if err := t.get(ctx, row, errors.ErrDeploymentNotFound, "get deployment "+id, `SELECT id, name, created_at FROM deployment WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return row, nil
}

// InsertResource records a deployed document.
func (t *Tx) InsertResource(ctx context.Context, row ResourceRow) error {
	if row.Data == nil {
		row.Data = []byte{}
	}
	_, err := t.exec(ctx, "insert resource", `INSERT INTO resource (id, deployment_id, name, data) VALUES (?, ?, ?, ?)`, row.ID, row.DeploymentID, row.Name, row.Data)
	return err
}

// GetResource returns a deployed document by id.
func (t *Tx) GetResource(ctx context.Context, id string) (*ResourceRow, error) {
	row := &ResourceRow{}
	if err := t.get(ctx, row, errors.ErrDeploymentNotFound, "get resource "+id, `SELECT id, deployment_id, name, data FROM resource WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return row, nil
}

// ListResources returns the documents of a deployment.
func (t *Tx) ListResources(ctx context.Context, deploymentID string) ([]ResourceRow, error) {
	var rows []ResourceRow
	err := t.selectRows(ctx, &rows, "list resources", `SELECT id, deployment_id, name, data FROM resource WHERE deployment_id = ? ORDER BY name`, deploymentID)
	return rows, err
}

const definitionColumns = `id, deployment_id, resource_id, process_key, name, version, created_at`

// InsertDefinition records a process definition.
func (t *Tx) InsertDefinition(ctx context.Context, row DefinitionRow) error {
	_, err := t.exec(ctx, "insert definition", `INSERT INTO process_definition (`+definitionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.DeploymentID, row.ResourceID, row.ProcessKey, row.Name, row.Version, row.CreatedAt)
	if err != nil && t.checker.IsDupEntryError(err) {
		return fmt.Errorf("definition %s version %d already exists: %w", row.ProcessKey, row.Version, err)
	}
	return err
}

// GetDefinition returns a process definition by id.
func (t *Tx) GetDefinition(ctx context.Context, id string) (*DefinitionRow, error) {
	row := &DefinitionRow{}
	if err := t.get(ctx, row, errors.ErrDefinitionNotFound, "get definition "+id, `SELECT `+definitionColumns+` FROM process_definition WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return row, nil
}

// LatestDefinition returns the highest version of a process key.
func (t *Tx) LatestDefinition(ctx context.Context, processKey string) (*DefinitionRow, error) {
	row := &DefinitionRow{}
	if err := t.get(ctx, row, errors.ErrDefinitionNotFound, "get latest definition "+processKey,
		`SELECT `+definitionColumns+` FROM process_definition WHERE process_key = ? ORDER BY version DESC LIMIT 1`, processKey); err != nil {
		return nil, err
	}
	return row, nil
}

// ListDefinitions returns every definition ordered by key and version.
func (t *Tx) ListDefinitions(ctx context.Context) ([]DefinitionRow, error) {
	var rows []DefinitionRow
	err := t.selectRows(ctx, &rows, "list definitions", `SELECT `+definitionColumns+` FROM process_definition ORDER BY process_key, version`)
	return rows, err
}

// InsertProcessSubscription records a start event subscription of a definition.
func (t *Tx) InsertProcessSubscription(ctx context.Context, row ProcessSubscriptionRow) error {
	_, err := t.exec(ctx, "insert process subscription", `INSERT INTO process_subscription (id, definition_id, process_key, type, name, node_id) VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.DefinitionID, row.ProcessKey, row.Type, row.Name, row.NodeID)
	return err
}

// DeleteProcessSubscriptions removes the start event subscriptions of every version of a process key.
func (t *Tx) DeleteProcessSubscriptions(ctx context.Context, processKey string) error {
	_, err := t.exec(ctx, "delete process subscriptions", `DELETE FROM process_subscription WHERE process_key = ?`, processKey)
	return err
}

// FindProcessSubscriptions returns start event subscriptions by type and name.
func (t *Tx) FindProcessSubscriptions(ctx context.Context, subType string, name string) ([]ProcessSubscriptionRow, error) {
	var rows []ProcessSubscriptionRow
	err := t.selectRows(ctx, &rows, "find process subscriptions",
		`SELECT id, definition_id, process_key, type, name, node_id FROM process_subscription WHERE type = ? AND name = ? ORDER BY process_key`, subType, name)
	return rows, err
}
