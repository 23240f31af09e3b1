package workflow

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"gitlab.com/shar-workflow/bpmnrt/server/errors/keys"
	"gitlab.com/shar-workflow/bpmnrt/server/services/storage"
	"log/slog"
)

// DeployCommand stores documents, parses them and registers a new version of every process they contain.
// It returns a *Deployment.
type DeployCommand struct {
	defaultPriority
	Deployment string
	Resources  []Resource
}

// Name implements Command.
func (c *DeployCommand) Name() string { return "Deploy" }

// Execute implements Command.
func (c *DeployCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	if len(c.Resources) == 0 {
		return nil, errors.Fatalf("deployment %q has no resources: %w", c.Deployment, errors.ErrInvalidModel)
	}
	now := cc.now()
	dep := &Deployment{ID: uuid.NewString(), Name: c.Deployment, CreatedAt: now}
	if err := cc.tx.InsertDeployment(ctx, storage.DeploymentRow{ID: dep.ID, Name: dep.Name, CreatedAt: now.UnixMilli()}); err != nil {
		return nil, err
	}
	log := logx.FromContext(ctx)
	for _, r := range c.Resources {
		models, err := cc.engine.loader.Load(ctx, r.Name, r.Data)
		if err != nil {
			return nil, fmt.Errorf("parse resource %s: %w", r.Name, err)
		}
		resID := uuid.NewString()
		if err := cc.tx.InsertResource(ctx, storage.ResourceRow{ID: resID, DeploymentID: dep.ID, Name: r.Name, Data: r.Data}); err != nil {
			return nil, err
		}
		for _, m := range models {
			if err := m.Validate(); err != nil {
				return nil, fmt.Errorf("deploy resource %s: %w", r.Name, err)
			}
			def, err := cc.insertDefinition(ctx, dep.ID, resID, m)
			if err != nil {
				return nil, fmt.Errorf("deploy resource %s: %w", r.Name, err)
			}
			dep.Definitions = append(dep.Definitions, *def)
			log.Info("process deployed", slog.String(keys.ProcessKey, def.ProcessKey), slog.String(keys.DefinitionID, def.ID), slog.Int("version", def.Version))
		}
	}
	return dep, nil
}

func (cc *CommandContext) insertDefinition(ctx context.Context, deploymentID string, resourceID string, m *process.Model) (*Definition, error) {
	version := 1
	latest, err := cc.tx.LatestDefinition(ctx, m.Key)
	switch {
	case err == nil:
		version = latest.Version + 1
	case !errors.IsNotFound(err):
		return nil, err
	}
	row := storage.DefinitionRow{
		ID:           uuid.NewString(),
		DeploymentID: deploymentID,
		ResourceID:   resourceID,
		ProcessKey:   m.Key,
		Name:         m.Name,
		Version:      version,
		CreatedAt:    cc.now().UnixMilli(),
	}
	if err := cc.tx.InsertDefinition(ctx, row); err != nil {
		return nil, err
	}
	// Only the latest version is started by messages and signals.
	if err := cc.tx.DeleteProcessSubscriptions(ctx, m.Key); err != nil {
		return nil, err
	}
	for _, n := range m.NodesInScope("") {
		se, ok := n.Behavior.(*StartEvent)
		if !ok || se.Event == nil || se.Event.Type == storage.SubscriptionTimer {
			continue
		}
		if err := cc.tx.InsertProcessSubscription(ctx, storage.ProcessSubscriptionRow{
			ID:           uuid.NewString(),
			DefinitionID: row.ID,
			ProcessKey:   m.Key,
			Type:         se.Event.Type,
			Name:         se.Event.Name,
			NodeID:       n.ID,
		}); err != nil {
			return nil, err
		}
	}
	cc.models[row.ID] = m
	def := definitionFromRow(row)
	return &def, nil
}

// StartProcessInstanceCommand creates a process instance and enters its start node. The definition is
// named by DefinitionID, by the latest version of ProcessKey or by the message start event awaiting
// Message. StartNodeID overrides the start node. It returns the process instance id.
type StartProcessInstanceCommand struct {
	defaultPriority
	DefinitionID string
	ProcessKey   string
	Message      string
	StartNodeID  string
	Variables    model.Vars
	BusinessKey  string
}

// Name implements Command.
func (c *StartProcessInstanceCommand) Name() string { return "StartProcessInstance" }

// Execute implements Command.
func (c *StartProcessInstanceCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	defID, startID, err := c.resolve(ctx, cc)
	if err != nil {
		return nil, err
	}
	m, err := cc.model(ctx, defID)
	if err != nil {
		return nil, err
	}
	var start *process.Node
	if startID != "" {
		n, ok := m.FindNode(startID)
		if !ok {
			return nil, errors.Fatalf("start %s at unknown node %s: %w", m.Key, startID, errors.ErrMissingStartNode)
		}
		start = n
	} else if start, err = m.InitialNode(); err != nil {
		return nil, err
	}
	root := cc.newProcessInstance(defID, m, c.BusinessKey)
	for k, v := range c.Variables {
		root.SetVariableLocal(k, v)
	}
	cc.notify(eventFor(EventProcessStarted, root))
	logx.FromContext(ctx).Debug("process instance started", slog.String(keys.ProcessInstanceID, root.id.String()), slog.String(keys.ProcessKey, m.Key))
	if err := startScope(ctx, root, "", start); err != nil {
		return nil, err
	}
	return root.id, nil
}

func (c *StartProcessInstanceCommand) resolve(ctx context.Context, cc *CommandContext) (string, string, error) {
	switch {
	case c.DefinitionID != "":
		return c.DefinitionID, c.StartNodeID, nil
	case c.ProcessKey != "":
		def, err := cc.tx.LatestDefinition(ctx, c.ProcessKey)
		if err != nil {
			return "", "", fmt.Errorf("start %s: %w", c.ProcessKey, err)
		}
		return def.ID, c.StartNodeID, nil
	case c.Message != "":
		subs, err := cc.tx.FindProcessSubscriptions(ctx, storage.SubscriptionMessage, c.Message)
		if err != nil {
			return "", "", fmt.Errorf("start by message %s: %w", c.Message, err)
		}
		switch len(subs) {
		case 0:
			return "", "", fmt.Errorf("start by message %s: %w", c.Message, errors.ErrDefinitionNotFound)
		case 1:
			return subs[0].DefinitionID, subs[0].NodeID, nil
		default:
			return "", "", errors.Fatalf("start by message %s: %d definitions: %w", c.Message, len(subs), errors.ErrAmbiguousStart)
		}
	}
	return "", "", errors.Fatalf("start process instance: no definition, process key or message: %w", errors.ErrDefinitionNotFound)
}

// CancelProcessInstanceCommand terminates every execution of a process instance.
type CancelProcessInstanceCommand struct {
	defaultPriority
	ProcessInstanceID uuid.UUID
}

// Name implements Command.
func (c *CancelProcessInstanceCommand) Name() string { return "CancelProcessInstance" }

// Execute implements Command.
func (c *CancelProcessInstanceCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	ex, err := cc.FindExecution(ctx, c.ProcessInstanceID)
	if err != nil {
		return nil, err
	}
	root := ex.ProcessInstance()
	for _, e := range root.tree.executions {
		if !e.IsTerminated() && e.node != nil && e.IsActive() {
			cc.notify(eventFor(EventActivityCanceled, e))
		}
	}
	return nil, root.Terminate(false)
}

// SetVariablesCommand writes variables through an execution.
type SetVariablesCommand struct {
	defaultPriority
	ExecutionID uuid.UUID
	Variables   model.Vars
	Local       bool
}

// Name implements Command.
func (c *SetVariablesCommand) Name() string { return "SetVariables" }

// Execute implements Command.
func (c *SetVariablesCommand) Execute(ctx context.Context, cc *CommandContext) (any, error) {
	ex, err := cc.FindExecution(ctx, c.ExecutionID)
	if err != nil {
		return nil, err
	}
	if !c.Local {
		ex.SetVariables(c.Variables)
		return nil, nil
	}
	for k, v := range c.Variables {
		ex.SetVariableLocal(k, v)
	}
	return nil, nil
}
