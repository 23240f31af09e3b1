package parser

import (
	"context"
	"fmt"
	"gitlab.com/shar-workflow/bpmnrt/common/expression"
	"gitlab.com/shar-workflow/bpmnrt/internal/process"
	"gitlab.com/shar-workflow/bpmnrt/internal/server/workflow"
	errors2 "gitlab.com/shar-workflow/bpmnrt/server/errors"
	"regexp"
	"strings"
)

var syntax = expression.NewExprEngine(nil)

func validModels(models []*process.Model) error {
	for _, m := range models {
		if err := validName(m.Key); err != nil {
			return fmt.Errorf("invalid process key: %w", err)
		}
		for _, n := range m.Nodes() {
			if err := validNode(n); err != nil {
				return fmt.Errorf("process %s: %w", m.Key, err)
			}
		}
		for _, t := range m.Transitions() {
			if t.Condition == "" {
				continue
			}
			if err := validExpression(t.Condition); err != nil {
				return fmt.Errorf("process %s: %w", m.Key, &valError{Err: err, Context: "condition of " + t.ID})
			}
		}
	}
	return nil
}

func validNode(n *process.Node) error {
	switch b := n.Behavior.(type) {
	case *workflow.CallActivity:
		if b.CalledElement == "" {
			return errors2.Fatalf("call activity validation failed: %w", &valError{Err: errors2.ErrInvalidModel, Context: n.ID + " has no called element"})
		}
	case *workflow.ReceiveTask:
		return validEventName(n.ID, b.Message)
	case *workflow.MessageThrowEvent:
		return validEventName(n.ID, b.Message)
	case *workflow.SignalThrowEvent:
		return validEventName(n.ID, b.Signal)
	case *workflow.ScriptTask:
		if err := validExpression(b.Script); err != nil {
			return fmt.Errorf("script task validation failed: %w", &valError{Err: err, Context: n.ID})
		}
	}
	return nil
}

// validEventName checks literal message and signal names. Expressions are resolved at run time.
func validEventName(id string, name string) error {
	if expression.IsExpression(name) {
		return nil
	}
	if err := validName(name); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	return nil
}

func validExpression(exp string) error {
	if !expression.IsExpression(exp) {
		exp = "=" + exp
	}
	if _, err := syntax.GetVariables(context.Background(), exp); err != nil {
		return errors2.Fatalf("%s: %w", strings.TrimSpace(err.Error()), errors2.ErrInvalidModel)
	}
	return nil
}

type valError struct {
	Err     error
	Context string
}

func (e valError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Context)
}

//goland:noinspection GoUnnecessarilyExportedIdentifiers
func (e valError) Unwrap() error {
	return e.Err
}

var validKeyRe = regexp.MustCompile(`\A[-/_=\.a-zA-Z0-9]+\z`)

// is a NATS subject compatible name
func validName(name string) error {
	if len(name) == 0 || name[0] == '.' || name[len(name)-1] == '.' || !validKeyRe.MatchString(name) {
		return errors2.Fatalf("'%s' contains invalid characters: %w", name, errors2.ErrInvalidModel)
	}
	return nil
}
