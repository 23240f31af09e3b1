package expression

import (
	"context"
	"fmt"
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	errors2 "gitlab.com/shar-workflow/bpmnrt/server/errors"
	"strings"
)

// Variable contains metadata about a variable.
type Variable struct {
	Name string
}

// Engine represents an expression engine implementation.
type Engine interface {
	// Eval evaluates an expression given a set of variables and returns a generic type.
	Eval(ctx context.Context, expr string, vars map[string]interface{}) (interface{}, error)
	// GetVariables returns a list of variables mentioned in an expression
	GetVariables(ctx context.Context, expr string) ([]Variable, error)
}

// Eval evaluates an expression given a set of variables and returns a generic type.
func Eval[T any](ctx context.Context, eng Engine, exp string, vars map[string]interface{}) (retval T, reterr error) { //nolint:ireturn
	defer func() {
		if err := recover(); err != nil {
			retval = *new(T)
			reterr = logx.Err(ctx, "panic: evaluate expression", &errors2.ErrWorkflowFatal{Err: fmt.Errorf("%v", err)}, "expression", exp)
		}
	}()
	res, err := eng.Eval(ctx, exp, vars)
	if err != nil {
		return *new(T), fmt.Errorf("evaluate expression: %w", err)
	}
	return res.(T), nil
}

// EvalAny evaluates an expression given a set of variables and returns a 'boxed' interface type.
func EvalAny(ctx context.Context, eng Engine, exp string, vars map[string]interface{}) (retval interface{}, reterr error) { //nolint:ireturn
	defer func() {
		if err := recover(); err != nil {
			reterr = logx.Err(ctx, "panic: evaluate expression", &errors2.ErrWorkflowFatal{Err: fmt.Errorf("%v", err)}, "expression", exp)
		}
	}()
	res, err := eng.Eval(ctx, exp, vars)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return res, nil
}

// EvalBool evaluates a condition. A nil result is false; any other non boolean result is a fatal model error.
func EvalBool(ctx context.Context, eng Engine, exp string, vars map[string]interface{}) (bool, error) {
	res, err := EvalAny(ctx, eng, exp, vars)
	if err != nil {
		return false, err
	}
	switch v := res.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return false, &errors2.ErrWorkflowFatal{Err: fmt.Errorf("condition %q returned %T, not bool", exp, res)}
	}
}

// IsExpression reports whether a model attribute holds an expression rather than a literal.
func IsExpression(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "=")
}

// EvalString resolves a model attribute to a string.
// Literals are returned unchanged, expressions are evaluated and formatted.
func EvalString(ctx context.Context, eng Engine, s string, vars map[string]interface{}) (string, error) {
	if !IsExpression(s) {
		return s, nil
	}
	res, err := EvalAny(ctx, eng, s, vars)
	if err != nil {
		return "", err
	}
	switch v := res.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}

// GetVariables returns a list of variables mentioned in an expression
func GetVariables(ctx context.Context, eng Engine, exp string) ([]Variable, error) {
	res, err := eng.GetVariables(ctx, exp)
	if err != nil {
		return nil, fmt.Errorf("get expression variables: %w", err)
	}
	return res, nil
}
