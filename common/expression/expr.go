package expression

import (
	"context"
	"fmt"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"gitlab.com/shar-workflow/bpmnrt/common/cache"
	errors2 "gitlab.com/shar-workflow/bpmnrt/server/errors"
	"maps"
	"slices"
	"strings"
)

// ExprEngine is an implementation of the expr-lang an expression engine.
type ExprEngine struct {
	programs cache.Backend[string, *vm.Program]
}

// NewExprEngine creates an expression engine that keeps compiled programs in the given cache.
// A nil cache compiles every expression on each evaluation.
func NewExprEngine(programs cache.Backend[string, *vm.Program]) *ExprEngine {
	return &ExprEngine{programs: programs}
}

// Eval takes a context, an expression string, and a map of variables. It returns the result of the expression evaluation
// as an interface{} and any error encountered during the evaluation process.
// If the expression string is empty, it returns nil, nil.
// If the expression string starts with "=", the "=" character is removed from the expression.
// Compilation errors are fatal because they can only be fixed by changing the process model.
func (e *ExprEngine) Eval(ctx context.Context, exp string, vars map[string]interface{}) (interface{}, error) {
	exp = strings.TrimPrefix(strings.TrimSpace(exp), "=")
	if len(exp) == 0 {
		return nil, nil
	}
	prg, err := e.compile(exp, vars)
	if err != nil {
		return nil, err
	}

	res, err := expr.Run(prg, vars)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}

	return res, nil
}

// compile builds the program for exp against the variables in scope, so that a variable named like a
// builtin (count, len, all) resolves to the variable. Programs are cached per expression and variable types.
func (e *ExprEngine) compile(exp string, vars map[string]interface{}) (*vm.Program, error) {
	env, key := compileEnv(exp, vars)
	fn := func() (*vm.Program, error) {
		var opts []expr.Option
		if len(env) > 0 {
			opts = append(opts, expr.Env(env), expr.AllowUndefinedVariables())
		}
		prg, err := expr.Compile(exp, opts...)
		if err != nil {
			return nil, fmt.Errorf(err.Error()+": %w", &errors2.ErrWorkflowFatal{Err: err})
		}
		return prg, nil
	}
	if e.programs == nil {
		return fn()
	}
	prg, err := cache.Cacheable[string, *vm.Program](key, fn, e.programs)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return prg, nil
}

// GetVariables takes a context and an expression string. It trims any leading and trailing white spaces from the expression string.
// If the expression string is empty or is not prefixed with "=", it returns nil, nil.
// It walks through the AST of the parsed expression and collects all IdentifierNode types into a slice of Variable structs.
func (e *ExprEngine) GetVariables(ctx context.Context, exp string) ([]Variable, error) {
	exp = strings.TrimSpace(exp)
	if len(exp) == 0 {
		return nil, nil
	}
	if exp[0] == '=' {
		exp = exp[1:]
	} else {
		return nil, nil
	}
	c, err := parser.Parse(exp)
	if err != nil {
		return nil, fmt.Errorf("get variables failed to parse expression %w", err)
	}

	g := &exprVariableWalker{v: make([]Variable, 0)}
	ast.Walk(&c.Node, g)
	return g.v, nil
}

type exprVariableWalker struct {
	v []Variable
}

// Visit is called from the visitor to iterate all IdentifierNode types
func (w *exprVariableWalker) Visit(n *ast.Node) {
	switch t := (*n).(type) {
	case *ast.IdentifierNode:
		w.v = append(w.v, Variable{Name: t.Value})
	}
}

// Exit is unused in the variableWalker implementation
func (w *exprVariableWalker) Exit(_ *ast.Node) {}

// compileEnv returns the non nil variables to type check against and the cache key of the program.
func compileEnv(exp string, vars map[string]interface{}) (map[string]interface{}, string) {
	env := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		if v != nil {
			env[k] = v
		}
	}
	var sb strings.Builder
	sb.WriteString(exp)
	for _, k := range slices.Sorted(maps.Keys(env)) {
		fmt.Fprintf(&sb, "\x00%s:%T", k, env[k])
	}
	return env, sb.String()
}
