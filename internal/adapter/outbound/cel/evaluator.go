// Package cel provides a CEL-based evaluator for console access rules.
package cel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// maxExpressionLength is the maximum allowed length for rule expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// RuleInput is the variable set exposed to access-rule expressions.
type RuleInput struct {
	// PrincipalID, Username and Role describe the authenticated user.
	PrincipalID string
	Username    string
	Role        string
	// Capabilities are the granted "resource:action" wire strings.
	Capabilities []string
	// Path and Method describe the guarded request.
	Path   string
	Method string
}

// Evaluator compiles and evaluates CEL expressions for access rules.
type Evaluator struct {
	env *cel.Env
}

// NewRuleEnvironment creates a CEL environment configured for access-rule
// evaluation over principal and request variables.
func NewRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("principal_id", cel.StringType),
		cel.Variable("username", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("capabilities", cel.ListType(cel.StringType)),
		cel.Variable("request_path", cel.StringType),
		cel.Variable("request_method", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		// glob: shell-style pattern matching for paths.
		// Usage: glob("/backups/*", request_path)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// NewEvaluator creates a new CEL evaluator with the rule environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks a rule expression, returning a compiled
// program with cost and interrupt limits applied.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that a rule expression is syntactically valid
// and within the safety limits (length, nesting depth).
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	if err := validateNesting(expr); err != nil {
		return err
	}

	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid rule expression: %w", err)
	}

	return nil
}

// Evaluate runs a compiled program against the given input. Returns true
// only when the expression evaluates to true; any error fails closed at the
// caller.
func (e *Evaluator) Evaluate(prg cel.Program, input RuleInput) (bool, error) {
	caps := input.Capabilities
	if caps == nil {
		caps = []string{}
	}
	activation := map[string]any{
		"principal_id":   input.PrincipalID,
		"username":       input.Username,
		"role":           input.Role,
		"capabilities":   caps,
		"request_path":   input.Path,
		"request_method": input.Method,
		"request_time":   time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}
