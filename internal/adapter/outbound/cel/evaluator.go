// Package cel implements the "expression" condition type on top of CEL.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
)

// maxExpressionLength is the maximum allowed length for an expression.
const maxExpressionLength = 1024

// maxCostBudget caps the runtime cost of a single evaluation.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation.
const evalTimeout = 250 * time.Millisecond

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL expressions over request attributes.
type Evaluator struct {
	env      *cel.Env
	location *time.Location
}

// NewEvaluator creates an Evaluator. request_hour is computed in loc (UTC when nil).
func NewEvaluator(loc *time.Location) (*Evaluator, error) {
	env, err := NewConditionEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition environment: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{env: env, location: loc}, nil
}

// Compile validates expr and returns a program. The expression must be boolean.
func (e *Evaluator) Compile(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return bool, got %s", out)
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

// Evaluate runs prg against attrs with a timeout.
func (e *Evaluator) Evaluate(prg cel.Program, attrs condition.Attributes) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, BuildActivation(attrs, e.location))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return b, nil
}

// Expression is a compiled expression condition.
type Expression struct {
	source string
	prg    cel.Program
	eval   *Evaluator
}

// Type implements condition.Condition.
func (x *Expression) Type() condition.Type { return condition.TypeExpression }

// Source returns the expression text.
func (x *Expression) Source() string { return x.source }

// Match implements condition.Condition. Evaluation errors never match.
func (x *Expression) Match(attrs condition.Attributes) bool {
	ok, err := x.eval.Evaluate(x.prg, attrs)
	return err == nil && ok
}

// Parse compiles raw into an Expression.
func (e *Evaluator) Parse(raw string) (*Expression, error) {
	prg, err := e.Compile(raw)
	if err != nil {
		return nil, err
	}
	return &Expression{source: raw, prg: prg, eval: e}, nil
}

// Register adds the expression condition type to reg, evaluating
// request_hour in the registry's reference timezone.
func Register(reg *condition.Registry) error {
	e, err := NewEvaluator(reg.Location())
	if err != nil {
		return err
	}
	return reg.Register(condition.TypeExpression, func(raw string) (condition.Condition, error) {
		x, err := e.Parse(raw)
		if err != nil {
			return nil, err
		}
		return x, nil
	})
}
