package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"entityflow/internal/metadata"
)

var (
	// ErrUnsafeExpression rejects a condition that, after substitution,
	// contains anything besides digits, arithmetic, comparison and logic.
	ErrUnsafeExpression = errors.New("condition contains disallowed characters")

	// ErrNotApplicable means a referenced field has no value.
	ErrNotApplicable = errors.New("condition references an empty field")
)

var (
	fieldRef      = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	safeCondition = regexp.MustCompile(`^[0-9+\-*/()<>=!&|\s]*$`)
)

// EvaluateCondition substitutes field names in cond with their values from
// rec and evaluates the resulting comparison expression. Only numeric
// literals, + - * /, comparisons, ! && || and parentheses are understood.
func EvaluateCondition(cond string, rec metadata.Record) (bool, error) {
	missing := false
	substituted := fieldRef.ReplaceAllStringFunc(cond, func(name string) string {
		v, ok := rec[name]
		if !ok || v == nil || v == "" {
			missing = true
			return name
		}
		return exportValue(v)
	})
	if missing {
		return false, ErrNotApplicable
	}
	if !safeCondition.MatchString(substituted) {
		return false, ErrUnsafeExpression
	}

	tree, err := parser.Parse(substituted)
	if err != nil {
		return false, fmt.Errorf("parse condition: %w", err)
	}
	v, err := evalNode(tree.Node)
	if err != nil {
		return false, err
	}
	switch r := v.(type) {
	case bool:
		return r, nil
	case float64:
		return r != 0, nil
	}
	return false, fmt.Errorf("condition produced %T", v)
}

func exportValue(v any) string {
	switch n := v.(type) {
	case bool:
		if n {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	}
	if i, ok := ToInt(v); ok {
		return strconv.FormatInt(i, 10)
	}
	return stringValue(v)
}

func evalNode(node ast.Node) (any, error) {
	switch n := node.(type) {
	case *ast.IntegerNode:
		return float64(n.Value), nil
	case *ast.FloatNode:
		return n.Value, nil
	case *ast.BoolNode:
		return n.Value, nil
	case *ast.UnaryNode:
		return evalUnary(n)
	case *ast.BinaryNode:
		return evalBinary(n)
	default:
		return nil, fmt.Errorf("unsupported expression %T", node)
	}
}

func evalUnary(n *ast.UnaryNode) (any, error) {
	v, err := evalNode(n.Node)
	if err != nil {
		return nil, err
	}
	switch n.Operator {
	case "-":
		f, err := number(v)
		return -f, err
	case "+":
		return number(v)
	case "!", "not":
		b, err := boolean(v)
		return !b, err
	}
	return nil, fmt.Errorf("unsupported operator %q", n.Operator)
}

func evalBinary(n *ast.BinaryNode) (any, error) {
	left, err := evalNode(n.Left)
	if err != nil {
		return nil, err
	}

	switch n.Operator {
	case "&&", "and", "||", "or":
		l, err := boolean(left)
		if err != nil {
			return nil, err
		}
		if (n.Operator == "&&" || n.Operator == "and") && !l {
			return false, nil
		}
		if (n.Operator == "||" || n.Operator == "or") && l {
			return true, nil
		}
		right, err := evalNode(n.Right)
		if err != nil {
			return nil, err
		}
		return boolean(right)
	}

	right, err := evalNode(n.Right)
	if err != nil {
		return nil, err
	}

	if n.Operator == "==" || n.Operator == "!=" {
		if lb, ok := left.(bool); ok {
			rb, err := boolean(right)
			if err != nil {
				return nil, err
			}
			return (lb == rb) == (n.Operator == "=="), nil
		}
	}

	l, err := number(left)
	if err != nil {
		return nil, err
	}
	r, err := number(right)
	if err != nil {
		return nil, err
	}

	switch n.Operator {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return nil, errors.New("division by zero")
		}
		return l / r, nil
	case "<":
		return l < r, nil
	case ">":
		return l > r, nil
	case "<=":
		return l <= r, nil
	case ">=":
		return l >= r, nil
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	}
	return nil, fmt.Errorf("unsupported operator %q", n.Operator)
}

func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func boolean(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case float64:
		return b != 0, nil
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}
