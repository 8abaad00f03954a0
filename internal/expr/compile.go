package expr

import (
	"fmt"
	"math/big"
	"time"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

// dateLayout is the only date literal format the grammar accepts.
const dateLayout = "2006-01-02"

// Predicate is a compiled condition: a pure function over an evaluation
// context. It never errors; all type and syntax checking happens at Compile
// time, per spec.
type Predicate func(ctx *domain.EvaluationContext) bool

// Compile parses and type-checks src against the evaluation-context field
// catalog, returning a predicate. Returns domain.ErrInvalidExpression
// (wrapped with detail) on any syntax or type error.
func Compile(src string) (Predicate, error) {
	n, err := parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidExpression, src, err)
	}
	pred, err := compileNode(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidExpression, src, err)
	}
	return pred, nil
}

// Validate reports whether src would compile. It never panics or returns an
// error itself — callers that need the failure detail should call Compile.
func Validate(src string) bool {
	_, err := Compile(src)
	return err == nil
}

func compileNode(n node) (Predicate, error) {
	switch v := n.(type) {
	case orNode:
		left, err := compileNode(v.left)
		if err != nil {
			return nil, err
		}
		right, err := compileNode(v.right)
		if err != nil {
			return nil, err
		}
		return func(ctx *domain.EvaluationContext) bool {
			return left(ctx) || right(ctx)
		}, nil
	case andNode:
		left, err := compileNode(v.left)
		if err != nil {
			return nil, err
		}
		right, err := compileNode(v.right)
		if err != nil {
			return nil, err
		}
		return func(ctx *domain.EvaluationContext) bool {
			return left(ctx) && right(ctx)
		}, nil
	case compareNode:
		return compileCompare(v)
	default:
		return nil, fmt.Errorf("unreachable node type %T", n)
	}
}

func compileCompare(c compareNode) (Predicate, error) {
	field, ok := catalog[c.field]
	if !ok {
		return nil, fmt.Errorf("unknown identifier %q at position %d", c.field, c.pos)
	}
	if !validOp(c.op) {
		return nil, fmt.Errorf("unknown operator %q at position %d", c.op, c.pos)
	}

	switch field.typ {
	case fieldNumeric:
		return compileNumericCompare(field.name, c, false)
	case fieldNullableNumeric:
		return compileNumericCompare(field.name, c, true)
	case fieldString:
		return compileStringCompare(field.name, c)
	case fieldDate:
		return compileDateCompare(field.name, c)
	default:
		return nil, fmt.Errorf("unreachable field type for %q", c.field)
	}
}

func validOp(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		return true
	}
	return false
}

func compileNumericCompare(fieldName string, c compareNode, nullable bool) (Predicate, error) {
	if c.literal.kind == litNull {
		if !nullable {
			return nil, fmt.Errorf("field %q is not nullable", fieldName)
		}
		if c.op != "==" && c.op != "!=" {
			return nil, fmt.Errorf("null may only be compared with == or != (field %q)", fieldName)
		}
		wantEqual := c.op == "=="
		return func(ctx *domain.EvaluationContext) bool {
			isNil := fieldIsNil(ctx, fieldName)
			return isNil == wantEqual
		}, nil
	}
	if c.literal.kind != litNumber {
		return nil, fmt.Errorf("field %q expects a numeric literal, got a string", fieldName)
	}
	want := c.literal.number
	op := c.op
	return func(ctx *domain.EvaluationContext) bool {
		val, isNil := numericValue(ctx, fieldName)
		if isNil {
			// A non-null comparison against a nullable field that is
			// currently nil evaluates to false rather than erroring.
			return false
		}
		return compareRat(op, val, want)
	}, nil
}

func compileStringCompare(fieldName string, c compareNode) (Predicate, error) {
	if c.literal.kind != litString {
		return nil, fmt.Errorf("field %q expects a string literal", fieldName)
	}
	if c.op != "==" && c.op != "!=" {
		return nil, fmt.Errorf("field %q only supports == and !=", fieldName)
	}
	want := c.literal.str
	wantEqual := c.op == "=="
	return func(ctx *domain.EvaluationContext) bool {
		got := stringValue(ctx, fieldName)
		return (got == want) == wantEqual
	}, nil
}

func compileDateCompare(fieldName string, c compareNode) (Predicate, error) {
	if c.literal.kind != litString {
		return nil, fmt.Errorf("field %q expects a %q-formatted date literal", fieldName, dateLayout)
	}
	want, err := time.Parse(dateLayout, c.literal.str)
	if err != nil {
		return nil, fmt.Errorf("field %q: invalid date literal %q: %v", fieldName, c.literal.str, err)
	}
	op := c.op
	return func(ctx *domain.EvaluationContext) bool {
		got := ctx.ApplicationDate
		switch op {
		case "==":
			return got.Equal(want)
		case "!=":
			return !got.Equal(want)
		case "<":
			return got.Before(want)
		case "<=":
			return got.Before(want) || got.Equal(want)
		case ">":
			return got.After(want)
		case ">=":
			return got.After(want) || got.Equal(want)
		}
		return false
	}, nil
}

func fieldIsNil(ctx *domain.EvaluationContext, fieldName string) bool {
	switch fieldName {
	case "CreditScore":
		return ctx.CreditScore == nil
	default:
		return false
	}
}

func numericValue(ctx *domain.EvaluationContext, fieldName string) (*big.Rat, bool) {
	switch fieldName {
	case "Amount":
		// ctx.Amount is a domain.Decimal carried exactly from the request
		// body — no SetFloat64 round-trip through binary64 here.
		return ctx.Amount.Rat(), false
	case "IncomeMonthly":
		return ctx.IncomeMonthly.Rat(), false
	case "CreditScore":
		if ctx.CreditScore == nil {
			return nil, true
		}
		return new(big.Rat).SetInt64(*ctx.CreditScore), false
	default:
		return big.NewRat(0, 1), false
	}
}

func stringValue(ctx *domain.EvaluationContext, fieldName string) string {
	switch fieldName {
	case "EmploymentType":
		return ctx.EmploymentType
	case "ProductType":
		return ctx.ProductType
	default:
		return ""
	}
}

func compareRat(op string, a, b *big.Rat) bool {
	cmp := a.Cmp(b)
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}
