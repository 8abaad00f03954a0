// Package legacyrules compiles the same clause condition grammar the Rule
// Parser accepts (spec §4.1's field catalog: Amount, IncomeMonthly,
// CreditScore, EmploymentType, ProductType, ApplicationDate) onto CEL
// instead of the hand-rolled big.Rat expression compiler in internal/expr.
//
// It exists for cmd/benchmark to measure the hand-rolled compiler against
// a mature general-purpose expression engine on the exact same conditions,
// not because production evaluation uses it.
package legacyrules

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

// Predicate is a compiled CEL condition over an evaluation context.
type Predicate struct {
	program cel.Program
	source  string
}

// env is shared across every Compile call; CEL environments are safe for
// concurrent compilation and immutable once built.
var env *cel.Env

func init() {
	var err error
	env, err = cel.NewEnv(
		cel.Variable("Amount", cel.DoubleType),
		cel.Variable("IncomeMonthly", cel.DoubleType),
		cel.Variable("CreditScore", cel.IntType),
		cel.Variable("EmploymentType", cel.StringType),
		cel.Variable("ProductType", cel.StringType),
		cel.Variable("ApplicationDate", cel.TimestampType),
	)
	if err != nil {
		panic(fmt.Sprintf("legacyrules: failed to build CEL environment: %v", err))
	}
}

// Compile parses and type-checks src, returning a predicate. src uses the
// same field names as internal/expr's grammar; translate comparisons like
// `CreditScore < 500` verbatim, and quoted date literals as
// `timestamp("2024-01-01T00:00:00Z")` since CEL has no bare date literal.
func Compile(src string) (*Predicate, error) {
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidExpression, src, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: %s: expression must return bool, got %s", domain.ErrInvalidExpression, src, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidExpression, src, err)
	}
	return &Predicate{program: program, source: src}, nil
}

// Eval runs the compiled predicate against ctx. A nil CreditScore is passed
// to CEL as 0, since CEL's IntType has no null; this matches the benchmark's
// purpose of comparing raw evaluation throughput, not null-handling fidelity.
func (p *Predicate) Eval(ctx *domain.EvaluationContext) (bool, error) {
	var creditScore int64
	if ctx.CreditScore != nil {
		creditScore = *ctx.CreditScore
	}

	out, _, err := p.program.Eval(map[string]any{
		// CEL's DoubleType has no exact-decimal representation, so Amount
		// and IncomeMonthly go through Decimal.Float64() here — acceptable
		// only because this package exists for throughput comparison, not
		// for the production decision path.
		"Amount":          ctx.Amount.Float64(),
		"IncomeMonthly":   ctx.IncomeMonthly.Float64(),
		"CreditScore":     creditScore,
		"EmploymentType":  ctx.EmploymentType,
		"ProductType":     ctx.ProductType,
		"ApplicationDate": ctx.ApplicationDate.UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("legacyrules: evaluation error for %q: %w", p.source, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("legacyrules: expression %q did not evaluate to bool", p.source)
	}
	return result, nil
}

// Source returns the original expression text.
func (p *Predicate) Source() string {
	return p.source
}

// timestampLiteral formats t the way a CEL expression embeds a date
// comparison, for benchmark harnesses translating "2024-01-01" literals
// from the production grammar into CEL's timestamp() call form.
func timestampLiteral(t time.Time) string {
	return fmt.Sprintf("timestamp(%q)", t.UTC().Format(time.RFC3339))
}
