package domain

import (
	"fmt"
	"math/big"
)

// Decimal is an exact decimal amount backed by math/big.Rat. Monetary fields
// (Application.Amount, Application.IncomeMonthly, EvaluationContext.Amount,
// EvaluationContext.IncomeMonthly) use it instead of float64 end to end, so a
// value like 19.99 never passes through an IEEE-754 binary64 on its way from
// the request body to the expression compiler's comparison.
type Decimal struct {
	rat *big.Rat
}

// DecimalFromInt builds an exact Decimal from a whole number.
func DecimalFromInt(n int64) Decimal {
	return Decimal{rat: new(big.Rat).SetInt64(n)}
}

// DecimalFromString parses a decimal literal (e.g. "19.99") exactly, the same
// way internal/expr parses rule-literal numbers.
func DecimalFromString(s string) (Decimal, error) {
	rat, ok := new(big.Rat).SetString(s)
	if !ok {
		return Decimal{}, fmt.Errorf("invalid decimal value %q", s)
	}
	return Decimal{rat: rat}, nil
}

// Rat returns the underlying exact value. The zero Decimal is 0/1.
func (d Decimal) Rat() *big.Rat {
	if d.rat == nil {
		return new(big.Rat)
	}
	return d.rat
}

// Sign returns -1, 0, or 1, matching big.Rat.Sign.
func (d Decimal) Sign() int {
	return d.Rat().Sign()
}

// Float64 converts to the nearest float64. Only for collaborators that
// cannot carry an exact decimal (e.g. the CEL benchmark bridge in
// internal/legacyrules, or a metrics histogram) — never for comparisons the
// production evaluation path performs.
func (d Decimal) Float64() float64 {
	f, _ := d.Rat().Float64()
	return f
}

// String renders the decimal in plain (non-fraction) form.
func (d Decimal) String() string {
	return d.Rat().FloatString(decimalJSONPrecision)
}

// decimalJSONPrecision bounds the number of fractional digits MarshalJSON
// emits. Monetary amounts in this system are cents-precision; this leaves
// headroom without growing JSON output unbounded for a recurring fraction.
const decimalJSONPrecision = 6

// MarshalJSON emits the decimal as a plain JSON number, trimming trailing
// zeros (and a trailing '.') so whole amounts round-trip as "25000", not
// "25000.000000".
func (d Decimal) MarshalJSON() ([]byte, error) {
	s := d.Rat().FloatString(decimalJSONPrecision)
	end := len(s)
	for end > 0 && s[end-1] == '0' {
		end--
	}
	if end > 0 && s[end-1] == '.' {
		end--
	}
	return []byte(s[:end]), nil
}

// UnmarshalJSON parses the raw JSON number token directly into a big.Rat,
// without an intermediate float64 conversion — this is the fix for the
// "amount survives as an already-rounded binary64" bug: encoding/json hands
// UnmarshalJSON the literal source bytes of the number (e.g. "19.99"), and
// big.Rat.SetString parses that text exactly.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		d.rat = new(big.Rat)
		return nil
	}
	rat, ok := new(big.Rat).SetString(s)
	if !ok {
		return fmt.Errorf("invalid decimal value %q", s)
	}
	d.rat = rat
	return nil
}
