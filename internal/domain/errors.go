package domain

import "errors"

// Sentinel errors forming the taxonomy every package wraps with fmt.Errorf's
// %w rather than inventing ad-hoc error types.
var (
	ErrInvalidExpression   = errors.New("invalid expression")
	ErrInvalidRuleDefinition = errors.New("invalid rule definition")
	ErrInvalidJSON         = errors.New("invalid json")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrCancelled           = errors.New("cancelled")
	ErrInternal            = errors.New("internal error")

	ErrInvalidOverride = errors.New("decision is not awaiting manual review")
	ErrInvalidOutcome  = errors.New("override outcome must be approve or reject")
)
