package ruledef

import (
	"fmt"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
	"github.com/smartunderwrite/smartunderwrite/internal/expr"
)

// ValidationError is one structural or semantic problem found in a rule
// definition.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult is the outcome of validating a rule definition. Warnings
// never affect IsValid; only Errors do.
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

func (r *ValidationResult) addError(field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	r.IsValid = false
}

func (r *ValidationResult) addWarning(field, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateRuleDefinition runs the structural and semantic checks in spec §4.2
// against an already-parsed definition.
func ValidateRuleDefinition(def *domain.RuleDefinition) *ValidationResult {
	result := &ValidationResult{IsValid: true, Errors: []ValidationError{}, Warnings: []ValidationError{}}

	if def.Name == "" {
		result.addError("name", "must not be empty")
	}
	if def.Priority < 0 {
		result.addError("priority", "must be non-negative, got %d", def.Priority)
	}
	if len(def.Clauses) == 0 {
		result.addError("clauses", "at least one clause is required")
	}

	for i, clause := range def.Clauses {
		prefix := fmt.Sprintf("clauses[%d]", i)
		if clause.If == "" {
			result.addError(prefix+".if", "must not be empty")
		} else if !expr.Validate(clause.If) {
			result.addError(prefix+".if", "does not compile: %q", clause.If)
		}
		switch clause.Then {
		case domain.Approve, domain.Reject, domain.Manual:
		case "":
			result.addError(prefix+".then", "must not be empty")
		default:
			result.addError(prefix+".then", "unknown action %q", clause.Then)
		}
		if clause.Reason == "" {
			result.addWarning(prefix+".reason", "missing reason")
		}
	}

	if def.Score != nil {
		if def.Score.Base < 0 {
			result.addError("score.base", "must be non-negative, got %d", def.Score.Base)
		}
		validateModifiers(result, "score.add", def.Score.Add)
		validateModifiers(result, "score.subtract", def.Score.Subtract)
	}

	return result
}

func validateModifiers(result *ValidationResult, field string, mods []domain.Modifier) {
	for i, m := range mods {
		prefix := fmt.Sprintf("%s[%d]", field, i)
		if m.When == "" {
			result.addError(prefix+".when", "must not be empty")
		} else if !expr.Validate(m.When) {
			result.addError(prefix+".when", "does not compile: %q", m.When)
		}
		if m.Points < 0 {
			result.addError(prefix+".points", "must be non-negative, got %d", m.Points)
		}
		if m.Points == 0 {
			result.addWarning(prefix+".points", "modifier has no effect (points == 0)")
		}
	}
}

// ValidateRuleJson composes ParseRuleDefinition and ValidateRuleDefinition;
// a JSON parse failure surfaces as a single structural error rather than
// propagating as an exception.
func ValidateRuleJson(raw []byte) *ValidationResult {
	def, err := ParseRuleDefinition(raw)
	if err != nil {
		return &ValidationResult{
			IsValid: false,
			Errors:  []ValidationError{{Field: "root", Message: err.Error()}},
			Warnings: []ValidationError{},
		}
	}
	return ValidateRuleDefinition(def)
}
