package ruledef

import (
	"encoding/json"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

// Serialize renders a rule definition back to canonical JSON. Round-tripping
// through ParseRuleDefinition(Serialize(d)) preserves fields and clause order.
func Serialize(def *domain.RuleDefinition) ([]byte, error) {
	return json.Marshal(toLoose(def))
}

func toLoose(def *domain.RuleDefinition) looseDefinition {
	loose := looseDefinition{
		Name:     def.Name,
		Priority: def.Priority,
		Clauses:  make([]looseClause, 0, len(def.Clauses)),
	}
	for _, c := range def.Clauses {
		loose.Clauses = append(loose.Clauses, looseClause{
			If:     c.If,
			Then:   string(c.Then),
			Reason: c.Reason,
		})
	}
	if def.Score != nil {
		loose.Score = &looseScore{
			Base:     def.Score.Base,
			Add:      fromModifiers(def.Score.Add),
			Subtract: fromModifiers(def.Score.Subtract),
		}
	}
	return loose
}

func fromModifiers(in []domain.Modifier) []looseModifier {
	out := make([]looseModifier, 0, len(in))
	for _, m := range in {
		out = append(out, looseModifier{When: m.When, Points: m.Points})
	}
	return out
}
