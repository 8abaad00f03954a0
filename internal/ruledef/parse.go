// Package ruledef parses and validates the JSON rule-definition wire format
// (spec §4.2, §6) into domain.RuleDefinition.
package ruledef

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

// ParseRuleDefinition deserializes raw into a domain.RuleDefinition. Keys
// are matched case-insensitively and trailing commas are tolerated, so
// hand-edited rule documents round-trip even when slightly malformed.
func ParseRuleDefinition(raw []byte) (*domain.RuleDefinition, error) {
	clean := stripTrailingCommas(raw)

	var loose looseDefinition
	dec := json.NewDecoder(bytes.NewReader(clean))
	if err := dec.Decode(&loose); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidJSON, err)
	}
	return loose.toDefinition(), nil
}

// looseDefinition mirrors domain.RuleDefinition and accepts any-case JSON
// keys, since encoding/json's struct matching is already case-insensitive
// for exported fields — this type exists to make
// that behavior explicit and to centralize the trailing-comma tolerance.
type looseDefinition struct {
	Name     string          `json:"name"`
	Priority int             `json:"priority"`
	Clauses  []looseClause   `json:"clauses"`
	Score    *looseScore     `json:"score"`
}

type looseClause struct {
	If     string `json:"if"`
	Then   string `json:"then"`
	Reason string `json:"reason"`
}

type looseScore struct {
	Base     int              `json:"base"`
	Add      []looseModifier  `json:"add"`
	Subtract []looseModifier  `json:"subtract"`
}

type looseModifier struct {
	When   string `json:"when"`
	Points int    `json:"points"`
}

func (l looseDefinition) toDefinition() *domain.RuleDefinition {
	def := &domain.RuleDefinition{
		Name:     l.Name,
		Priority: l.Priority,
		Clauses:  make([]domain.Clause, 0, len(l.Clauses)),
	}
	for _, c := range l.Clauses {
		def.Clauses = append(def.Clauses, domain.Clause{
			If:     c.If,
			Then:   domain.Action(strings.ToUpper(strings.TrimSpace(c.Then))),
			Reason: c.Reason,
		})
	}
	if l.Score != nil {
		def.Score = &domain.Score{
			Base:     l.Score.Base,
			Add:      toModifiers(l.Score.Add),
			Subtract: toModifiers(l.Score.Subtract),
		}
	}
	return def
}

func toModifiers(in []looseModifier) []domain.Modifier {
	out := make([]domain.Modifier, 0, len(in))
	for _, m := range in {
		out = append(out, domain.Modifier{When: m.When, Points: m.Points})
	}
	return out
}

// stripTrailingCommas removes commas that immediately precede a closing
// brace or bracket (ignoring whitespace), outside of string literals.
func stripTrailingCommas(raw []byte) []byte {
	var out bytes.Buffer
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(raw) && isJSONSpace(raw[j]) {
				j++
			}
			if j < len(raw) && (raw[j] == '}' || raw[j] == ']') {
				continue // drop the trailing comma
			}
		}
		out.WriteByte(c)
	}
	return out.Bytes()
}

func isJSONSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
