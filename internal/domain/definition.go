package domain

// RuleDefinition is the typed form of a rule's JSON definition (spec §3/§4.2).
type RuleDefinition struct {
	Name     string   `json:"name"`
	Priority int      `json:"priority"`
	Clauses  []Clause `json:"clauses"`
	Score    *Score   `json:"score,omitempty"`
}

// Clause is an if/then/reason triple. First-match-wins within a rule.
type Clause struct {
	If     string `json:"if"`
	Then   Action `json:"then"`
	Reason string `json:"reason"`
}

// Score describes the base and the add/subtract modifiers for a rule.
type Score struct {
	Base     int        `json:"base"`
	Add      []Modifier `json:"add,omitempty"`
	Subtract []Modifier `json:"subtract,omitempty"`
}

// Modifier is an additive or subtractive score adjustment conditioned on an expression.
type Modifier struct {
	When   string `json:"when"`
	Points int    `json:"points"`
}
