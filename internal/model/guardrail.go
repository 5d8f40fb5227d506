package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Guardrail is a named, ordered set of moderation rules.
// Rules keep their insertion order in storage; evaluation order is
// priority ascending with insertion order as the tie-break (stable sort).
type Guardrail struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Rules     []Rule    `json:"rules"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the guardrail's shape at the administrative boundary.
// An empty rule set is allowed here — a freshly created sandbox may test
// against an empty guardrail; assignability to a live assistant is checked
// separately via AssignableToAssistant.
func (g Guardrail) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("guardrail name is required")
	}
	for i, r := range g.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule[%d]: %w", i, err)
		}
	}
	return nil
}

// AssignableToAssistant reports whether the guardrail may back a live
// assistant. Promotion requires at least one rule.
func (g Guardrail) AssignableToAssistant() bool {
	return len(g.Rules) > 0
}

// ActiveRules returns the active rules in evaluation order:
// priority ascending, insertion order preserved among equal priorities.
// The receiver is not modified; callers may share a guardrail snapshot
// across concurrent validations.
func (g Guardrail) ActiveRules() []Rule {
	rules := make([]Rule, 0, len(g.Rules))
	for _, r := range g.Rules {
		if r.Active {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
	return rules
}
