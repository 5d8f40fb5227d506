package model

import (
	"fmt"

	"github.com/google/uuid"
)

// RuleType classifies how a moderation rule acts on content.
// NEVER and DISCOURAGE suppress content and contribute to risk;
// ALWAYS and ENCOURAGE are coverage checks and never raise risk.
type RuleType string

const (
	RuleNever      RuleType = "NEVER"
	RuleAlways     RuleType = "ALWAYS"
	RuleDiscourage RuleType = "DISCOURAGE"
	RuleEncourage  RuleType = "ENCOURAGE"
)

// Suppressive reports whether a triggered rule of this type raises risk.
func (t RuleType) Suppressive() bool {
	return t == RuleNever || t == RuleDiscourage
}

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleNever, RuleAlways, RuleDiscourage, RuleEncourage:
		return true
	}
	return false
}

// Severity grades how serious a rule violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityWeights maps each severity to its risk contribution weight.
// Monotonically increasing so a critical trigger always outweighs a high one.
var severityWeights = map[Severity]float64{
	SeverityLow:      0.2,
	SeverityMedium:   0.4,
	SeverityHigh:     0.7,
	SeverityCritical: 1.0,
}

// Weight returns the risk contribution weight for s, or 0 for unknown values.
func (s Severity) Weight() float64 {
	return severityWeights[s]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityWeights[s]
	return ok
}

// rank orders severities for sorting triggered rules (critical first).
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// MoreSevere reports whether s ranks strictly above other.
func (s Severity) MoreSevere(other Severity) bool {
	return s.rank() > other.rank()
}

// Rule is a single moderation statement inside a guardrail.
// Priority orders evaluation (lower first); values need not be unique.
// Examples are diagnostic sample strings and never affect scoring.
type Rule struct {
	ID       uuid.UUID `json:"id"`
	Text     string    `json:"text"`
	Type     RuleType  `json:"type"`
	Category string    `json:"category"`
	Severity Severity  `json:"severity"`
	Active   bool      `json:"active"`
	Priority int       `json:"priority"`
	Examples []string  `json:"examples,omitempty"`
}

// MaxRuleTextLen bounds rule statements; they feed the embedding pipeline
// and are rendered verbatim in the admin UI.
const MaxRuleTextLen = 2000

// MaxRuleExamples bounds the diagnostic sample list per rule.
const MaxRuleExamples = 20

// Validate checks a rule's shape at the administrative boundary.
// The validation engine assumes rules it receives are already well-formed.
func (r Rule) Validate() error {
	if r.Text == "" {
		return fmt.Errorf("rule text is required")
	}
	if len(r.Text) > MaxRuleTextLen {
		return fmt.Errorf("rule text exceeds maximum length of %d characters", MaxRuleTextLen)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("unknown rule type %q", r.Type)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	if len(r.Examples) > MaxRuleExamples {
		return fmt.Errorf("rule has %d examples, maximum is %d", len(r.Examples), MaxRuleExamples)
	}
	return nil
}
