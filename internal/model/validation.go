package model

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the outcome of validating content against a guardrail.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictFlagged  Verdict = "flagged"
	VerdictBlocked  Verdict = "blocked"
)

// Validation failure reasons surfaced to audit consumers. End users only
// ever see UserMessage.
const (
	ReasonClassifierUnavailable = "classifier_unavailable"
	ReasonCriticalProhibition   = "critical_prohibition"
	ReasonRiskThreshold         = "risk_threshold"
)

// TriggeredRule records one rule whose match confidence met the threshold,
// annotated for human-facing diagnostics.
type TriggeredRule struct {
	RuleID     uuid.UUID `json:"rule_id"`
	Severity   Severity  `json:"severity"`
	Confidence float64   `json:"confidence"`
	Category   string    `json:"category"`
}

// CoverageGap records an ALWAYS/ENCOURAGE rule the generated text did not
// satisfy. Coverage is scored separately from risk: a missing "always
// mention conservation" hint never blocks a response.
type CoverageGap struct {
	RuleID     uuid.UUID `json:"rule_id"`
	Confidence float64   `json:"confidence"`
}

// ValidationResult is created fresh per validation call and never mutated
// afterwards. Retained in storage for audit and analytics.
type ValidationResult struct {
	ID             uuid.UUID       `json:"validation_id"`
	GuardrailID    uuid.UUID       `json:"guardrail_id"`
	Verdict        Verdict         `json:"result"`
	RiskScore      float64         `json:"risk_score"`
	TriggeredRules []TriggeredRule `json:"triggered_rules"`
	CoverageGaps   []CoverageGap   `json:"coverage_gaps,omitempty"`
	ProcessingMs   int64           `json:"processing_time_ms"`

	// Reason explains a non-approved verdict to audit consumers.
	Reason string `json:"reason,omitempty"`

	// UserMessage is the non-technical explanation shown to the end user.
	// Always non-empty for flagged/blocked verdicts.
	UserMessage string `json:"user_message,omitempty"`

	// SafeAlternative is rewritten safe content, when a rewriter is wired.
	SafeAlternative string `json:"safe_alternative,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Approved reports whether the content may pass unmodified.
func (v ValidationResult) Approved() bool {
	return v.Verdict == VerdictApproved
}

// TurnResult is the outcome of a full gated conversation turn: the final
// response text plus both validation results for audit.
type TurnResult struct {
	ResponseText     string           `json:"response_text"`
	InputValidation  ValidationResult `json:"input_validation"`
	OutputValidation ValidationResult `json:"output_validation"`

	// Sandbox is the updated sandbox when the turn targeted one.
	Sandbox *Sandbox `json:"sandbox,omitempty"`

	// Tokens is the completion token count reported by the model
	// capability; zero when the input was rejected before completion.
	Tokens int `json:"tokens,omitempty"`
}
