// Package validation implements guardrail risk scoring for conversation
// content. Content is scored against every active rule of a guardrail;
// suppressive rules (NEVER, DISCOURAGE) accumulate risk while coverage
// rules (ALWAYS, ENCOURAGE) are tracked separately and never raise risk.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/service/classify"
	"github.com/cmzoo/menagerie/internal/telemetry"
)

// ErrClassifierUnavailable is returned alongside a fail-closed blocked
// result when no classifier backend could score the content.
var ErrClassifierUnavailable = errors.New("validation: classifier unavailable")

// Rewriter produces a safe alternative for content that was flagged or
// blocked. Optional; a rewrite failure never changes the verdict.
type Rewriter interface {
	Rewrite(ctx context.Context, content string, result model.ValidationResult) (string, error)
}

// Auditor persists validation results for later review. Optional; an audit
// write failure is logged and never surfaces to the caller.
type Auditor interface {
	InsertValidationResult(ctx context.Context, v model.ValidationResult) error
}

// Thresholds holds the decision boundaries for the engine.
type Thresholds struct {
	// Match is the minimum classifier confidence for a rule to trigger.
	Match float64
	// Flag and Block are the risk-score boundaries for the verdict.
	Flag  float64
	Block float64
}

// DefaultThresholds returns the standard decision boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Match: 0.5, Flag: 0.4, Block: 0.8}
}

// Engine validates content against guardrails. Safe for concurrent use.
type Engine struct {
	classifier classify.Classifier
	rewriter   Rewriter
	auditor    Auditor
	thresholds Thresholds
	logger     *slog.Logger

	verdicts metric.Int64Counter
	latency  metric.Float64Histogram
}

// New creates a validation engine. rewriter and auditor may be nil.
func New(classifier classify.Classifier, thresholds Thresholds, rewriter Rewriter, auditor Auditor, logger *slog.Logger) *Engine {
	meter := telemetry.Meter("menagerie/validation")
	verdicts, _ := meter.Int64Counter("validation_verdicts_total",
		metric.WithDescription("Validation verdicts by outcome"))
	latency, _ := meter.Float64Histogram("validation_duration_ms",
		metric.WithDescription("Validation processing time in milliseconds"))

	return &Engine{
		classifier: classifier,
		rewriter:   rewriter,
		auditor:    auditor,
		thresholds: thresholds,
		logger:     logger,
		verdicts:   verdicts,
		latency:    latency,
	}
}

// Mode selects which rule families participate in a validation pass.
type Mode int

const (
	// ModeInput validates user-authored content: suppressive rules only.
	// A visitor question is never penalized for failing to mention a
	// topic an ALWAYS rule promotes.
	ModeInput Mode = iota
	// ModeOutput validates generated content: suppressive rules plus
	// coverage gap detection for ALWAYS/ENCOURAGE rules.
	ModeOutput
)

// Validate scores content against the guardrail's active rules and returns
// a verdict. The returned result is always usable; the error is non-nil
// only when the verdict was forced closed by a classifier outage, so
// callers can distinguish a policy block from an infrastructure failure.
func (e *Engine) Validate(ctx context.Context, g model.Guardrail, content string, mode Mode) (model.ValidationResult, error) {
	start := time.Now()
	res := model.ValidationResult{
		ID:          uuid.New(),
		GuardrailID: g.ID,
		CreatedAt:   start.UTC(),
	}

	rules := g.ActiveRules()
	scores, err := e.classifier.Scores(ctx, content, rules)
	if err != nil {
		// Fail closed: content that cannot be classified is never approved.
		res.Verdict = model.VerdictBlocked
		res.RiskScore = 1.0
		res.Reason = model.ReasonClassifierUnavailable
		res.UserMessage = "I can't answer that right now. Please try again in a moment."
		e.finish(ctx, &res, start)
		e.logger.Error("validation: classifier failure, failing closed",
			"guardrail_id", g.ID, "classifier", e.classifier.Name(), "error", err)
		return res, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}

	var sum float64
	criticalProhibition := false
	for i, rule := range rules {
		conf := scores[i]
		if rule.Type.Suppressive() {
			if conf < e.thresholds.Match {
				continue
			}
			res.TriggeredRules = append(res.TriggeredRules, model.TriggeredRule{
				RuleID:     rule.ID,
				Severity:   rule.Severity,
				Confidence: conf,
				Category:   rule.Category,
			})
			sum += rule.Severity.Weight()
			if rule.Type == model.RuleNever && rule.Severity == model.SeverityCritical {
				criticalProhibition = true
			}
			continue
		}
		if mode == ModeOutput && conf < e.thresholds.Match {
			res.CoverageGaps = append(res.CoverageGaps, model.CoverageGap{
				RuleID:     rule.ID,
				Confidence: conf,
			})
		}
	}

	res.RiskScore = sum
	if res.RiskScore > 1 {
		res.RiskScore = 1
	}

	// Most severe first; ties keep priority (evaluation) order.
	sort.SliceStable(res.TriggeredRules, func(i, j int) bool {
		return res.TriggeredRules[i].Severity.MoreSevere(res.TriggeredRules[j].Severity)
	})

	switch {
	case criticalProhibition:
		res.Verdict = model.VerdictBlocked
		res.Reason = model.ReasonCriticalProhibition
	case res.RiskScore >= e.thresholds.Block:
		res.Verdict = model.VerdictBlocked
		res.Reason = model.ReasonRiskThreshold
	case res.RiskScore >= e.thresholds.Flag:
		res.Verdict = model.VerdictFlagged
		res.Reason = model.ReasonRiskThreshold
	default:
		res.Verdict = model.VerdictApproved
	}

	if res.Verdict != model.VerdictApproved {
		res.UserMessage = userMessage(res.Verdict)
		e.rewrite(ctx, content, &res)
	}

	e.finish(ctx, &res, start)
	return res, nil
}

// userMessage is the non-technical explanation shown to zoo visitors.
func userMessage(v model.Verdict) string {
	if v == model.VerdictBlocked {
		return "I can't help with that topic, but I'd love to tell you more about our animals!"
	}
	return "Let's keep our chat about the animals and their habitats."
}

func (e *Engine) rewrite(ctx context.Context, content string, res *model.ValidationResult) {
	if e.rewriter == nil {
		return
	}
	alt, err := e.rewriter.Rewrite(ctx, content, *res)
	if err != nil {
		e.logger.Warn("validation: rewrite failed", "guardrail_id", res.GuardrailID, "error", err)
		return
	}
	res.SafeAlternative = alt
}

// finish stamps timing, records metrics, and persists the audit row.
func (e *Engine) finish(ctx context.Context, res *model.ValidationResult, start time.Time) {
	elapsed := time.Since(start)
	res.ProcessingMs = elapsed.Milliseconds()

	attrs := metric.WithAttributes(
		attribute.String("verdict", string(res.Verdict)),
		attribute.String("classifier", e.classifier.Name()),
	)
	e.verdicts.Add(ctx, 1, attrs)
	e.latency.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)

	if e.auditor != nil {
		if err := e.auditor.InsertValidationResult(ctx, *res); err != nil {
			e.logger.Warn("validation: audit write failed",
				"validation_id", res.ID, "error", err)
		}
	}
}
