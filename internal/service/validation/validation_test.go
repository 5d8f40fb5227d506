package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/testutil"
)

// fixedClassifier returns preset scores index-aligned with the rules.
type fixedClassifier struct {
	scores []float64
	err    error
}

func (f *fixedClassifier) Name() string { return "fixed" }

func (f *fixedClassifier) Scores(_ context.Context, _ string, rules []model.Rule) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.scores) != len(rules) {
		panic("fixedClassifier: score count mismatch")
	}
	return f.scores, nil
}

// memAuditor records inserted validation results.
type memAuditor struct {
	results []model.ValidationResult
}

func (m *memAuditor) InsertValidationResult(_ context.Context, v model.ValidationResult) error {
	m.results = append(m.results, v)
	return nil
}

func guardrail(rules ...model.Rule) model.Guardrail {
	for i := range rules {
		if rules[i].ID == uuid.Nil {
			rules[i].ID = uuid.New()
		}
		rules[i].Active = true
	}
	return model.Guardrail{ID: uuid.New(), Name: "test", Rules: rules}
}

func newEngine(c *fixedClassifier, auditor Auditor) *Engine {
	return New(c, DefaultThresholds(), nil, auditor, testutil.Logger())
}

func TestCriticalProhibitionBlocksImmediately(t *testing.T) {
	g := guardrail(model.Rule{
		Text: "never discuss violence", Type: model.RuleNever, Severity: model.SeverityCritical,
	})
	e := newEngine(&fixedClassifier{scores: []float64{0.9}}, nil)

	res, err := e.Validate(context.Background(), g, "how do predators kill", ModeInput)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictBlocked, res.Verdict)
	assert.Equal(t, model.ReasonCriticalProhibition, res.Reason)
	assert.Equal(t, 1.0, res.RiskScore)
	assert.NotEmpty(t, res.UserMessage)
}

func TestRiskSummationFlagsMidRange(t *testing.T) {
	g := guardrail(
		model.Rule{Text: "discourage medical advice", Type: model.RuleDiscourage, Severity: model.SeverityMedium},
		model.Rule{Text: "discourage pricing talk", Type: model.RuleDiscourage, Severity: model.SeverityLow},
	)
	e := newEngine(&fixedClassifier{scores: []float64{0.7, 0.6}}, nil)

	res, err := e.Validate(context.Background(), g, "content", ModeInput)
	require.NoError(t, err)
	// 0.4 + 0.2 = 0.6: above flag, below block.
	assert.InDelta(t, 0.6, res.RiskScore, 1e-9)
	assert.Equal(t, model.VerdictFlagged, res.Verdict)
	assert.Equal(t, model.ReasonRiskThreshold, res.Reason)
	assert.Len(t, res.TriggeredRules, 2)
}

func TestRiskScoreCappedAtOne(t *testing.T) {
	g := guardrail(
		model.Rule{Text: "never discuss escapes", Type: model.RuleNever, Severity: model.SeverityHigh},
		model.Rule{Text: "discourage medical advice", Type: model.RuleDiscourage, Severity: model.SeverityMedium},
		model.Rule{Text: "discourage off-topic chat", Type: model.RuleDiscourage, Severity: model.SeverityMedium},
	)
	e := newEngine(&fixedClassifier{scores: []float64{0.8, 0.8, 0.8}}, nil)

	res, err := e.Validate(context.Background(), g, "content", ModeInput)
	require.NoError(t, err)
	// 0.7 + 0.4 + 0.4 = 1.5, capped.
	assert.Equal(t, 1.0, res.RiskScore)
	assert.Equal(t, model.VerdictBlocked, res.Verdict)
	assert.Equal(t, model.ReasonRiskThreshold, res.Reason)
}

func TestCoverageRulesNeverRaiseRisk(t *testing.T) {
	g := guardrail(
		model.Rule{Text: "always mention conservation", Type: model.RuleAlways, Severity: model.SeverityCritical},
		model.Rule{Text: "encourage follow-up questions", Type: model.RuleEncourage, Severity: model.SeverityHigh},
	)
	e := newEngine(&fixedClassifier{scores: []float64{0.9, 0.9}}, nil)

	res, err := e.Validate(context.Background(), g, "content", ModeOutput)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictApproved, res.Verdict)
	assert.Equal(t, 0.0, res.RiskScore)
	assert.Empty(t, res.TriggeredRules)
	assert.Empty(t, res.CoverageGaps, "satisfied coverage rules are not gaps")
}

func TestCoverageGapsOnlyInOutputMode(t *testing.T) {
	g := guardrail(
		model.Rule{Text: "always mention conservation", Type: model.RuleAlways, Severity: model.SeverityLow},
	)

	e := newEngine(&fixedClassifier{scores: []float64{0.1}}, nil)
	res, err := e.Validate(context.Background(), g, "content", ModeOutput)
	require.NoError(t, err)
	require.Len(t, res.CoverageGaps, 1)
	assert.Equal(t, model.VerdictApproved, res.Verdict, "a coverage gap never blocks")

	e = newEngine(&fixedClassifier{scores: []float64{0.1}}, nil)
	res, err = e.Validate(context.Background(), g, "content", ModeInput)
	require.NoError(t, err)
	assert.Empty(t, res.CoverageGaps, "user input is not penalized for missing topics")
}

func TestBelowMatchThresholdIgnored(t *testing.T) {
	g := guardrail(model.Rule{
		Text: "never discuss violence", Type: model.RuleNever, Severity: model.SeverityCritical,
	})
	e := newEngine(&fixedClassifier{scores: []float64{0.49}}, nil)

	res, err := e.Validate(context.Background(), g, "content", ModeInput)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictApproved, res.Verdict)
	assert.Empty(t, res.TriggeredRules)
}

func TestTriggeredRulesSortedBySeverity(t *testing.T) {
	g := guardrail(
		model.Rule{Text: "discourage pricing talk", Type: model.RuleDiscourage, Severity: model.SeverityLow},
		model.Rule{Text: "never discuss escapes", Type: model.RuleNever, Severity: model.SeverityHigh},
		model.Rule{Text: "discourage medical advice", Type: model.RuleDiscourage, Severity: model.SeverityMedium},
	)
	e := newEngine(&fixedClassifier{scores: []float64{0.6, 0.6, 0.6}}, nil)

	res, err := e.Validate(context.Background(), g, "content", ModeInput)
	require.NoError(t, err)
	require.Len(t, res.TriggeredRules, 3)
	assert.Equal(t, model.SeverityHigh, res.TriggeredRules[0].Severity)
	assert.Equal(t, model.SeverityMedium, res.TriggeredRules[1].Severity)
	assert.Equal(t, model.SeverityLow, res.TriggeredRules[2].Severity)
}

func TestClassifierFailureFailsClosed(t *testing.T) {
	g := guardrail(model.Rule{
		Text: "never discuss violence", Type: model.RuleNever, Severity: model.SeverityCritical,
	})
	auditor := &memAuditor{}
	e := newEngine(&fixedClassifier{err: errors.New("backend down")}, auditor)

	res, err := e.Validate(context.Background(), g, "content", ModeInput)
	require.ErrorIs(t, err, ErrClassifierUnavailable)
	assert.Equal(t, model.VerdictBlocked, res.Verdict)
	assert.Equal(t, 1.0, res.RiskScore)
	assert.Equal(t, model.ReasonClassifierUnavailable, res.Reason)
	assert.NotEmpty(t, res.UserMessage)

	require.Len(t, auditor.results, 1, "fail-closed verdicts are audited too")
	assert.Equal(t, model.VerdictBlocked, auditor.results[0].Verdict)
}

func TestInactiveRulesSkipped(t *testing.T) {
	g := model.Guardrail{ID: uuid.New(), Name: "test", Rules: []model.Rule{
		{ID: uuid.New(), Text: "never discuss violence", Type: model.RuleNever,
			Severity: model.SeverityCritical, Active: false},
	}}
	e := newEngine(&fixedClassifier{scores: []float64{}}, nil)

	res, err := e.Validate(context.Background(), g, "content", ModeInput)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictApproved, res.Verdict)
}

// echoRewriter returns a fixed safe alternative.
type echoRewriter struct{}

func (echoRewriter) Rewrite(_ context.Context, _ string, _ model.ValidationResult) (string, error) {
	return "Let me tell you about our red pandas instead!", nil
}

func TestRewriterSetsSafeAlternative(t *testing.T) {
	g := guardrail(model.Rule{
		Text: "never discuss violence", Type: model.RuleNever, Severity: model.SeverityCritical,
	})
	e := New(&fixedClassifier{scores: []float64{0.9}}, DefaultThresholds(), echoRewriter{}, nil, testutil.Logger())

	res, err := e.Validate(context.Background(), g, "content", ModeInput)
	require.NoError(t, err)
	assert.Equal(t, "Let me tell you about our red pandas instead!", res.SafeAlternative)
}
