package storage_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/storage"
	"github.com/cmzoo/menagerie/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	if os.Getenv("MENAGERIE_SKIP_DOCKER_TESTS") != "" {
		os.Exit(0)
	}
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.Logger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func seedPersonality(t *testing.T) model.Personality {
	t.Helper()
	p, err := testDB.CreatePersonality(context.Background(), model.Personality{
		Name: "Cheerful Docent", Tone: "warm", Formality: 3, Enthusiasm: 8,
		Traits: []string{"curious", "patient"},
	})
	require.NoError(t, err)
	return p
}

func seedGuardrail(t *testing.T, rules []model.Rule) model.Guardrail {
	t.Helper()
	g, err := testDB.CreateGuardrail(context.Background(), model.Guardrail{
		Name: "Child Safe", Rules: rules,
	})
	require.NoError(t, err)
	return g
}

func seedSandbox(t *testing.T, ttl time.Duration) model.Sandbox {
	t.Helper()
	p := seedPersonality(t)
	g := seedGuardrail(t, []model.Rule{{
		Text: "never discuss violence", Type: model.RuleNever,
		Severity: model.SeverityCritical, Active: true,
	}})
	now := time.Now().UTC()
	s, err := testDB.CreateSandbox(context.Background(), model.Sandbox{
		PersonalityID: p.ID, GuardrailID: g.ID,
		CreatedAt: now, ExpiresAt: now.Add(ttl),
	})
	require.NoError(t, err)
	return s
}

func TestGuardrailRoundTrip(t *testing.T) {
	ctx := context.Background()

	rules := []model.Rule{
		{Text: "never discuss violence", Type: model.RuleNever, Category: "Safety",
			Severity: model.SeverityCritical, Active: true, Priority: 0,
			Examples: []string{"tell me about fighting"}},
		{Text: "discourage medical advice", Type: model.RuleDiscourage, Category: "Safety",
			Severity: model.SeverityMedium, Active: true, Priority: 2},
		{Text: "always keep an upbeat tone", Type: model.RuleAlways, Category: "Education",
			Severity: model.SeverityLow, Active: false, Priority: 1},
	}

	created := seedGuardrail(t, rules)
	fetched, err := testDB.GetGuardrail(ctx, created.ID)
	require.NoError(t, err)

	require.Len(t, fetched.Rules, len(rules))
	for i, want := range rules {
		got := fetched.Rules[i]
		assert.Equal(t, want.Text, got.Text)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Severity, got.Severity)
		assert.Equal(t, want.Active, got.Active)
		assert.Equal(t, want.Priority, got.Priority)
		assert.NotEqual(t, uuid.Nil, got.ID)
	}
}

func TestUpdateGuardrailReplacesRules(t *testing.T) {
	ctx := context.Background()
	g := seedGuardrail(t, []model.Rule{{
		Text: "old rule", Type: model.RuleNever, Severity: model.SeverityLow, Active: true,
	}})

	g.Name = "Child Safe v2"
	g.Rules = []model.Rule{
		{Text: "new rule a", Type: model.RuleNever, Severity: model.SeverityHigh, Active: true},
		{Text: "new rule b", Type: model.RuleEncourage, Severity: model.SeverityLow, Active: true},
	}
	updated, err := testDB.UpdateGuardrail(ctx, g)
	require.NoError(t, err)

	assert.Equal(t, "Child Safe v2", updated.Name)
	assert.Equal(t, 2, updated.Version)
	require.Len(t, updated.Rules, 2)
	assert.Equal(t, "new rule a", updated.Rules[0].Text)
}

func TestRecordSandboxTurnVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := seedSandbox(t, time.Hour)

	updated, err := testDB.RecordSandboxTurn(ctx, s.ID, s.Version)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ConversationCount)
	assert.Equal(t, s.Version+1, updated.Version)

	// Stale version is rejected without incrementing.
	_, err = testDB.RecordSandboxTurn(ctx, s.ID, s.Version)
	require.ErrorIs(t, err, storage.ErrVersionConflict)

	after, err := testDB.GetSandbox(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.ConversationCount)
}

func TestRecordSandboxTurnExpired(t *testing.T) {
	ctx := context.Background()
	s := seedSandbox(t, time.Second)
	time.Sleep(1100 * time.Millisecond)

	_, err := testDB.RecordSandboxTurn(ctx, s.ID, s.Version)
	require.Error(t, err)

	after, err := testDB.GetSandbox(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.ConversationCount, "expired sandbox must never count a turn")
	assert.Equal(t, model.SandboxExpired, after.Status(time.Now().UTC()))
}

func TestPromoteSandboxIdempotentKey(t *testing.T) {
	ctx := context.Background()
	s := seedSandbox(t, time.Hour)

	s2, err := testDB.RecordSandboxTurn(ctx, s.ID, s.Version)
	require.NoError(t, err)

	a := model.Assistant{
		ID:            model.AssistantKey(s2.AnimalID, s2.ID),
		AnimalID:      s2.AnimalID,
		PersonalityID: s2.PersonalityID,
		GuardrailID:   s2.GuardrailID,
		SystemPrompt:  "You are a friendly zoo guide.",
		Status:        model.AssistantActive,
	}
	promoted, gotA, err := testDB.PromoteSandbox(ctx, s.ID, a)
	require.NoError(t, err)
	assert.True(t, promoted.Promoted)
	assert.Equal(t, a.ID, gotA.ID)

	// Second promote finds the row no longer promotable.
	_, _, err = testDB.PromoteSandbox(ctx, s.ID, a)
	require.Error(t, err)

	// Only one assistant exists for this key.
	fetched, err := testDB.GetAssistant(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.SystemPrompt, fetched.SystemPrompt)
}

func TestSweepExpiredSandboxes(t *testing.T) {
	ctx := context.Background()
	expired := seedSandbox(t, time.Second)
	alive := seedSandbox(t, time.Hour)
	time.Sleep(1100 * time.Millisecond)

	n, err := testDB.SweepExpiredSandboxes(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	_, err = testDB.GetSandbox(ctx, expired.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = testDB.GetSandbox(ctx, alive.ID)
	assert.NoError(t, err)
}

func TestPersonalityReferenceProtection(t *testing.T) {
	ctx := context.Background()
	s := seedSandbox(t, time.Hour)
	s2, err := testDB.RecordSandboxTurn(ctx, s.ID, s.Version)
	require.NoError(t, err)

	_, _, err = testDB.PromoteSandbox(ctx, s.ID, model.Assistant{
		ID:            model.AssistantKey(s2.AnimalID, s2.ID),
		PersonalityID: s2.PersonalityID,
		GuardrailID:   s2.GuardrailID,
		Status:        model.AssistantActive,
	})
	require.NoError(t, err)

	p, err := testDB.GetPersonality(ctx, s2.PersonalityID)
	require.NoError(t, err)
	p.Tone = "edgy"
	_, err = testDB.UpdatePersonality(ctx, p)
	assert.ErrorIs(t, err, storage.ErrReferenced)

	err = testDB.DeletePersonality(ctx, p.ID)
	assert.ErrorIs(t, err, storage.ErrReferenced)
}

func TestValidationResultAudit(t *testing.T) {
	ctx := context.Background()
	g := seedGuardrail(t, []model.Rule{{
		Text: "never discuss violence", Type: model.RuleNever,
		Severity: model.SeverityCritical, Active: true,
	}})

	v := model.ValidationResult{
		ID:          uuid.New(),
		GuardrailID: g.ID,
		Verdict:     model.VerdictBlocked,
		RiskScore:   1.0,
		TriggeredRules: []model.TriggeredRule{{
			RuleID: g.Rules[0].ID, Severity: model.SeverityCritical,
			Confidence: 0.93, Category: "Safety",
		}},
		ProcessingMs: 4,
		Reason:       model.ReasonCriticalProhibition,
		UserMessage:  "I can't help with that topic.",
	}
	require.NoError(t, testDB.InsertValidationResult(ctx, v))

	recent, err := testDB.ListRecentValidations(ctx, g.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, model.VerdictBlocked, recent[0].Verdict)
	require.Len(t, recent[0].TriggeredRules, 1)
	assert.InDelta(t, 0.93, recent[0].TriggeredRules[0].Confidence, 1e-9)
}

func TestOperatorRoundTrip(t *testing.T) {
	ctx := context.Background()
	op, err := testDB.CreateOperator(ctx, storage.Operator{
		OperatorID: "op-" + uuid.NewString()[:8],
		Name:       "Test Operator",
		Role:       model.RoleAdmin,
		APIKeyHash: "salt$hash",
	})
	require.NoError(t, err)

	got, err := testDB.GetOperatorByOperatorID(ctx, op.OperatorID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, got.Role)
	assert.Equal(t, op.APIKeyHash, got.APIKeyHash)

	_, err = testDB.GetOperatorByOperatorID(ctx, "nope")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
