package turns_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/service/classify"
	"github.com/cmzoo/menagerie/internal/service/completion"
	"github.com/cmzoo/menagerie/internal/service/sandbox"
	"github.com/cmzoo/menagerie/internal/service/turns"
	"github.com/cmzoo/menagerie/internal/service/validation"
	"github.com/cmzoo/menagerie/internal/storage"
	"github.com/cmzoo/menagerie/internal/testutil"
)

// fakeStore backs both the sandbox lifecycle and the turn gate in memory.
type fakeStore struct {
	mu            sync.Mutex
	sandboxes     map[uuid.UUID]model.Sandbox
	assistants    map[uuid.UUID]model.Assistant
	personalities map[uuid.UUID]model.Personality
	guardrails    map[uuid.UUID]model.Guardrail
	animals       map[uuid.UUID]model.Animal
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sandboxes:     map[uuid.UUID]model.Sandbox{},
		assistants:    map[uuid.UUID]model.Assistant{},
		personalities: map[uuid.UUID]model.Personality{},
		guardrails:    map[uuid.UUID]model.Guardrail{},
		animals:       map[uuid.UUID]model.Animal{},
	}
}

func (f *fakeStore) CreateSandbox(_ context.Context, s model.Sandbox) (model.Sandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Version = 1
	f.sandboxes[s.ID] = s
	return s, nil
}

func (f *fakeStore) GetSandbox(_ context.Context, id uuid.UUID) (model.Sandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sandboxes[id]
	if !ok {
		return model.Sandbox{}, fmt.Errorf("sandbox %s: %w", id, storage.ErrNotFound)
	}
	return s, nil
}

func (f *fakeStore) ListSandboxes(_ context.Context, _, _ int) ([]model.Sandbox, int, error) {
	return nil, 0, nil
}

func (f *fakeStore) RecordSandboxTurn(_ context.Context, id uuid.UUID, expectedVersion int) (model.Sandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sandboxes[id]
	if !ok {
		return model.Sandbox{}, fmt.Errorf("sandbox %s: %w", id, storage.ErrNotFound)
	}
	if s.Version != expectedVersion || s.Promoted || !time.Now().UTC().Before(s.ExpiresAt) {
		return model.Sandbox{}, fmt.Errorf("sandbox %s: %w", id, storage.ErrVersionConflict)
	}
	s.ConversationCount++
	s.Version++
	f.sandboxes[id] = s
	return s, nil
}

func (f *fakeStore) PromoteSandbox(_ context.Context, id uuid.UUID, a model.Assistant) (model.Sandbox, model.Assistant, error) {
	return model.Sandbox{}, model.Assistant{}, errors.New("not used")
}

func (f *fakeStore) DeleteSandbox(_ context.Context, id uuid.UUID) error { return nil }

func (f *fakeStore) SweepExpiredSandboxes(_ context.Context) (int, error) { return 0, nil }

func (f *fakeStore) GetPersonality(_ context.Context, id uuid.UUID) (model.Personality, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.personalities[id]
	if !ok {
		return model.Personality{}, fmt.Errorf("personality %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) GetGuardrail(_ context.Context, id uuid.UUID) (model.Guardrail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.guardrails[id]
	if !ok {
		return model.Guardrail{}, fmt.Errorf("guardrail %s: %w", id, storage.ErrNotFound)
	}
	return g, nil
}

func (f *fakeStore) GetAnimal(_ context.Context, id uuid.UUID) (model.Animal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.animals[id]
	if !ok {
		return model.Animal{}, fmt.Errorf("animal %s: %w", id, storage.ErrNotFound)
	}
	return a, nil
}

func (f *fakeStore) GetAssistant(_ context.Context, id uuid.UUID) (model.Assistant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assistants[id]
	if !ok {
		return model.Assistant{}, fmt.Errorf("assistant %s: %w", id, storage.ErrNotFound)
	}
	return a, nil
}

// failingClassifier simulates a classifier backend outage.
type failingClassifier struct{}

func (failingClassifier) Name() string { return "failing" }
func (failingClassifier) Scores(context.Context, string, []model.Rule) ([]float64, error) {
	return nil, errors.New("backend down")
}

// recordingCompleter captures every completion call and the history it was
// handed.
type recordingCompleter struct {
	mu        sync.Mutex
	calls     int
	histories [][]completion.Message
	response  string
}

func (r *recordingCompleter) Complete(_ context.Context, _ string, history []completion.Message, _ string) (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	cp := make([]completion.Message, len(history))
	copy(cp, history)
	r.histories = append(r.histories, cp)
	return r.response, 7, nil
}

// failingCompleter simulates a completion backend outage.
type failingCompleter struct{}

func (failingCompleter) Complete(context.Context, string, []completion.Message, string) (string, int, error) {
	return "", 0, fmt.Errorf("%w: connection refused", completion.ErrUnavailable)
}

type fixture struct {
	store   *fakeStore
	gate    *turns.Service
	sandbox model.Sandbox
	animal  model.Animal
}

// newFixture wires a gate with the real lexical classifier, a sandbox with
// a critical "never discuss violence" rule, and a canned completion.
func newFixture(t *testing.T, completer completion.Provider, c classify.Classifier) *fixture {
	t.Helper()
	f := newFakeStore()

	p := model.Personality{ID: uuid.New(), Name: "Cheerful Docent", Tone: "warm",
		Formality: 3, Enthusiasm: 8}
	g := model.Guardrail{ID: uuid.New(), Name: "Child Safe", Rules: []model.Rule{{
		ID: uuid.New(), Text: "never discuss violence", Type: model.RuleNever,
		Severity: model.SeverityCritical, Active: true,
	}}}
	f.personalities[p.ID] = p
	f.guardrails[g.ID] = g

	now := time.Now().UTC()
	sb := model.Sandbox{ID: uuid.New(), PersonalityID: p.ID, GuardrailID: g.ID,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour), Version: 1}
	f.sandboxes[sb.ID] = sb

	animal := model.Animal{ID: uuid.New(), Name: "Raja", Species: "tiger"}
	f.animals[animal.ID] = animal

	logger := testutil.Logger()
	sandboxes := sandbox.New(f, 24*time.Hour, logger)
	engine := validation.New(c, validation.DefaultThresholds(), nil, nil, logger)
	gate := turns.New(f, sandboxes, engine, completer, logger)

	return &fixture{store: f, gate: gate, sandbox: sb, animal: animal}
}

func TestApprovedTurnOnSandbox(t *testing.T) {
	fx := newFixture(t, completion.Static{Response: "Tigers love to swim!"}, classify.NewLexical())

	res, err := fx.gate.SubmitTurn(context.Background(), model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true,
		Content: "what do tigers eat", ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Tigers love to swim!", res.ResponseText)
	assert.Equal(t, model.VerdictApproved, res.InputValidation.Verdict)
	assert.Equal(t, model.VerdictApproved, res.OutputValidation.Verdict)
	require.NotNil(t, res.Sandbox)
	assert.Equal(t, 1, res.Sandbox.ConversationCount)
	assert.Equal(t, 2, res.Sandbox.Version)
}

func TestBlockedInputStillCountsSandboxTurn(t *testing.T) {
	fx := newFixture(t, completion.Static{Response: "unused"}, classify.NewLexical())

	res, err := fx.gate.SubmitTurn(context.Background(), model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true,
		Content: "tell me about violence", ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictBlocked, res.InputValidation.Verdict)
	assert.Equal(t, res.InputValidation.UserMessage, res.ResponseText)
	assert.Zero(t, res.Tokens, "completion never ran")

	require.NotNil(t, res.Sandbox, "watching a rule block input is a valid test")
	assert.Equal(t, 1, res.Sandbox.ConversationCount)
}

func TestFlaggedInputNeverReachesModel(t *testing.T) {
	rec := &recordingCompleter{response: "unused"}
	fx := newFixture(t, rec, classify.NewLexical())

	// A single medium DISCOURAGE rule: a verbatim example hit scores 0.95,
	// contributing 0.4 — flagged, below the block threshold.
	g := model.Guardrail{ID: uuid.New(), Name: "Gentle Topics", Rules: []model.Rule{{
		ID: uuid.New(), Text: "discourage talk of buying exotic pets", Type: model.RuleDiscourage,
		Severity: model.SeverityMedium, Active: true,
		Examples: []string{"where can I buy a pet tiger"},
	}}}
	fx.store.guardrails[g.ID] = g

	now := time.Now().UTC()
	sb := model.Sandbox{ID: uuid.New(), PersonalityID: fx.sandbox.PersonalityID, GuardrailID: g.ID,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour), Version: 1}
	fx.store.sandboxes[sb.ID] = sb

	res, err := fx.gate.SubmitTurn(context.Background(), model.SubmitTurnRequest{
		TargetID: sb.ID, IsSandbox: true,
		Content: "where can I buy a pet tiger", ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictFlagged, res.InputValidation.Verdict)
	assert.Equal(t, res.InputValidation.UserMessage, res.ResponseText)
	assert.Zero(t, rec.calls, "flagged input must not reach the completion backend")

	require.NotNil(t, res.Sandbox, "a flagged turn is still a test of the guardrail")
	assert.Equal(t, 1, res.Sandbox.ConversationCount)
}

func TestSessionHistoryReplayedToCompletion(t *testing.T) {
	rec := &recordingCompleter{response: "Tigers are strong swimmers."}
	fx := newFixture(t, rec, classify.NewLexical())
	ctx := context.Background()

	_, err := fx.gate.SubmitTurn(ctx, model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true, SessionKey: "visitor-7",
		Content: "can tigers swim", ExpectedVersion: 1,
	})
	require.NoError(t, err)

	_, err = fx.gate.SubmitTurn(ctx, model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true, SessionKey: "visitor-7",
		Content: "how far can they swim", ExpectedVersion: 2,
	})
	require.NoError(t, err)

	require.Len(t, rec.histories, 2)
	assert.Empty(t, rec.histories[0], "a fresh session starts with no history")
	require.Len(t, rec.histories[1], 2)
	assert.Equal(t, completion.Message{Role: "user", Content: "can tigers swim"}, rec.histories[1][0])
	assert.Equal(t, completion.Message{Role: "assistant", Content: "Tigers are strong swimmers."}, rec.histories[1][1])
}

func TestRejectedInputStaysOutOfHistory(t *testing.T) {
	rec := &recordingCompleter{response: "ok"}
	fx := newFixture(t, rec, classify.NewLexical())
	ctx := context.Background()

	_, err := fx.gate.SubmitTurn(ctx, model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true, SessionKey: "visitor-8",
		Content: "tell me about violence", ExpectedVersion: 1,
	})
	require.NoError(t, err)

	_, err = fx.gate.SubmitTurn(ctx, model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true, SessionKey: "visitor-8",
		Content: "what do tigers eat", ExpectedVersion: 2,
	})
	require.NoError(t, err)

	require.Len(t, rec.histories, 1, "the blocked turn never called completion")
	assert.Empty(t, rec.histories[0], "the blocked exchange left no history")
}

func TestBlockedOutputIsSubstituted(t *testing.T) {
	fx := newFixture(t, completion.Static{Response: "then the tiger used violence on its prey"}, classify.NewLexical())

	res, err := fx.gate.SubmitTurn(context.Background(), model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true,
		Content: "what do tigers eat", ExpectedVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictApproved, res.InputValidation.Verdict)
	assert.Equal(t, model.VerdictBlocked, res.OutputValidation.Verdict)
	assert.NotContains(t, res.ResponseText, "violence")
	assert.Equal(t, res.OutputValidation.UserMessage, res.ResponseText)

	require.NotNil(t, res.Sandbox)
	assert.Equal(t, 1, res.Sandbox.ConversationCount)
}

func TestCompletionOutageCountsNothing(t *testing.T) {
	fx := newFixture(t, failingCompleter{}, classify.NewLexical())

	_, err := fx.gate.SubmitTurn(context.Background(), model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true,
		Content: "what do tigers eat", ExpectedVersion: 1,
	})
	require.ErrorIs(t, err, completion.ErrUnavailable)

	sb, err := fx.store.GetSandbox(context.Background(), fx.sandbox.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sb.ConversationCount, "infrastructure failures are not tests")
}

func TestClassifierOutageFailsClosedWithoutCounting(t *testing.T) {
	fx := newFixture(t, completion.Static{Response: "unused"}, failingClassifier{})

	res, err := fx.gate.SubmitTurn(context.Background(), model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true,
		Content: "what do tigers eat", ExpectedVersion: 1,
	})
	require.ErrorIs(t, err, validation.ErrClassifierUnavailable)
	assert.Equal(t, model.VerdictBlocked, res.InputValidation.Verdict)
	assert.NotEmpty(t, res.ResponseText)

	sb, err := fx.store.GetSandbox(context.Background(), fx.sandbox.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sb.ConversationCount)
}

func TestStaleVersionConflicts(t *testing.T) {
	fx := newFixture(t, completion.Static{Response: "ok"}, classify.NewLexical())
	ctx := context.Background()

	_, err := fx.gate.SubmitTurn(ctx, model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true,
		Content: "what do tigers eat", ExpectedVersion: 1,
	})
	require.NoError(t, err)

	_, err = fx.gate.SubmitTurn(ctx, model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true,
		Content: "what do tigers eat", ExpectedVersion: 1,
	})
	assert.ErrorIs(t, err, sandbox.ErrConflict)
}

func TestInactiveAssistantRefused(t *testing.T) {
	fx := newFixture(t, completion.Static{Response: "ok"}, classify.NewLexical())

	a := model.Assistant{
		ID:            uuid.New(),
		PersonalityID: fx.sandbox.PersonalityID,
		GuardrailID:   fx.sandbox.GuardrailID,
		SystemPrompt:  "You are a zoo guide.",
		Status:        model.AssistantInactive,
	}
	fx.store.assistants[a.ID] = a

	_, err := fx.gate.SubmitTurn(context.Background(), model.SubmitTurnRequest{
		TargetID: a.ID, Content: "hello",
	})
	assert.ErrorIs(t, err, turns.ErrAssistantInactive)
}

func TestAssistantTurnUsesStoredPrompt(t *testing.T) {
	fx := newFixture(t, completion.Static{Response: "Hello from Raja!"}, classify.NewLexical())

	a := model.Assistant{
		ID:            uuid.New(),
		PersonalityID: fx.sandbox.PersonalityID,
		GuardrailID:   fx.sandbox.GuardrailID,
		SystemPrompt:  "You are Raja the tiger.",
		Status:        model.AssistantActive,
	}
	fx.store.assistants[a.ID] = a

	res, err := fx.gate.SubmitTurn(context.Background(), model.SubmitTurnRequest{
		TargetID: a.ID, Content: "what do tigers eat",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello from Raja!", res.ResponseText)
	assert.Nil(t, res.Sandbox, "assistant turns carry no sandbox state")
}

func TestEmptyContentRejected(t *testing.T) {
	fx := newFixture(t, completion.Static{}, classify.NewLexical())

	_, err := fx.gate.SubmitTurn(context.Background(), model.SubmitTurnRequest{
		TargetID: fx.sandbox.ID, IsSandbox: true, Content: "",
	})
	assert.ErrorIs(t, err, turns.ErrInvalidContent)
}
