// Package turns implements the gated conversation turn: validate the
// visitor's input, generate a response, validate the response, and count
// the turn against a sandbox when one is being tested.
package turns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/service/completion"
	"github.com/cmzoo/menagerie/internal/service/sandbox"
	"github.com/cmzoo/menagerie/internal/service/validation"
	"github.com/cmzoo/menagerie/internal/telemetry"
)

// ErrInvalidContent means the submitted content failed shape validation.
var ErrInvalidContent = errors.New("turns: invalid content")

// ErrAssistantInactive means the targeted assistant is not in ACTIVE state.
var ErrAssistantInactive = errors.New("turns: assistant inactive")

// Store is the read surface the gate needs for live assistants and
// guardrail snapshots.
type Store interface {
	GetAssistant(ctx context.Context, id uuid.UUID) (model.Assistant, error)
	GetGuardrail(ctx context.Context, id uuid.UUID) (model.Guardrail, error)
}

// Service is the conversation turn gate.
type Service struct {
	store     Store
	sandboxes *sandbox.Service
	engine    *validation.Engine
	completer completion.Provider
	logger    *slog.Logger

	sessions  *sessionLocks
	histories *sessionHistory
	// group collapses concurrent guardrail loads for the same ID into one
	// storage read during bursts of traffic to a popular assistant.
	group singleflight.Group

	turns metric.Int64Counter
}

// New creates the turn gate.
func New(store Store, sandboxes *sandbox.Service, engine *validation.Engine, completer completion.Provider, logger *slog.Logger) *Service {
	meter := telemetry.Meter("menagerie/turns")
	turns, _ := meter.Int64Counter("conversation_turns_total",
		metric.WithDescription("Gated conversation turns by outcome"))

	return &Service{
		store:     store,
		sandboxes: sandboxes,
		engine:    engine,
		completer: completer,
		logger:    logger,
		sessions:  newSessionLocks(),
		histories: newSessionHistory(),
		turns:     turns,
	}
}

// target is the resolved configuration a turn runs against.
type target struct {
	guardrail    model.Guardrail
	systemPrompt string
	sandbox      *model.Sandbox
}

// SubmitTurn runs one gated conversation turn. Turns sharing a session key
// are serialized in submission order; distinct sessions proceed in parallel.
// Completed exchanges are kept per session and replayed to the completion
// backend as conversation history on the next turn.
//
// A turn whose input is rejected by policy still counts as a sandbox test:
// watching the guardrail block something is exactly what sandboxes are for.
// A turn that fails on infrastructure (classifier or completion outage)
// counts nothing.
func (s *Service) SubmitTurn(ctx context.Context, req model.SubmitTurnRequest) (model.TurnResult, error) {
	if err := model.ValidateContent(req.Content); err != nil {
		return model.TurnResult{}, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}

	sessionKey := req.SessionKey
	if sessionKey == "" {
		sessionKey = req.TargetID.String()
	}
	unlock := s.sessions.lock(sessionKey)
	defer unlock()

	tgt, err := s.resolve(ctx, req)
	if err != nil {
		return model.TurnResult{}, err
	}

	inputRes, inputErr := s.engine.Validate(ctx, tgt.guardrail, req.Content, validation.ModeInput)
	if inputErr != nil {
		// Classifier outage: the fail-closed block is not a policy
		// decision, so it never counts as a sandbox test.
		s.count(ctx, "classifier_unavailable")
		return model.TurnResult{
			ResponseText:    inputRes.UserMessage,
			InputValidation: inputRes,
		}, inputErr
	}

	if !inputRes.Approved() {
		// Flagged and blocked input alike stop here: the model never
		// sees content the guardrail objected to.
		result := model.TurnResult{
			ResponseText:    rejectionText(inputRes),
			InputValidation: inputRes,
		}
		if tgt.sandbox != nil {
			updated, err := s.sandboxes.RecordTurn(ctx, tgt.sandbox.ID, req.ExpectedVersion)
			if err != nil {
				return model.TurnResult{}, err
			}
			result.Sandbox = &updated
		}
		s.count(ctx, "input_"+string(inputRes.Verdict))
		return result, nil
	}

	text, tokens, err := s.completer.Complete(ctx, tgt.systemPrompt, s.histories.snapshot(sessionKey), req.Content)
	if err != nil {
		s.count(ctx, "completion_unavailable")
		return model.TurnResult{}, fmt.Errorf("turns: %w", err)
	}

	outputRes, outputErr := s.engine.Validate(ctx, tgt.guardrail, text, validation.ModeOutput)
	if outputErr != nil && !errors.Is(outputErr, validation.ErrClassifierUnavailable) {
		return model.TurnResult{}, outputErr
	}
	// A mid-turn classifier outage fails closed on the output: the
	// generated text is discarded and the substitute ships instead.

	responseText := text
	if !outputRes.Approved() {
		responseText = rejectionText(outputRes)
	}

	result := model.TurnResult{
		ResponseText:     responseText,
		InputValidation:  inputRes,
		OutputValidation: outputRes,
		Tokens:           tokens,
	}

	if tgt.sandbox != nil {
		updated, err := s.sandboxes.RecordTurn(ctx, tgt.sandbox.ID, req.ExpectedVersion)
		if err != nil {
			return model.TurnResult{}, err
		}
		result.Sandbox = &updated
	}

	// Only the text the visitor actually received enters the history, so a
	// substituted response never reintroduces suppressed model output.
	s.histories.record(sessionKey, req.Content, responseText)

	s.count(ctx, string(outputRes.Verdict))
	return result, nil
}

// resolve loads the turn's guardrail and system prompt for either target kind.
func (s *Service) resolve(ctx context.Context, req model.SubmitTurnRequest) (target, error) {
	if req.IsSandbox {
		sb, err := s.sandboxes.Get(ctx, req.TargetID)
		if err != nil {
			return target{}, err
		}
		g, err := s.loadGuardrail(ctx, sb.GuardrailID)
		if err != nil {
			return target{}, err
		}
		prompt, err := s.sandboxes.SystemPrompt(ctx, sb)
		if err != nil {
			return target{}, err
		}
		return target{guardrail: g, systemPrompt: prompt, sandbox: &sb}, nil
	}

	a, err := s.store.GetAssistant(ctx, req.TargetID)
	if err != nil {
		return target{}, err
	}
	if a.Status != model.AssistantActive {
		return target{}, fmt.Errorf("%w: assistant %s is %s", ErrAssistantInactive, a.ID, a.Status)
	}
	g, err := s.loadGuardrail(ctx, a.GuardrailID)
	if err != nil {
		return target{}, err
	}
	return target{guardrail: g, systemPrompt: a.SystemPrompt}, nil
}

func (s *Service) loadGuardrail(ctx context.Context, id uuid.UUID) (model.Guardrail, error) {
	v, err, _ := s.group.Do(id.String(), func() (any, error) {
		return s.store.GetGuardrail(ctx, id)
	})
	if err != nil {
		return model.Guardrail{}, err
	}
	return v.(model.Guardrail), nil
}

// rejectionText picks what a visitor sees when content is suppressed:
// a rewritten safe alternative when available, else the plain explanation.
func rejectionText(res model.ValidationResult) string {
	if res.SafeAlternative != "" {
		return res.SafeAlternative
	}
	return res.UserMessage
}

func (s *Service) count(ctx context.Context, outcome string) {
	s.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
