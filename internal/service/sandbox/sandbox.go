// Package sandbox implements the sandbox lifecycle: time-bounded test
// assistants that must record at least one conversation turn before they
// can be promoted to a live assistant.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/storage"
	"github.com/cmzoo/menagerie/internal/telemetry"
)

// Store is the persistence surface the lifecycle service needs.
// *storage.DB satisfies it; tests substitute an in-memory fake.
type Store interface {
	CreateSandbox(ctx context.Context, s model.Sandbox) (model.Sandbox, error)
	GetSandbox(ctx context.Context, id uuid.UUID) (model.Sandbox, error)
	ListSandboxes(ctx context.Context, limit, offset int) ([]model.Sandbox, int, error)
	RecordSandboxTurn(ctx context.Context, id uuid.UUID, expectedVersion int) (model.Sandbox, error)
	PromoteSandbox(ctx context.Context, id uuid.UUID, a model.Assistant) (model.Sandbox, model.Assistant, error)
	DeleteSandbox(ctx context.Context, id uuid.UUID) error
	SweepExpiredSandboxes(ctx context.Context) (int, error)

	GetPersonality(ctx context.Context, id uuid.UUID) (model.Personality, error)
	GetGuardrail(ctx context.Context, id uuid.UUID) (model.Guardrail, error)
	GetAnimal(ctx context.Context, id uuid.UUID) (model.Animal, error)
}

// Service manages sandbox lifecycle operations.
type Service struct {
	store      Store
	defaultTTL time.Duration
	logger     *slog.Logger

	promotions metric.Int64Counter
	swept      metric.Int64Counter
}

// New creates a lifecycle service. defaultTTL is used when a create request
// does not carry its own TTL.
func New(store Store, defaultTTL time.Duration, logger *slog.Logger) *Service {
	meter := telemetry.Meter("menagerie/sandbox")
	promotions, _ := meter.Int64Counter("sandbox_promotions_total",
		metric.WithDescription("Successful sandbox promotions"))
	swept, _ := meter.Int64Counter("sandbox_swept_total",
		metric.WithDescription("Expired sandboxes reclaimed by the sweep"))

	return &Service{
		store:      store,
		defaultTTL: defaultTTL,
		logger:     logger,
		promotions: promotions,
		swept:      swept,
	}
}

// Create validates every reference in the request and inserts a draft
// sandbox. All references are resolved up front so a sandbox can never be
// born pointing at a missing personality or guardrail.
func (s *Service) Create(ctx context.Context, req model.CreateSandboxRequest) (model.Sandbox, error) {
	ttl := s.defaultTTL
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			return model.Sandbox{}, fmt.Errorf("%w: %q", ErrInvalidTTL, req.TTL)
		}
		ttl = parsed
	}
	if ttl < model.MinSandboxTTL || ttl > model.MaxSandboxTTL {
		return model.Sandbox{}, fmt.Errorf("%w: %s outside [%s, %s]",
			ErrInvalidTTL, ttl, model.MinSandboxTTL, model.MaxSandboxTTL)
	}

	if _, err := s.store.GetPersonality(ctx, req.PersonalityID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Sandbox{}, fmt.Errorf("%w: personality %s", ErrInvalidReference, req.PersonalityID)
		}
		return model.Sandbox{}, err
	}

	// An empty guardrail is a valid sandbox reference: rules may be
	// authored while the sandbox is under test. Promotion is where a
	// non-empty rule set becomes mandatory.
	if _, err := s.store.GetGuardrail(ctx, req.GuardrailID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Sandbox{}, fmt.Errorf("%w: guardrail %s", ErrInvalidReference, req.GuardrailID)
		}
		return model.Sandbox{}, err
	}

	if req.AnimalID != nil {
		if _, err := s.store.GetAnimal(ctx, *req.AnimalID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return model.Sandbox{}, fmt.Errorf("%w: animal %s", ErrInvalidReference, *req.AnimalID)
			}
			return model.Sandbox{}, err
		}
	}

	now := time.Now().UTC()
	created, err := s.store.CreateSandbox(ctx, model.Sandbox{
		AnimalID:         req.AnimalID,
		PersonalityID:    req.PersonalityID,
		GuardrailID:      req.GuardrailID,
		KnowledgeFileIDs: req.KnowledgeFileIDs,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	})
	if err != nil {
		return model.Sandbox{}, err
	}
	s.logger.Info("sandbox created", "sandbox_id", created.ID, "expires_at", created.ExpiresAt)
	return created, nil
}

// Get returns a sandbox. Status is derived by the caller from the returned
// fields; an expired sandbox is still readable until the sweep reclaims it.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Sandbox, error) {
	return s.store.GetSandbox(ctx, id)
}

// List returns sandboxes newest-first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]model.Sandbox, int, error) {
	return s.store.ListSandboxes(ctx, limit, offset)
}

// RecordTurn counts one conversation turn against the sandbox, guarded by
// the caller's expected version. The lifecycle checks run against a fresh
// read, and storage re-checks them inside the guarded update so a racing
// promote or expiry still loses.
func (s *Service) RecordTurn(ctx context.Context, id uuid.UUID, expectedVersion int) (model.Sandbox, error) {
	current, err := s.store.GetSandbox(ctx, id)
	if err != nil {
		return model.Sandbox{}, err
	}
	switch current.Status(time.Now().UTC()) {
	case model.SandboxExpired:
		return model.Sandbox{}, fmt.Errorf("%w: sandbox %s", ErrExpired, id)
	case model.SandboxPromoted:
		return model.Sandbox{}, fmt.Errorf("%w: sandbox %s", ErrAlreadyPromoted, id)
	}

	updated, err := s.store.RecordSandboxTurn(ctx, id, expectedVersion)
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return model.Sandbox{}, fmt.Errorf("%w: sandbox %s at version %d", ErrConflict, id, expectedVersion)
		}
		return model.Sandbox{}, err
	}
	return updated, nil
}

// Promote converts a tested sandbox into a live assistant. The assistant ID
// is deterministic, so retrying a promotion that crashed mid-way overwrites
// the same assistant instead of creating a duplicate.
func (s *Service) Promote(ctx context.Context, id uuid.UUID) (model.Sandbox, model.Assistant, error) {
	current, err := s.store.GetSandbox(ctx, id)
	if err != nil {
		return model.Sandbox{}, model.Assistant{}, err
	}
	switch current.Status(time.Now().UTC()) {
	case model.SandboxExpired:
		return model.Sandbox{}, model.Assistant{}, fmt.Errorf("%w: sandbox %s", ErrExpired, id)
	case model.SandboxPromoted:
		return model.Sandbox{}, model.Assistant{}, fmt.Errorf("%w: sandbox %s", ErrAlreadyPromoted, id)
	case model.SandboxDraft:
		return model.Sandbox{}, model.Assistant{}, fmt.Errorf("%w: sandbox %s has no recorded turns", ErrNotTested, id)
	}

	g, err := s.store.GetGuardrail(ctx, current.GuardrailID)
	if err != nil {
		return model.Sandbox{}, model.Assistant{}, err
	}
	if !g.AssignableToAssistant() {
		return model.Sandbox{}, model.Assistant{}, fmt.Errorf("%w: guardrail %s has no rules", ErrGuardrailNotAssignable, g.ID)
	}

	prompt, err := s.SystemPrompt(ctx, current)
	if err != nil {
		return model.Sandbox{}, model.Assistant{}, err
	}

	assistant := model.Assistant{
		ID:            model.AssistantKey(current.AnimalID, current.ID),
		AnimalID:      current.AnimalID,
		PersonalityID: current.PersonalityID,
		GuardrailID:   current.GuardrailID,
		SystemPrompt:  prompt,
		Status:        model.AssistantActive,
	}

	promoted, a, err := s.store.PromoteSandbox(ctx, id, assistant)
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return model.Sandbox{}, model.Assistant{}, fmt.Errorf("%w: sandbox %s", ErrConflict, id)
		}
		return model.Sandbox{}, model.Assistant{}, err
	}

	s.promotions.Add(ctx, 1)
	s.logger.Info("sandbox promoted", "sandbox_id", id, "assistant_id", a.ID)
	return promoted, a, nil
}

// Delete removes a sandbox in any state.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteSandbox(ctx, id)
}

// SweepExpired reclaims sandboxes past their TTL. Reclamation only —
// expiry is enforced on every read and write regardless of the sweep.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.store.SweepExpiredSandboxes(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.swept.Add(ctx, int64(n))
		s.logger.Info("expired sandboxes reclaimed", "count", n)
	}
	return n, nil
}

// RunSweeper sweeps on the given interval until ctx is canceled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("sandbox sweep failed", "error", err)
			}
		}
	}
}

// SystemPrompt merges the personality, the optional animal identity, and
// the guardrail's suppressive rules into a system prompt. Used both at
// promotion time and for live sandbox test turns.
func (s *Service) SystemPrompt(ctx context.Context, sb model.Sandbox) (string, error) {
	p, err := s.store.GetPersonality(ctx, sb.PersonalityID)
	if err != nil {
		return "", fmt.Errorf("sandbox: load personality: %w", err)
	}
	g, err := s.store.GetGuardrail(ctx, sb.GuardrailID)
	if err != nil {
		return "", fmt.Errorf("sandbox: load guardrail: %w", err)
	}

	var b strings.Builder
	if sb.AnimalID != nil {
		animal, err := s.store.GetAnimal(ctx, *sb.AnimalID)
		if err != nil {
			return "", fmt.Errorf("sandbox: load animal: %w", err)
		}
		fmt.Fprintf(&b, "You are %s, a %s at the zoo.", animal.Name, animal.Species)
		if animal.Habitat != "" {
			fmt.Fprintf(&b, " You live in the %s habitat.", animal.Habitat)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("You are a friendly zoo guide assistant.\n")
	}

	fmt.Fprintf(&b, "Speak in a %s tone", p.Tone)
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "; you are %s", strings.Join(p.Traits, ", "))
	}
	fmt.Fprintf(&b, ". Formality %d/10, enthusiasm %d/10.\n", p.Formality, p.Enthusiasm)

	for _, rule := range g.ActiveRules() {
		if rule.Type.Suppressive() {
			fmt.Fprintf(&b, "- %s\n", rule.Text)
		}
	}

	return b.String(), nil
}
