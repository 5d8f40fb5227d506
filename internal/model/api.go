package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Content length limit for a single conversation turn or dry-run
// validation. Prevents a caller-controlled payload from exhausting the
// classifier or filling Postgres TEXT columns with garbage.
const MaxContentLen = 16 * 1024 // 16 KB

// ValidateContent checks the single user-content field that flows into the
// validation pipeline.
func ValidateContent(content string) error {
	if content == "" {
		return fmt.Errorf("content is required")
	}
	if len(content) > MaxContentLen {
		return fmt.Errorf("content exceeds maximum length of %d bytes", MaxContentLen)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput           = "INVALID_INPUT"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeConflict               = "CONFLICT"
	ErrCodeInvalidReference       = "INVALID_REFERENCE"
	ErrCodeExpired                = "EXPIRED"
	ErrCodeAlreadyPromoted        = "ALREADY_PROMOTED"
	ErrCodeNotTested              = "NOT_TESTED"
	ErrCodeClassifierUnavailable  = "CLASSIFIER_UNAVAILABLE"
	ErrCodeCompletionUnavailable  = "COMPLETION_UNAVAILABLE"
	ErrCodeInternalError          = "INTERNAL_ERROR"
	ErrCodeRateLimited            = "RATE_LIMITED"
	ErrCodePersonalityInUse       = "PERSONALITY_IN_USE"
	ErrCodeGuardrailNotAssignable = "GUARDRAIL_NOT_ASSIGNABLE"
)

// AuthTokenRequest is the body of POST /auth/token.
type AuthTokenRequest struct {
	OperatorID string `json:"operator_id"`
	APIKey     string `json:"api_key"`
}

// AuthTokenResponse is the body of a successful POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateOperatorRequest is the body of POST /v1/operators.
type CreateOperatorRequest struct {
	OperatorID string `json:"operator_id"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	APIKey     string `json:"api_key"`
}

// GuardrailRequest is the body of POST /v1/guardrails and PUT /v1/guardrails/{id}.
type GuardrailRequest struct {
	Name  string `json:"name"`
	Rules []Rule `json:"rules"`
}

// PersonalityRequest is the body of POST /v1/personalities and
// PUT /v1/personalities/{id}.
type PersonalityRequest struct {
	Name       string   `json:"name"`
	Tone       string   `json:"tone"`
	Formality  int      `json:"formality"`
	Enthusiasm int      `json:"enthusiasm"`
	Traits     []string `json:"traits,omitempty"`
}

// CreateAnimalRequest is the body of POST /v1/animals.
type CreateAnimalRequest struct {
	Name    string `json:"name"`
	Species string `json:"species"`
	Habitat string `json:"habitat,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Postgres   string `json:"postgres"`
	Classifier string `json:"classifier"`
	Uptime     int64  `json:"uptime_seconds"`
}

// CreateSandboxRequest is the body of POST /v1/sandboxes.
type CreateSandboxRequest struct {
	AnimalID         *uuid.UUID  `json:"animal_id,omitempty"`
	PersonalityID    uuid.UUID   `json:"personality_id"`
	GuardrailID      uuid.UUID   `json:"guardrail_id"`
	KnowledgeFileIDs []uuid.UUID `json:"knowledge_file_ids,omitempty"`

	// TTL is an optional Go duration string ("30m", "24h"). Defaults to
	// the system sandbox TTL when empty.
	TTL string `json:"ttl,omitempty"`
}

// SandboxView is the wire representation of a sandbox with its derived
// status attached at read time.
type SandboxView struct {
	Sandbox
	Status SandboxStatus `json:"status"`
}

// NewSandboxView derives the status once, at response-build time.
func NewSandboxView(s Sandbox, now time.Time) SandboxView {
	return SandboxView{Sandbox: s, Status: s.Status(now)}
}

// SubmitTurnRequest is the body of POST /v1/turns.
type SubmitTurnRequest struct {
	TargetID  uuid.UUID `json:"target_id"`
	IsSandbox bool      `json:"is_sandbox"`
	Content   string    `json:"content"`

	// SessionKey scopes turn ordering; turns sharing a session key are
	// processed in submission order. Defaults to the target ID.
	SessionKey string `json:"session_key,omitempty"`

	// ExpectedVersion must match the sandbox version last read by the
	// caller when the target is a sandbox. Ignored for assistants.
	ExpectedVersion int `json:"expected_version,omitempty"`
}

// ValidateContentRequest is the body of POST /v1/validate — the
// administrative dry-run entry point, independent of any conversation.
type ValidateContentRequest struct {
	GuardrailID uuid.UUID `json:"guardrail_id"`
	Content     string    `json:"content"`
}

// UpdateAssistantRequest is the body of PATCH /v1/assistants/{id}.
type UpdateAssistantRequest struct {
	Status AssistantStatus `json:"status"`
}
