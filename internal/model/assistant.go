package model

import (
	"time"

	"github.com/google/uuid"
)

// AssistantStatus is the operational state of a live assistant.
type AssistantStatus string

const (
	AssistantActive   AssistantStatus = "ACTIVE"
	AssistantInactive AssistantStatus = "INACTIVE"
	AssistantError    AssistantStatus = "ERROR"
)

// Valid reports whether s is a known assistant status.
func (s AssistantStatus) Valid() bool {
	switch s {
	case AssistantActive, AssistantInactive, AssistantError:
		return true
	}
	return false
}

// Assistant is a production chat assistant configuration. Created or
// overwritten by a successful sandbox promotion, or directly via the
// administrative CRUD screens.
type Assistant struct {
	ID            uuid.UUID       `json:"id"`
	AnimalID      *uuid.UUID      `json:"animal_id,omitempty"`
	PersonalityID uuid.UUID       `json:"personality_id"`
	GuardrailID   uuid.UUID       `json:"guardrail_id"`
	SystemPrompt  string          `json:"system_prompt"`
	Status        AssistantStatus `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ModifiedAt    time.Time       `json:"modified_at"`
}

// assistantNamespace salts the deterministic assistant key so promotion
// retries after a crash land on the same row instead of minting a twin.
var assistantNamespace = uuid.MustParse("9f2c1b34-7d5e-4a8b-9c0d-2e6f81a35b47")

// AssistantKey derives the deterministic assistant ID for a sandbox
// promotion. Sandboxes linked to an animal key by the animal so repeated
// promotions for the same animal overwrite one assistant; unlinked
// prototypes key by their own sandbox ID.
func AssistantKey(animalID *uuid.UUID, sandboxID uuid.UUID) uuid.UUID {
	if animalID != nil {
		return uuid.NewSHA1(assistantNamespace, []byte("animal:"+animalID.String()))
	}
	return uuid.NewSHA1(assistantNamespace, []byte("sandbox:"+sandboxID.String()))
}
