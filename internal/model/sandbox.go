package model

import (
	"time"

	"github.com/google/uuid"
)

// SandboxStatus is derived from the clock and the sandbox's counters on
// every read. It is never stored: a stored status field would go stale the
// moment the TTL passes, and a background sweep must never be the source
// of truth for expiry.
type SandboxStatus string

const (
	SandboxDraft    SandboxStatus = "draft"
	SandboxTested   SandboxStatus = "tested"
	SandboxPromoted SandboxStatus = "promoted"
	SandboxExpired  SandboxStatus = "expired"
)

// Sandbox is a time-bounded, disposable assistant configuration used to
// test personality/guardrail changes before they go live.
//
// ConversationCount and Version are mutated only through version-checked
// updates in storage; Promoted transitions false→true exactly once.
type Sandbox struct {
	ID               uuid.UUID   `json:"id"`
	AnimalID         *uuid.UUID  `json:"animal_id,omitempty"`
	PersonalityID    uuid.UUID   `json:"personality_id"`
	GuardrailID      uuid.UUID   `json:"guardrail_id"`
	KnowledgeFileIDs []uuid.UUID `json:"knowledge_file_ids"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	ConversationCount int  `json:"conversation_count"`
	Promoted          bool `json:"promoted"`

	// Version is the optimistic-concurrency counter. Mutating calls carry
	// the version they read; a mismatch is rejected as a conflict.
	Version int `json:"version"`
}

// Status derives the sandbox state at time now. Expiry dominates every
// other field so a promoted or tested sandbox still reads as expired once
// the clock passes ExpiresAt.
func (s Sandbox) Status(now time.Time) SandboxStatus {
	switch {
	case !now.Before(s.ExpiresAt):
		return SandboxExpired
	case s.Promoted:
		return SandboxPromoted
	case s.ConversationCount >= 1:
		return SandboxTested
	default:
		return SandboxDraft
	}
}

// Sandbox TTL bounds. The default matches the administrative UI's
// "test for a day" affordance; the cap keeps abandoned sandboxes from
// lingering for weeks before the sweep reclaims them.
const (
	DefaultSandboxTTL = 24 * time.Hour
	MinSandboxTTL     = time.Second
	MaxSandboxTTL     = 7 * 24 * time.Hour
)
