package menagerie

import (
	"time"

	"github.com/google/uuid"
)

// Validation is the public summary of one validation pass, handed to
// extension points (Rewriter). A curated view of the internal result —
// safe to use from outside the module.
type Validation struct {
	ID          uuid.UUID
	GuardrailID uuid.UUID
	Verdict     string
	RiskScore   float64
	Reason      string
	CreatedAt   time.Time
}

// Message is one prior exchange in a conversation, passed to a
// CompletionProvider as history.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}
