package turns

import (
	"sync"

	"github.com/cmzoo/menagerie/internal/service/completion"
)

const (
	// maxHistoryMessages bounds how much of a session is replayed to the
	// completion backend. 20 messages is 10 exchanges.
	maxHistoryMessages = 20
	// maxHistorySessions bounds total sessions held in memory.
	maxHistorySessions = 4096
)

// sessionHistory keeps the recent exchanges of each conversation session.
// Only text that actually shipped to the visitor is stored; rejected input
// and suppressed model output never enter the history. Turn ordering within
// a session is already guaranteed by sessionLocks, so this only needs to be
// safe across sessions.
type sessionHistory struct {
	mu sync.Mutex
	m  map[string][]completion.Message
}

func newSessionHistory() *sessionHistory {
	return &sessionHistory{m: make(map[string][]completion.Message)}
}

// snapshot returns a copy of the session's history for a completion call.
func (h *sessionHistory) snapshot(key string) []completion.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.m[key]
	if len(msgs) == 0 {
		return nil
	}
	out := make([]completion.Message, len(msgs))
	copy(out, msgs)
	return out
}

// record appends one completed exchange, trimming the session to the most
// recent maxHistoryMessages. At capacity an arbitrary other session is
// dropped; losing history degrades continuity, not safety.
func (h *sessionHistory) record(key, userMessage, responseText string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.m[key]; !ok && len(h.m) >= maxHistorySessions {
		for victim := range h.m {
			if victim != key {
				delete(h.m, victim)
				break
			}
		}
	}

	msgs := append(h.m[key],
		completion.Message{Role: "user", Content: userMessage},
		completion.Message{Role: "assistant", Content: responseText},
	)
	if len(msgs) > maxHistoryMessages {
		msgs = msgs[len(msgs)-maxHistoryMessages:]
	}
	h.m[key] = msgs
}
