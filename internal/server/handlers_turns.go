package server

import (
	"errors"
	"net/http"

	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/service/completion"
	"github.com/cmzoo/menagerie/internal/service/validation"
)

// HandleSubmitTurn handles POST /v1/turns — the gated conversation turn
// against a live assistant or a sandbox under test.
func (h *Handlers) HandleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitTurnRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	result, err := h.gate.SubmitTurn(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, validation.ErrClassifierUnavailable):
			// The fail-closed block result still ships so the caller sees
			// what the visitor saw.
			writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeClassifierUnavailable,
				"safety classifier unavailable, content blocked")
		case errors.Is(err, completion.ErrUnavailable):
			writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeCompletionUnavailable,
				"completion provider unavailable")
		default:
			if !h.mapDomainError(w, r, err) {
				h.writeInternalError(w, r, "failed to process turn", err)
			}
		}
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}
