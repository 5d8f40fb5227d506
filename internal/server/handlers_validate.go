package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/service/validation"
	"github.com/cmzoo/menagerie/internal/storage"
)

// HandleValidateContent handles POST /v1/validate — the administrative
// dry-run: score content against a guardrail without a conversation,
// a completion, or any sandbox side effects.
func (h *Handlers) HandleValidateContent(w http.ResponseWriter, r *http.Request) {
	var req model.ValidateContentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateContent(req.Content); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	g, err := h.db.GetGuardrail(r.Context(), req.GuardrailID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidReference, "guardrail not found")
			return
		}
		h.writeInternalError(w, r, "failed to load guardrail", err)
		return
	}

	result, err := h.engine.Validate(r.Context(), g, req.Content, validation.ModeInput)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeClassifierUnavailable,
			"safety classifier unavailable, content blocked")
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// HandleListValidations handles GET /v1/guardrails/{guardrail_id}/validations —
// the recent audit trail for a guardrail, newest first.
func (h *Handlers) HandleListValidations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "guardrail_id")
	if !ok {
		return
	}

	limit := defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxPageLimit)
		}
	}

	results, err := h.db.ListRecentValidations(r.Context(), id, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to list validations", err)
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}
