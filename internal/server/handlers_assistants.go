package server

import (
	"net/http"

	"github.com/cmzoo/menagerie/internal/model"
)

// HandleGetAssistant handles GET /v1/assistants/{assistant_id}.
func (h *Handlers) HandleGetAssistant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "assistant_id")
	if !ok {
		return
	}
	a, err := h.db.GetAssistant(r.Context(), id)
	if err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to load assistant", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

// HandleListAssistants handles GET /v1/assistants.
func (h *Handlers) HandleListAssistants(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	as, total, err := h.db.ListAssistants(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list assistants", err)
		return
	}
	writeList(w, r, as, total, limit, offset, len(as))
}

// HandleUpdateAssistant handles PATCH /v1/assistants/{assistant_id}.
// Only the operational status may change; configuration changes go through
// a new sandbox and promotion.
func (h *Handlers) HandleUpdateAssistant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "assistant_id")
	if !ok {
		return
	}

	var req model.UpdateAssistantRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if !req.Status.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "status must be one of ACTIVE, INACTIVE, ERROR")
		return
	}

	updated, err := h.db.UpdateAssistantStatus(r.Context(), id, req.Status)
	if err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to update assistant", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}
