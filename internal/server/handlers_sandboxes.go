package server

import (
	"net/http"
	"time"

	"github.com/cmzoo/menagerie/internal/model"
)

// HandleCreateSandbox handles POST /v1/sandboxes.
func (h *Handlers) HandleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSandboxRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	created, err := h.sandboxes.Create(r.Context(), req)
	if err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to create sandbox", err)
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, model.NewSandboxView(created, time.Now().UTC()))
}

// HandleGetSandbox handles GET /v1/sandboxes/{sandbox_id}. An expired
// sandbox remains readable until the sweep reclaims it; the derived status
// tells the caller it can no longer be used.
func (h *Handlers) HandleGetSandbox(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "sandbox_id")
	if !ok {
		return
	}
	sb, err := h.sandboxes.Get(r.Context(), id)
	if err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to load sandbox", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, model.NewSandboxView(sb, time.Now().UTC()))
}

// HandleListSandboxes handles GET /v1/sandboxes.
func (h *Handlers) HandleListSandboxes(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	sbs, total, err := h.sandboxes.List(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list sandboxes", err)
		return
	}

	now := time.Now().UTC()
	views := make([]model.SandboxView, len(sbs))
	for i, sb := range sbs {
		views[i] = model.NewSandboxView(sb, now)
	}
	writeList(w, r, views, total, limit, offset, len(views))
}

// promoteResponse pairs the frozen sandbox with the assistant it produced.
type promoteResponse struct {
	Sandbox   model.SandboxView `json:"sandbox"`
	Assistant model.Assistant   `json:"assistant"`
}

// HandlePromoteSandbox handles POST /v1/sandboxes/{sandbox_id}/promote.
func (h *Handlers) HandlePromoteSandbox(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "sandbox_id")
	if !ok {
		return
	}

	sb, a, err := h.sandboxes.Promote(r.Context(), id)
	if err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to promote sandbox", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, promoteResponse{
		Sandbox:   model.NewSandboxView(sb, time.Now().UTC()),
		Assistant: a,
	})
}

// HandleDeleteSandbox handles DELETE /v1/sandboxes/{sandbox_id}.
func (h *Handlers) HandleDeleteSandbox(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "sandbox_id")
	if !ok {
		return
	}
	if err := h.sandboxes.Delete(r.Context(), id); err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to delete sandbox", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
