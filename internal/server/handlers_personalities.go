package server

import (
	"net/http"

	"github.com/cmzoo/menagerie/internal/model"
)

// HandleCreatePersonality handles POST /v1/personalities.
func (h *Handlers) HandleCreatePersonality(w http.ResponseWriter, r *http.Request) {
	var req model.PersonalityRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	p := model.Personality{
		Name:       req.Name,
		Tone:       req.Tone,
		Formality:  req.Formality,
		Enthusiasm: req.Enthusiasm,
		Traits:     req.Traits,
	}
	if err := p.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	created, err := h.db.CreatePersonality(r.Context(), p)
	if err != nil {
		h.writeInternalError(w, r, "failed to create personality", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleGetPersonality handles GET /v1/personalities/{personality_id}.
func (h *Handlers) HandleGetPersonality(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "personality_id")
	if !ok {
		return
	}
	p, err := h.db.GetPersonality(r.Context(), id)
	if err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to load personality", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandleListPersonalities handles GET /v1/personalities.
func (h *Handlers) HandleListPersonalities(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	ps, total, err := h.db.ListPersonalities(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list personalities", err)
		return
	}
	writeList(w, r, ps, total, limit, offset, len(ps))
}

// HandleUpdatePersonality handles PUT /v1/personalities/{personality_id}.
// A personality referenced by a live assistant or sandbox is immutable in
// place; storage rejects the update with a conflict.
func (h *Handlers) HandleUpdatePersonality(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "personality_id")
	if !ok {
		return
	}

	var req model.PersonalityRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	p := model.Personality{
		ID:         id,
		Name:       req.Name,
		Tone:       req.Tone,
		Formality:  req.Formality,
		Enthusiasm: req.Enthusiasm,
		Traits:     req.Traits,
	}
	if err := p.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	updated, err := h.db.UpdatePersonality(r.Context(), p)
	if err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to update personality", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// HandleDeletePersonality handles DELETE /v1/personalities/{personality_id}.
func (h *Handlers) HandleDeletePersonality(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "personality_id")
	if !ok {
		return
	}
	if err := h.db.DeletePersonality(r.Context(), id); err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to delete personality", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
