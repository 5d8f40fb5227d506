package server

import (
	"net/http"

	"github.com/cmzoo/menagerie/internal/model"
)

// HandleCreateAnimal handles POST /v1/animals.
func (h *Handlers) HandleCreateAnimal(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAnimalRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Name == "" || req.Species == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name and species are required")
		return
	}

	created, err := h.db.CreateAnimal(r.Context(), model.Animal{
		Name:    req.Name,
		Species: req.Species,
		Habitat: req.Habitat,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to create animal", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleGetAnimal handles GET /v1/animals/{animal_id}.
func (h *Handlers) HandleGetAnimal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "animal_id")
	if !ok {
		return
	}
	a, err := h.db.GetAnimal(r.Context(), id)
	if err != nil {
		if !h.mapDomainError(w, r, err) {
			h.writeInternalError(w, r, "failed to load animal", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

// HandleListAnimals handles GET /v1/animals.
func (h *Handlers) HandleListAnimals(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	animals, total, err := h.db.ListAnimals(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list animals", err)
		return
	}
	writeList(w, r, animals, total, limit, offset, len(animals))
}
