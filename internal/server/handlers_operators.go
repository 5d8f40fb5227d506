package server

import (
	"net/http"

	"github.com/cmzoo/menagerie/internal/auth"
	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/storage"
)

// HandleCreateOperator handles POST /v1/operators (admin-only). Mints a
// console credential; the caller chooses the API key and passes it out of
// band, only the argon2id hash is stored.
func (h *Handlers) HandleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req model.CreateOperatorRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.OperatorID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "operator_id and api_key are required")
		return
	}
	if !req.Role.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "role must be one of admin, keeper, reader")
		return
	}

	hash, err := auth.HashAPIKey(req.APIKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	created, err := h.db.CreateOperator(r.Context(), storage.Operator{
		OperatorID: req.OperatorID,
		Name:       req.Name,
		Role:       req.Role,
		APIKeyHash: hash,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to create operator", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}
