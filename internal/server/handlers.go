// Package server implements the HTTP API for the safety validation and
// sandbox lifecycle engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cmzoo/menagerie/internal/auth"
	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/service/classify"
	"github.com/cmzoo/menagerie/internal/service/embedding"
	"github.com/cmzoo/menagerie/internal/service/sandbox"
	"github.com/cmzoo/menagerie/internal/service/turns"
	"github.com/cmzoo/menagerie/internal/service/validation"
	"github.com/cmzoo/menagerie/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	sandboxes           *sandbox.Service
	gate                *turns.Service
	engine              *validation.Engine
	classifier          classify.Classifier
	embedder            embedding.Provider
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Embedder, Classifier.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	Sandboxes           *sandbox.Service
	Gate                *turns.Service
	Engine              *validation.Engine
	Classifier          classify.Classifier
	Embedder            embedding.Provider
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		sandboxes:           d.Sandboxes,
		gate:                d.Gate,
		engine:              d.Engine,
		classifier:          d.Classifier,
		embedder:            d.Embedder,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token. Exchanges an operator ID and
// API key for a JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.OperatorID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "operator_id and api_key are required")
		return
	}

	op, err := h.db.GetOperatorByOperatorID(r.Context(), req.OperatorID)
	if err != nil {
		// Burn the same time as a real verify so an unknown operator ID is
		// indistinguishable from a wrong key.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, op.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(op.ID, op.OperatorID, op.Role)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	// Best-effort; a missed last-seen update never blocks the token.
	if err := h.db.TouchOperatorLastSeen(r.Context(), op.OperatorID); err != nil {
		h.logger.Warn("failed to touch operator last seen", "operator_id", op.OperatorID, "error", err)
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	resp := model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	}
	if h.classifier != nil {
		resp.Classifier = h.classifier.Name()
	}

	writeJSON(w, r, httpStatus, resp)
}

// SeedAdmin creates the initial admin operator if the operators table is empty.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	count, err := h.db.CountOperators(ctx)
	if err != nil {
		return fmt.Errorf("seed admin: count operators: %w", err)
	}

	if adminAPIKey == "" {
		if count == 0 {
			return fmt.Errorf("seed admin: MENAGERIE_ADMIN_API_KEY is empty and no operators exist; set it to bootstrap initial admin access")
		}
		h.logger.Info("no admin API key configured, skipping admin seed", "existing_operators", count)
		return nil
	}

	if count > 0 {
		h.logger.Info("operators table not empty, skipping admin seed")
		return nil
	}

	hash, err := auth.HashAPIKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}

	_, err = h.db.CreateOperator(ctx, storage.Operator{
		OperatorID: "admin",
		Name:       "System Admin",
		Role:       model.RoleAdmin,
		APIKeyHash: hash,
	})
	if err != nil {
		return fmt.Errorf("seed admin: create operator: %w", err)
	}

	h.logger.Info("seeded initial admin operator")
	return nil
}

// --- Shared helpers ---

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// pathUUID parses the named path parameter as a UUID, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parsePagination reads limit/offset query parameters with bounds applied.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxPageLimit)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// writeList writes the standard paginated list envelope.
func writeList(w http.ResponseWriter, r *http.Request, data any, total, limit, offset, returned int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(model.ListResponse{
		Data:    data,
		Total:   total,
		HasMore: offset+returned < total,
		Limit:   limit,
		Offset:  offset,
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// mapDomainError translates service and storage errors into API responses.
// Returns false when the error is not a recognized domain error, in which
// case the caller should treat it as internal.
func (h *Handlers) mapDomainError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "resource not found")
	case errors.Is(err, storage.ErrReferenced):
		writeError(w, r, http.StatusConflict, model.ErrCodePersonalityInUse, "resource is referenced by a live assistant or sandbox")
	case errors.Is(err, sandbox.ErrInvalidReference):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidReference, err.Error())
	case errors.Is(err, sandbox.ErrInvalidTTL):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, sandbox.ErrExpired):
		writeError(w, r, http.StatusConflict, model.ErrCodeExpired, err.Error())
	case errors.Is(err, sandbox.ErrAlreadyPromoted):
		writeError(w, r, http.StatusConflict, model.ErrCodeAlreadyPromoted, err.Error())
	case errors.Is(err, sandbox.ErrNotTested):
		writeError(w, r, http.StatusConflict, model.ErrCodeNotTested, err.Error())
	case errors.Is(err, sandbox.ErrGuardrailNotAssignable):
		writeError(w, r, http.StatusConflict, model.ErrCodeGuardrailNotAssignable, err.Error())
	case errors.Is(err, sandbox.ErrConflict), errors.Is(err, storage.ErrVersionConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.Is(err, turns.ErrInvalidContent):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, turns.ErrAssistantInactive):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	default:
		return false
	}
	return true
}
