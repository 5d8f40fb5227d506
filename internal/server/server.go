package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cmzoo/menagerie/internal/auth"
	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/ratelimit"
	"github.com/cmzoo/menagerie/internal/service/classify"
	"github.com/cmzoo/menagerie/internal/service/embedding"
	"github.com/cmzoo/menagerie/internal/service/sandbox"
	"github.com/cmzoo/menagerie/internal/service/turns"
	"github.com/cmzoo/menagerie/internal/service/validation"
	"github.com/cmzoo/menagerie/internal/storage"
)

// Server is the menagerie HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, Classifier, Embedder.
type ServerConfig struct {
	// Required dependencies.
	DB        *storage.DB
	JWTMgr    *auth.JWTManager
	Sandboxes *sandbox.Service
	Gate      *turns.Service
	Engine    *validation.Engine
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter    ratelimit.Limiter
	Classifier classify.Classifier
	Embedder   embedding.Provider

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Sandboxes:           cfg.Sandboxes,
		Gate:                cfg.Gate,
		Engine:              cfg.Engine,
		Classifier:          cfg.Classifier,
		Embedder:            cfg.Embedder,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules: turns are limited per operator, auth per IP.
	turnRL := ratelimit.Middleware(cfg.Limiter, operatorKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Catalog management (admin-only).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/guardrails", adminOnly(http.HandlerFunc(h.HandleCreateGuardrail)))
	mux.Handle("PUT /v1/guardrails/{guardrail_id}", adminOnly(http.HandlerFunc(h.HandleUpdateGuardrail)))
	mux.Handle("DELETE /v1/guardrails/{guardrail_id}", adminOnly(http.HandlerFunc(h.HandleDeleteGuardrail)))
	mux.Handle("POST /v1/personalities", adminOnly(http.HandlerFunc(h.HandleCreatePersonality)))
	mux.Handle("PUT /v1/personalities/{personality_id}", adminOnly(http.HandlerFunc(h.HandleUpdatePersonality)))
	mux.Handle("DELETE /v1/personalities/{personality_id}", adminOnly(http.HandlerFunc(h.HandleDeletePersonality)))
	mux.Handle("POST /v1/animals", adminOnly(http.HandlerFunc(h.HandleCreateAnimal)))
	mux.Handle("PATCH /v1/assistants/{assistant_id}", adminOnly(http.HandlerFunc(h.HandleUpdateAssistant)))
	mux.Handle("POST /v1/operators", adminOnly(http.HandlerFunc(h.HandleCreateOperator)))

	// Sandbox lifecycle (keeper+).
	keeperUp := requireRole(model.RoleAdmin, model.RoleKeeper)
	mux.Handle("POST /v1/sandboxes", keeperUp(http.HandlerFunc(h.HandleCreateSandbox)))
	mux.Handle("POST /v1/sandboxes/{sandbox_id}/promote", keeperUp(http.HandlerFunc(h.HandlePromoteSandbox)))
	mux.Handle("DELETE /v1/sandboxes/{sandbox_id}", keeperUp(http.HandlerFunc(h.HandleDeleteSandbox)))

	// Conversation turns and dry-run validation (keeper+, rate limited).
	mux.Handle("POST /v1/turns", turnRL(keeperUp(http.HandlerFunc(h.HandleSubmitTurn))))
	mux.Handle("POST /v1/validate", turnRL(keeperUp(http.HandlerFunc(h.HandleValidateContent))))

	// Reads (any authenticated role).
	readRole := requireRole(model.RoleAdmin, model.RoleKeeper, model.RoleReader)
	mux.Handle("GET /v1/guardrails", readRole(http.HandlerFunc(h.HandleListGuardrails)))
	mux.Handle("GET /v1/guardrails/{guardrail_id}", readRole(http.HandlerFunc(h.HandleGetGuardrail)))
	mux.Handle("GET /v1/guardrails/{guardrail_id}/validations", readRole(http.HandlerFunc(h.HandleListValidations)))
	mux.Handle("GET /v1/personalities", readRole(http.HandlerFunc(h.HandleListPersonalities)))
	mux.Handle("GET /v1/personalities/{personality_id}", readRole(http.HandlerFunc(h.HandleGetPersonality)))
	mux.Handle("GET /v1/animals", readRole(http.HandlerFunc(h.HandleListAnimals)))
	mux.Handle("GET /v1/animals/{animal_id}", readRole(http.HandlerFunc(h.HandleGetAnimal)))
	mux.Handle("GET /v1/assistants", readRole(http.HandlerFunc(h.HandleListAssistants)))
	mux.Handle("GET /v1/assistants/{assistant_id}", readRole(http.HandlerFunc(h.HandleGetAssistant)))
	mux.Handle("GET /v1/sandboxes", readRole(http.HandlerFunc(h.HandleListSandboxes)))
	mux.Handle("GET /v1/sandboxes/{sandbox_id}", readRole(http.HandlerFunc(h.HandleGetSandbox)))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// operatorKeyFunc extracts the operator ID from the request context for rate
// limiting. Returns empty string for admins (exempt from rate limits).
func operatorKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if claims.Role == model.RoleAdmin {
		return ""
	}
	return claims.OperatorID
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
