// Package menagerie is the public API for embedding the menagerie safety
// validation and sandbox lifecycle server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := menagerie.New(
//	    menagerie.WithVersion(version),
//	    menagerie.WithLogger(logger),
//	    menagerie.WithCompletionProvider(myBackend),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: menagerie (root)
// imports internal/*, but internal/* never imports menagerie (root).
// Public types (Validation, Message) are standalone structs with no
// internal imports; the adapters live here because this is the only file
// that sees both sides of the boundary.
package menagerie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/cmzoo/menagerie/internal/auth"
	"github.com/cmzoo/menagerie/internal/config"
	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/ratelimit"
	"github.com/cmzoo/menagerie/internal/server"
	"github.com/cmzoo/menagerie/internal/service/classify"
	"github.com/cmzoo/menagerie/internal/service/completion"
	"github.com/cmzoo/menagerie/internal/service/embedding"
	"github.com/cmzoo/menagerie/internal/service/sandbox"
	"github.com/cmzoo/menagerie/internal/service/turns"
	"github.com/cmzoo/menagerie/internal/service/validation"
	"github.com/cmzoo/menagerie/internal/storage"
	"github.com/cmzoo/menagerie/internal/telemetry"
	"github.com/cmzoo/menagerie/migrations"
)

// App is the menagerie server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	sandboxes    *sandbox.Service
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the menagerie server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(cfg.LogLevel)
	}

	logger.Info("menagerie starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Embedding provider — external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &publicEmbedderAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	classifier := newClassifier(cfg, embedder, logger)
	if semantic, ok := classifier.(*classify.Semantic); ok {
		warmSemanticCache(context.Background(), db, semantic, logger)
	}

	var completer completion.Provider
	if o.completionProvider != nil {
		completer = &publicCompleterAdapter{p: o.completionProvider}
	} else {
		completer = newCompletionProvider(cfg, logger)
	}

	var rewriter validation.Rewriter
	if o.rewriter != nil {
		rewriter = &publicRewriterAdapter{rw: o.rewriter}
	}

	engine := validation.New(classifier, validation.Thresholds{
		Match: cfg.MatchThreshold,
		Flag:  cfg.FlagThreshold,
		Block: cfg.BlockThreshold,
	}, rewriter, db, logger)

	sandboxes := sandbox.New(db, cfg.SandboxTTL, logger)
	gate := turns.New(db, sandboxes, engine, completer, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Sandboxes:           sandboxes,
		Gate:                gate,
		Engine:              engine,
		Limiter:             limiter,
		Classifier:          classifier,
		Embedder:            embedder,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	if err := srv.Handlers().SeedAdmin(context.Background(), cfg.AdminAPIKey); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		sandboxes:    sandboxes,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the background loops and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown has
// been called — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.sandboxes.RunSweeper(ctx, a.cfg.SweepInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if a.cfg.ValidationRetention > 0 {
		g.Go(func() error {
			a.validationPurgeLoop(ctx)
			return nil
		})
	}

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown drains in-flight HTTP requests, then closes the rate limiter,
// the database pool, and the OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("menagerie shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("menagerie stopped")
	return nil
}

// validationPurgeLoop deletes validation audit rows older than the
// configured retention, once per hour.
func (a *App) validationPurgeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-a.cfg.ValidationRetention)
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := a.db.PurgeValidationsBefore(opCtx, cutoff)
			cancel()
			if err != nil {
				a.logger.Warn("validation purge failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("validation audit rows purged", "count", n, "cutoff", cutoff)
			}
		}
	}
}

// ── Provider selection ─────────────────────────────────────────────────────────

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when MENAGERIE_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
	case "noop":
		logger.Info("embedding provider: noop")
		return embedding.NewNoopProvider(dims)
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop")
		return embedding.NewNoopProvider(dims)
	}
}

// newClassifier picks the rule-match backend. Semantic scoring needs a real
// embedding provider; a noop embedder would score every rule at zero, so
// "auto" falls back to the lexical classifier in that case.
func newClassifier(cfg config.Config, embedder embedding.Provider, logger *slog.Logger) classify.Classifier {
	_, isNoop := embedder.(*embedding.NoopProvider)

	switch cfg.Classifier {
	case "lexical":
		logger.Info("classifier: lexical")
		return classify.NewLexical()
	case "semantic":
		if isNoop {
			logger.Warn("MENAGERIE_CLASSIFIER=semantic but no embedding provider is available; rule matching will score zero")
		}
		logger.Info("classifier: semantic")
		return classify.NewSemantic(embedder)
	case "auto":
		fallthrough
	default:
		if isNoop {
			logger.Info("classifier: lexical (no embedding provider)")
			return classify.NewLexical()
		}
		logger.Info("classifier: semantic (auto-detected)")
		return classify.NewSemantic(embedder)
	}
}

func newCompletionProvider(cfg config.Config, logger *slog.Logger) completion.Provider {
	switch cfg.CompletionProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when MENAGERIE_COMPLETION_PROVIDER=openai")
			return completion.Static{}
		}
		logger.Info("completion provider: openai", "model", cfg.CompletionModel)
		return completion.NewOpenAI(cfg.OpenAIAPIKey, cfg.CompletionModel, cfg.CompletionTimeout)
	case "ollama":
		logger.Info("completion provider: ollama", "url", cfg.OllamaURL, "model", cfg.CompletionModel)
		return completion.NewOllama(cfg.OllamaURL, cfg.CompletionModel, cfg.CompletionTimeout)
	case "static":
		logger.Info("completion provider: static")
		return completion.Static{}
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("completion provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.CompletionModel)
			return completion.NewOllama(cfg.OllamaURL, cfg.CompletionModel, cfg.CompletionTimeout)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("completion provider: openai (auto-detected)", "model", cfg.CompletionModel)
			return completion.NewOpenAI(cfg.OpenAIAPIKey, cfg.CompletionModel, cfg.CompletionTimeout)
		}
		logger.Warn("no completion provider available, using static responses")
		return completion.Static{}
	}
}

func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// warmSemanticCache primes the semantic classifier with rule embeddings
// already stored in Postgres so startup doesn't pay a re-embed per rule.
// Best-effort: unprimed rules are embedded on demand.
func warmSemanticCache(ctx context.Context, db *storage.DB, semantic *classify.Semantic, logger *slog.Logger) {
	guardrails, _, err := db.ListGuardrails(ctx, 200, 0)
	if err != nil {
		logger.Warn("semantic cache warmup: list guardrails failed", "error", err)
		return
	}

	var primed int
	for _, g := range guardrails {
		vecs, err := db.GetRuleEmbeddings(ctx, g.ID)
		if err != nil {
			logger.Warn("semantic cache warmup: load embeddings failed", "guardrail_id", g.ID, "error", err)
			continue
		}
		for _, rule := range g.Rules {
			if vec, ok := vecs[rule.ID]; ok {
				semantic.Prime(rule.ID, rule.Text, vec)
				primed++
			}
		}
	}
	if primed > 0 {
		logger.Info("semantic cache warmed", "rules", primed)
	}
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// publicEmbedderAdapter wraps a menagerie.EmbeddingProvider to satisfy the
// internal embedding.Provider interface.
type publicEmbedderAdapter struct {
	p EmbeddingProvider
}

func (a *publicEmbedderAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}

func (a *publicEmbedderAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vecs))
	for i, v := range vecs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *publicEmbedderAdapter) Dimensions() int {
	return a.p.Dimensions()
}

// publicCompleterAdapter wraps a menagerie.CompletionProvider to satisfy the
// internal completion.Provider interface.
type publicCompleterAdapter struct {
	p CompletionProvider
}

func (a *publicCompleterAdapter) Complete(ctx context.Context, systemPrompt string, history []completion.Message, userMessage string) (string, int, error) {
	pub := make([]Message, len(history))
	for i, m := range history {
		pub[i] = Message{Role: m.Role, Content: m.Content}
	}
	return a.p.Complete(ctx, systemPrompt, pub, userMessage)
}

// publicRewriterAdapter wraps a menagerie.Rewriter to satisfy the internal
// validation.Rewriter interface.
type publicRewriterAdapter struct {
	rw Rewriter
}

func (a *publicRewriterAdapter) Rewrite(ctx context.Context, content string, result model.ValidationResult) (string, error) {
	return a.rw.Rewrite(ctx, content, Validation{
		ID:          result.ID,
		GuardrailID: result.GuardrailID,
		Verdict:     string(result.Verdict),
		RiskScore:   result.RiskScore,
		Reason:      result.Reason,
		CreatedAt:   result.CreatedAt,
	})
}
