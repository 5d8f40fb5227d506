package menagerie

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port               int
	databaseURL        string
	logger             *slog.Logger
	version            string
	embeddingProvider  EmbeddingProvider
	completionProvider CompletionProvider
	rewriter           Rewriter
}

// WithPort overrides the TCP port from config (MENAGERIE_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, a logger is built from MENAGERIE_LOG_LEVEL.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider
// (Ollama/OpenAI/noop) used by the semantic classifier.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithCompletionProvider replaces the auto-detected completion backend.
// Only the last call wins.
func WithCompletionProvider(p CompletionProvider) Option {
	return func(o *resolvedOptions) { o.completionProvider = p }
}

// WithRewriter registers a safe-alternative rewriter for flagged and
// blocked content. Only the last call wins.
func WithRewriter(rw Rewriter) Option {
	return func(o *resolvedOptions) { o.rewriter = rw }
}
