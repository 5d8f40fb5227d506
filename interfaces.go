package menagerie

import "context"

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces the auto-detected
// Ollama/OpenAI/noop provider. Uses []float32 (not pgvector.Vector) so
// external consumers don't inherit the pgvector dependency; New() wraps it
// in an adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// CompletionProvider generates assistant responses.
// When provided via WithCompletionProvider, replaces the auto-detected
// Ollama/OpenAI/static backend. Returns the response text and the token
// count reported by the backend (0 when unknown).
type CompletionProvider interface {
	Complete(ctx context.Context, systemPrompt string, history []Message, userMessage string) (string, int, error)
}

// Rewriter produces a safe alternative for content that was flagged or
// blocked. Optional; registered via WithRewriter. A rewrite failure never
// changes the verdict — the plain explanation ships instead.
type Rewriter interface {
	Rewrite(ctx context.Context, content string, v Validation) (string, error)
}
