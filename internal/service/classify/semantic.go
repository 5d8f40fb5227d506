package classify

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"

	"github.com/cmzoo/menagerie/internal/model"
	"github.com/cmzoo/menagerie/internal/service/embedding"
)

// Semantic scores rules by cosine similarity between the content embedding
// and each rule's embedding. Rule embeddings are cached in memory keyed by
// rule ID and invalidated when the rule text changes; precomputed vectors
// can be primed from storage to avoid a cold-start embedding burst.
type Semantic struct {
	provider embedding.Provider

	mu    sync.RWMutex
	cache map[uuid.UUID]cachedVec

	group singleflight.Group
}

type cachedVec struct {
	text string
	vec  []float32
}

// NewSemantic creates a semantic classifier on top of an embedding provider.
func NewSemantic(provider embedding.Provider) *Semantic {
	return &Semantic{
		provider: provider,
		cache:    make(map[uuid.UUID]cachedVec),
	}
}

// Name identifies the classifier in audit records.
func (s *Semantic) Name() string { return "semantic" }

// Prime seeds the cache with a precomputed rule embedding. The rule text is
// retained so a later edit to the rule forces a re-embed.
func (s *Semantic) Prime(ruleID uuid.UUID, text string, vec pgvector.Vector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[ruleID] = cachedVec{text: text, vec: vec.Slice()}
}

// Scores embeds the content once, resolves each rule's embedding (cache,
// then provider), and returns cosine similarities clamped to [0,1].
// Any provider failure is reported as ErrUnavailable.
func (s *Semantic) Scores(ctx context.Context, content string, rules []model.Rule) ([]float64, error) {
	contentVec, err := s.provider.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("%w: embed content: %w", ErrUnavailable, err)
	}
	cv := contentVec.Slice()

	scores := make([]float64, len(rules))
	for i, rule := range rules {
		rv, err := s.ruleVec(ctx, rule)
		if err != nil {
			return nil, err
		}
		scores[i] = clamp01(cosine(cv, rv))
	}
	return scores, nil
}

// ruleVec returns the embedding for a rule, computing and caching it on a
// miss. Concurrent misses for the same rule are collapsed via singleflight.
func (s *Semantic) ruleVec(ctx context.Context, rule model.Rule) ([]float32, error) {
	s.mu.RLock()
	entry, ok := s.cache[rule.ID]
	s.mu.RUnlock()
	if ok && entry.text == rule.Text {
		return entry.vec, nil
	}

	v, err, _ := s.group.Do(rule.ID.String(), func() (any, error) {
		vec, err := s.provider.Embed(ctx, rule.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: embed rule %s: %w", ErrUnavailable, rule.ID, err)
		}
		raw := vec.Slice()
		s.mu.Lock()
		s.cache[rule.ID] = cachedVec{text: rule.Text, vec: raw}
		s.mu.Unlock()
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
