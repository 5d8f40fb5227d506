package classify

import (
	"context"
	"strings"
	"unicode"

	"github.com/cmzoo/menagerie/internal/model"
)

// Lexical scores rules by token overlap between the content and the rule
// statement plus its examples. Deterministic, dependency-free, and always
// available; the default classifier when no embedding backend is configured.
type Lexical struct{}

// NewLexical creates a lexical classifier.
func NewLexical() *Lexical { return &Lexical{} }

// Name identifies the classifier in audit records.
func (l *Lexical) Name() string { return "lexical" }

// exampleHitConfidence is assigned when a rule example appears verbatim
// in the content. Kept below 1.0 so a severity weight still dominates.
const exampleHitConfidence = 0.95

// Scores never fails: the lexical classifier has no external backend.
func (l *Lexical) Scores(_ context.Context, content string, rules []model.Rule) ([]float64, error) {
	normalized := normalize(content)
	contentTokens := tokenSet(normalized)

	scores := make([]float64, len(rules))
	for i, rule := range rules {
		scores[i] = l.score(normalized, contentTokens, rule)
	}
	return scores, nil
}

func (l *Lexical) score(normalizedContent string, contentTokens map[string]struct{}, rule model.Rule) float64 {
	best := overlap(meaningfulTokens(rule.Text), contentTokens)

	for _, ex := range rule.Examples {
		exNorm := normalize(ex)
		if exNorm == "" {
			continue
		}
		if strings.Contains(normalizedContent, exNorm) {
			if exampleHitConfidence > best {
				best = exampleHitConfidence
			}
			continue
		}
		if s := overlap(meaningfulTokens(ex), contentTokens); s > best {
			best = s
		}
	}
	return best
}

// overlap returns the fraction of wanted tokens present in the content.
func overlap(wanted []string, contentTokens map[string]struct{}) float64 {
	if len(wanted) == 0 {
		return 0
	}
	hits := 0
	for _, tok := range wanted {
		if _, ok := contentTokens[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(wanted))
}

// stopwords are function words plus rule-directive verbs that carry no
// topical signal ("never discuss X" should match on X, not on "never").
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "at": {}, "is": {}, "are": {}, "be": {}, "it": {},
	"this": {}, "that": {}, "with": {}, "for": {}, "about": {}, "any": {},
	"do": {}, "dont": {}, "not": {}, "no": {}, "me": {}, "my": {}, "you": {},
	"your": {}, "i": {}, "we": {}, "they": {}, "how": {}, "what": {},
	"never": {}, "always": {}, "discourage": {}, "encourage": {},
	"avoid": {}, "must": {}, "should": {}, "shall": {},
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		} else if unicode.IsSpace(r) {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func meaningfulTokens(s string) []string {
	fields := strings.Fields(normalize(s))
	out := fields[:0]
	for _, f := range fields {
		if _, skip := stopwords[f]; !skip {
			out = append(out, f)
		}
	}
	return out
}

func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(normalized) {
		set[f] = struct{}{}
	}
	return set
}
