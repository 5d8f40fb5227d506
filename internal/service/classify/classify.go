// Package classify scores user or assistant content against guardrail
// rules. A classifier returns a confidence in [0,1] per rule; the
// validation engine owns thresholds and verdicts.
package classify

import (
	"context"
	"errors"

	"github.com/cmzoo/menagerie/internal/model"
)

// ErrUnavailable signals that the classifier backend could not score the
// content at all. Callers must treat this as fail-closed: content that
// cannot be classified is never approved.
var ErrUnavailable = errors.New("classify: classifier unavailable")

// Classifier scores content against a set of rules in one pass.
//
// Scores returns one confidence per rule, index-aligned with the input.
// Implementations must be safe for concurrent use. A non-nil error means
// no scores could be produced; partial results are never returned.
type Classifier interface {
	Name() string
	Scores(ctx context.Context, content string, rules []model.Rule) ([]float64, error)
}
