// Package explain produces a short narrative for a persona result using an
// LLM. Explanations are best effort; callers treat failure as "no text".
package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nice-bills/chain-segment/internal/observability"
)

// ErrNoExplanation is returned when no backend produced text.
var ErrNoExplanation = errors.New("no explanation available")

// Explainer turns a persona and its display stats into free text.
type Explainer interface {
	Explain(ctx context.Context, persona string, stats map[string]float64) (string, error)
}

// Backend is one LLM provider.
type Backend interface {
	Explainer
	Name() string
}

// Chain tries each backend in order and returns the first non-empty answer.
type Chain struct {
	backends []Backend
	log      zerolog.Logger
	metrics  *observability.Metrics
}

// NewChain creates a Chain. Nil backends are skipped.
func NewChain(log zerolog.Logger, metrics *observability.Metrics, backends ...Backend) *Chain {
	c := &Chain{log: log, metrics: metrics}
	for _, b := range backends {
		if b != nil {
			c.backends = append(c.backends, b)
		}
	}
	return c
}

// Len returns the number of configured backends.
func (c *Chain) Len() int { return len(c.backends) }

// Explain implements Explainer.
func (c *Chain) Explain(ctx context.Context, persona string, stats map[string]float64) (string, error) {
	var errs []error
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := b.Explain(ctx, persona, stats)
		if err == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				return text, nil
			}
			err = errors.New("empty response")
		}
		c.metrics.RecordExplainerFailure(b.Name())
		c.log.Warn().Err(err).Str("backend", b.Name()).Msg("explainer backend failed, falling back")
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
	}
	if len(errs) == 0 {
		return "", ErrNoExplanation
	}
	return "", fmt.Errorf("%w: %w", ErrNoExplanation, errors.Join(errs...))
}
