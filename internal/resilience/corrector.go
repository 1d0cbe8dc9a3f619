package resilience

import (
	"context"

	"github.com/MrWong99/voxgate/internal/llmcorrect"
)

// Corrector is the slice of the transcript corrector the guard wraps.
type Corrector interface {
	Correct(ctx context.Context, text string) (llmcorrect.Result, error)
}

// GuardedCorrector fronts a corrector with a [Breaker]. While the breaker
// is open, Correct fails fast with [ErrOpen]; callers already treat any
// corrector error as "ship the raw transcript", so an outage degrades the
// stream instead of stalling it.
type GuardedCorrector struct {
	inner   Corrector
	breaker *Breaker
}

// GuardCorrector wraps inner. A zero cfg uses the package defaults.
func GuardCorrector(inner Corrector, cfg BreakerConfig) *GuardedCorrector {
	if cfg.Name == "" {
		cfg.Name = "corrector"
	}
	return &GuardedCorrector{
		inner:   inner,
		breaker: NewBreaker(cfg),
	}
}

// Correct delegates to the wrapped corrector through the breaker.
func (g *GuardedCorrector) Correct(ctx context.Context, text string) (llmcorrect.Result, error) {
	var res llmcorrect.Result
	err := g.breaker.Do(func() error {
		var err error
		res, err = g.inner.Correct(ctx, text)
		return err
	})
	if err != nil {
		return llmcorrect.Result{}, err
	}
	return res, nil
}
