package render

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fund-crawler/internal/resilience"
)

// Chain tries renderers in priority order, returning the first success.
// Each renderer sits behind its own circuit breaker so a broken browser is
// skipped instead of costing a full timeout per fund.
type Chain struct {
	renderers []Renderer
	breakers  []*resilience.CircuitBreaker
}

// NewChain creates a Chain. Renderers are tried in order.
func NewChain(renderers ...Renderer) *Chain {
	breakers := make([]*resilience.CircuitBreaker, len(renderers))
	for i, r := range renderers {
		name := r.Name()
		breakers[i] = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     5 * time.Minute,
			ShouldTrip: countsAsRendererFailure,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("render: circuit state change",
					zap.String("renderer", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	return &Chain{renderers: renderers, breakers: breakers}
}

func (c *Chain) Name() string { return "chain" }

// countsAsRendererFailure reports whether err says something about the
// renderer itself. A page without the table is a content problem, and an
// expired or cancelled caller context says nothing about the browser.
func countsAsRendererFailure(err error) bool {
	switch {
	case errors.Is(err, ErrSelectorMissing),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Render tries each renderer in order for a single URL.
func (c *Chain) Render(ctx context.Context, targetURL, waitSelector string) (string, error) {
	var lastErr error
	for i, r := range c.renderers {
		if ctx.Err() != nil {
			return "", eris.Wrap(ctx.Err(), "render: context done")
		}
		html, err := resilience.ExecuteVal(ctx, c.breakers[i], func(ctx context.Context) (string, error) {
			return r.Render(ctx, targetURL, waitSelector)
		})
		if err == nil {
			return html, nil
		}
		zap.L().Debug("render: renderer failed, trying next",
			zap.String("renderer", r.Name()),
			zap.String("url", targetURL),
			zap.Error(err),
		)
		lastErr = err
	}
	if lastErr != nil {
		return "", eris.Wrap(lastErr, "render: all renderers failed")
	}
	return "", eris.New("render: no renderers configured")
}

// Limited wraps a Renderer with a request rate limit.
type Limited struct {
	Renderer
	limiter *rate.Limiter
}

// NewLimited caps r at perSec renders per second. perSec <= 0 returns r
// unchanged.
func NewLimited(r Renderer, perSec float64) Renderer {
	if perSec <= 0 {
		return r
	}
	return &Limited{Renderer: r, limiter: rate.NewLimiter(rate.Limit(perSec), 1)}
}

func (l *Limited) Render(ctx context.Context, targetURL, waitSelector string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "render: rate limiter wait")
	}
	return l.Renderer.Render(ctx, targetURL, waitSelector)
}
