package resilience

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Failover calls fn against an ordered endpoint list. Each endpoint gets the
// full retry budget from cfg for transient errors; a non-transient error, or
// retry exhaustion, advances to the next endpoint. When every endpoint is
// spent the last error is returned.
func Failover[T any](ctx context.Context, cfg RetryConfig, endpoints []string, fn func(ctx context.Context, endpoint string) (T, error)) (T, error) {
	var zero T
	if len(endpoints) == 0 {
		return zero, eris.New("resilience: no endpoints configured")
	}

	var lastErr error
	for i, ep := range endpoints {
		val, err := DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
			return fn(ctx, ep)
		})
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}

		if i < len(endpoints)-1 {
			zap.L().Warn("endpoint failed, advancing to next",
				zap.String("endpoint", ep),
				zap.Int("remaining", len(endpoints)-i-1),
				zap.Error(err),
			)
		}
	}

	return zero, eris.Wrap(lastErr, "resilience: all endpoints exhausted")
}
