package inference

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// limitedClient gates every Complete call on a shared token bucket. All
// concurrently executing runs that hit the same external service share one
// limiter, so batch concurrency never exceeds the service's rate budget.
type limitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewLimiter creates a token bucket allowing rps requests per second with
// the given burst. If rps is zero or negative, returns nil (no limiting);
// Limited treats a nil limiter as a no-op.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Limited wraps c so every request first waits on limiter.
func Limited(c Client, limiter *rate.Limiter) Client {
	if limiter == nil {
		return c
	}
	return &limitedClient{inner: c, limiter: limiter}
}

func (l *limitedClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: waiting for rate limiter: %v", ErrExternalService, err)
	}
	return l.inner.Complete(ctx, req)
}

func (l *limitedClient) Available() bool {
	return l.inner.Available()
}
