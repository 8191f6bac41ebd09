package withdrawal

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/better-wallet/custody-core/pkg/types"
)

// RateLimitedAdapter throttles Execute calls to a chain node with a token bucket.
type RateLimitedAdapter struct {
	next    Adapter
	limiter *rate.Limiter
}

// NewRateLimitedAdapter wraps next so that it executes at most rps times per
// second with the given burst. A non-positive rps returns next unchanged.
func NewRateLimitedAdapter(next Adapter, rps float64, burst int) Adapter {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedAdapter{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Supports delegates to the wrapped adapter.
func (a *RateLimitedAdapter) Supports(asset types.Asset) bool {
	return a.next.Supports(asset)
}

// Execute waits for a token, then delegates. A cancelled wait fails the
// execution, which the saga compensates like any broadcast failure.
func (a *RateLimitedAdapter) Execute(ctx context.Context, wctx Context) (*types.BroadcastResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return a.next.Execute(ctx, wctx)
}
