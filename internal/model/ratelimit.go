package model

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	Client
	limiter *rate.Limiter
}

// NewRateLimited wraps c so Generate waits on a token bucket of rps
// requests per second. A non-positive rps returns c unchanged.
func NewRateLimited(c Client, rps float64, burst int) Client {
	if rps <= 0 {
		return c
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{Client: c, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimited) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return r.Client.Generate(ctx, req)
}

func (r *rateLimited) Extract(raw json.RawMessage) (*Completion, error) {
	return r.Client.Extract(raw)
}
