package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"hello-rpc/message"
)

// RateLimitMiddleware rejects calls beyond r per second with a burst
// allowance, using a token bucket shared by all connections.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return message.Errorf(message.CodeResourceExhausted, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
