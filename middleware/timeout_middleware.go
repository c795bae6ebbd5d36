package middleware

import (
	"context"
	"time"

	"hello-rpc/message"
)

// TimeoutMiddleware bounds handler execution. The handler runs in its own
// goroutine; if the deadline fires first, the caller gets a timeout response
// and the goroutine is left to finish into a buffered channel.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Errorf(message.CodeTimeout, "request timed out after %s", timeout)
			}
		}
	}
}
