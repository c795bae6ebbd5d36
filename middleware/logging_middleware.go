package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hello-rpc/message"
)

// LoggingMiddleware logs one line per call: method, duration, and outcome.
func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.ServiceMethod),
				zap.Duration("duration", time.Since(start)),
				zap.Stringer("code", resp.Code),
			}
			if !resp.OK() {
				log.Warn("call failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				log.Info("call served", fields...)
			}
			return resp
		}
	}
}
