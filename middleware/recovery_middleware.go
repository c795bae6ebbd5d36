package middleware

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"

	"hello-rpc/message"
)

// RecoveryMiddleware converts a handler panic into a handler-error response
// so one bad request cannot take down the whole server.
func RecoveryMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) (resp *message.RPCMessage) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic",
						zap.String("method", req.ServiceMethod),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
					resp = message.Errorf(message.CodeHandlerError, "internal error: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}
