package client

import (
	"context"
	"errors"
	"fmt"

	"hello-rpc/message"
)

// Sentinel errors the caller can match with errors.Is.
var (
	ErrUnavailable = errors.New("server unavailable")
	ErrTimeout     = errors.New("deadline exceeded")
	ErrDecode      = errors.New("malformed message")
	ErrNotFound    = errors.New("method not found")
	ErrRateLimited = errors.New("rate limited")
)

// HandlerError reports that the server-side handler failed; the server stays
// up and the failure is delivered here instead.
type HandlerError struct {
	Msg string
}

func (e *HandlerError) Error() string {
	return "handler error: " + e.Msg
}

// mapError converts a failed response envelope into the local typed error.
func mapError(msg *message.RPCMessage) error {
	switch msg.Code {
	case message.CodeOK:
		return nil
	case message.CodeDecodeError:
		return fmt.Errorf("%w: %s", ErrDecode, msg.Error)
	case message.CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg.Error)
	case message.CodeTimeout:
		return fmt.Errorf("%w: %s", ErrTimeout, msg.Error)
	case message.CodeCanceled:
		return context.Canceled
	case message.CodeHandlerError:
		return &HandlerError{Msg: msg.Error}
	case message.CodeUnavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg.Error)
	case message.CodeResourceExhausted:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg.Error)
	default:
		return fmt.Errorf("rpc error [%s]: %s", msg.Code, msg.Error)
	}
}
