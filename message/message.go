// Package message defines the RPC envelope exchanged between client and server.
//
// RPCMessage is the body of every frame carrying a call. It gets serialized by
// the codec layer and wrapped in a protocol frame for transmission over TCP.
// The Payload inside the envelope is always JSON — the pluggable codec covers
// the envelope itself.
package message

import "fmt"

// Code classifies the outcome of a call. Zero means success; everything else
// names a failure class the client maps to a typed error.
type Code int32

const (
	CodeOK                Code = iota
	CodeDecodeError            // malformed envelope or payload bytes
	CodeNotFound               // unknown service or method
	CodeTimeout                // deadline exceeded
	CodeCanceled               // call canceled before completion
	CodeHandlerError           // handler returned an error or panicked
	CodeUnavailable            // no server reachable (set client-side only)
	CodeResourceExhausted      // rejected by rate limiting
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeDecodeError:
		return "decode_error"
	case CodeNotFound:
		return "not_found"
	case CodeTimeout:
		return "timeout"
	case CodeCanceled:
		return "canceled"
	case CodeHandlerError:
		return "handler_error"
	case CodeUnavailable:
		return "unavailable"
	case CodeResourceExhausted:
		return "resource_exhausted"
	}
	return fmt.Sprintf("code_%d", int32(c))
}

// RPCMessage carries the data for a single request, response, or stream element.
//
//   - On request:  ServiceMethod is set, Payload holds the serialized args.
//   - On response: Payload holds the serialized reply; Code and Error are
//     set if the call failed.
//   - On stream end: Payload is empty; Code/Error report how the stream ended.
type RPCMessage struct {
	ServiceMethod string `json:"service_method" msgpack:"service_method"` // Format: "ServiceName.MethodName", e.g., "Greeter.SayHello"
	Code          Code   `json:"code" msgpack:"code"`
	Error         string `json:"error,omitempty" msgpack:"error"`
	Payload       []byte `json:"payload,omitempty" msgpack:"payload"` // JSON-serialized args (request) or reply (response)
}

// OK reports whether the message represents a successful outcome.
func (m *RPCMessage) OK() bool {
	return m.Code == CodeOK
}

// Errorf builds a failure response with the given code and formatted message.
func Errorf(code Code, format string, args ...any) *RPCMessage {
	return &RPCMessage{
		Code:  code,
		Error: fmt.Sprintf(format, args...),
	}
}
