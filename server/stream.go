package server

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"hello-rpc/codec"
	"hello-rpc/message"
	"hello-rpc/protocol"
)

// Stream is the server-side handle a streaming handler produces into.
// Elements are delivered to the client in Send order; the frame layer never
// reorders frames on one connection.
type Stream struct {
	ctx           context.Context
	conn          net.Conn
	writeMu       *sync.Mutex // Per-connection write lock shared with all other calls on the conn
	codec         codec.Codec
	seq           uint32
	serviceMethod string
}

// Context returns the stream's context. It is canceled when the client sends
// a cancel frame or the connection drops; handlers producing slowly should
// select on it between elements.
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Send delivers one stream element to the client. Returns the context error
// once the client has canceled, so a producing loop terminates promptly.
func (s *Stream) Send(v any) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	env := &message.RPCMessage{
		ServiceMethod: s.serviceMethod,
		Payload:       payload,
	}
	body, err := s.codec.Encode(env)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	h := protocol.Header{
		CodecType: byte(s.codec.Type()),
		MsgType:   protocol.MsgTypeStreamData,
		Seq:       s.seq,
		BodyLen:   uint32(len(body)),
	}
	return protocol.Encode(s.conn, &h, body)
}
