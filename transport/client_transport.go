// Package transport implements the client-side transport layer with
// multiplexing, server-stream routing, and heartbeat.
//
// ClientTransport allows multiple concurrent RPC calls over a single TCP
// connection. Each call gets a unique sequence ID, and a background goroutine
// (recvLoop) continuously reads frames and routes them to the right caller:
// unary responses resolve a pending channel, stream frames feed a per-call
// StreamConn until the server sends StreamEnd.
//
//	goroutine-1 ──Send(seq=1)───────┐
//	goroutine-2 ──OpenStream(seq=2)─┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)───────┘
//
//	recvLoop:  ←── response(seq=3)    → pending[3]  → goroutine-3 wakes up
//	           ←── stream data(seq=2) → streams[2]  → goroutine-2's next Recv
package transport

import (
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"hello-rpc/codec"
	"hello-rpc/message"
	"hello-rpc/protocol"
)

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn        // Underlying TCP connection
	codec   codec.CodecType // Serialization format for this transport
	seq     uint32          // Monotonically increasing sequence number (protected by sending mutex)
	pending sync.Map        // map[uint32]chan *message.RPCMessage — each unary call waits on its own channel
	streams sync.Map        // map[uint32]*StreamConn — open server streams by seq
	sending sync.Mutex      // Write lock — multiple goroutines share one conn, writes must be serialized
	//                        to prevent frame interleaving (call A's header + call B's body = corruption)
	broken    atomic.Bool   // Set when the connection dies; the pool discards broken transports
	done      chan struct{} // Closed by Close; stops the heartbeat loop
	closeOnce sync.Once
}

// NewClientTransport creates a transport for the given connection and starts
// two background goroutines:
//   - recvLoop: reads frames from the connection and dispatches them to callers
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
func NewClientTransport(conn net.Conn, codecType codec.CodecType) *ClientTransport {
	t := &ClientTransport{
		conn:  conn,
		codec: codecType,
		done:  make(chan struct{}),
	}
	go t.recvLoop()
	go t.heartbeatLoop(30 * time.Second)
	return t
}

// Send serializes and sends a unary request over the connection.
// Returns the sequence number and a channel that will receive the response.
//
// The sending mutex ensures the whole frame (header + body) is written
// atomically; without it, concurrent writes would interleave bytes from
// different calls and corrupt the TCP stream.
func (t *ClientTransport) Send(serviceMethod string, args any) (uint32, <-chan *message.RPCMessage, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	body, err := t.encodeEnvelope(serviceMethod, args)
	if err != nil {
		return 0, nil, err
	}

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	// Register the response channel BEFORE writing, or recvLoop could see the
	// response first and drop it. Buffered so recvLoop never blocks here.
	respChan := make(chan *message.RPCMessage, 1)
	t.pending.Store(seq, respChan)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		t.broken.Store(true)
		return 0, nil, err
	}

	return seq, respChan, nil
}

// Abandon drops the pending entry for a unary call whose caller gave up
// (deadline expired). A late response for that seq is discarded by recvLoop.
func (t *ClientTransport) Abandon(seq uint32) {
	t.pending.Delete(seq)
}

// OpenStream sends a stream-open request and returns the StreamConn the
// server's stream elements will be routed to. The caller must Close the
// StreamConn on every exit path, including early termination.
func (t *ClientTransport) OpenStream(serviceMethod string, args any) (*StreamConn, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	body, err := t.encodeEnvelope(serviceMethod, args)
	if err != nil {
		return nil, err
	}

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeStreamRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	sc := &StreamConn{
		t:    t,
		seq:  seq,
		ch:   make(chan *message.RPCMessage, 16),
		done: make(chan struct{}),
	}
	t.streams.Store(seq, sc)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.streams.Delete(seq)
		t.broken.Store(true)
		return nil, err
	}

	return sc, nil
}

func (t *ClientTransport) encodeEnvelope(serviceMethod string, args any) ([]byte, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	env := message.RPCMessage{
		ServiceMethod: serviceMethod,
		Payload:       payload,
	}
	return codec.GetCodec(t.codec).Encode(&env)
}

// recvLoop runs in a dedicated goroutine, continuously reading frames.
//
// Why a single reader? TCP is a byte stream — reads must be sequential to
// parse frame boundaries correctly. Responses can arrive in any order across
// calls; the seq routes each one to the right waiter.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			// Connection broken — wake every pending caller and open stream.
			t.broken.Store(true)
			t.failAll(err)
			return
		}

		env := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, env); err != nil {
			env = message.Errorf(message.CodeDecodeError, "decode response envelope: %v", err)
		}

		switch header.MsgType {
		case protocol.MsgTypeResponse:
			if ch, ok := t.pending.LoadAndDelete(header.Seq); ok {
				ch.(chan *message.RPCMessage) <- env
			}
		case protocol.MsgTypeStreamData:
			if sc, ok := t.streams.Load(header.Seq); ok {
				sc.(*StreamConn).push(env)
			}
		case protocol.MsgTypeStreamEnd:
			if sc, ok := t.streams.LoadAndDelete(header.Seq); ok {
				sc.(*StreamConn).finish(env)
			}
		default:
			// Request-direction frames have no business arriving here; drop.
		}
	}
}

// failAll is called when the connection breaks. Every pending unary caller
// gets an error response and every open stream is terminated, so nobody
// blocks forever on a dead connection.
func (t *ClientTransport) failAll(err error) {
	t.pending.Range(func(key, value any) bool {
		value.(chan *message.RPCMessage) <- message.Errorf(message.CodeUnavailable, "connection lost: %v", err)
		return true
	})
	t.pending.Range(func(key, _ any) bool {
		t.pending.Delete(key)
		return true
	})

	t.streams.Range(func(key, value any) bool {
		value.(*StreamConn).finish(message.Errorf(message.CodeUnavailable, "connection lost: %v", err))
		return true
	})
	t.streams.Range(func(key, _ any) bool {
		t.streams.Delete(key)
		return true
	})
}

// sendCancel tells the server to stop producing for the given stream.
func (t *ClientTransport) sendCancel(seq uint32) error {
	header := &protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeCancel,
		Seq:       seq,
	}
	t.sending.Lock()
	defer t.sending.Unlock()
	return protocol.Encode(t.conn, header, nil)
}

// heartbeatLoop sends periodic heartbeat frames so an otherwise idle
// connection is noticed as dead by either side. Heartbeats have no body.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			CodecType: byte(t.codec),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		// Heartbeat writes also need the sending lock to avoid frame interleaving
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.broken.Store(true)
			return
		}
	}
}

// Broken reports whether the underlying connection has failed.
func (t *ClientTransport) Broken() bool {
	return t.broken.Load()
}

// Close stops the heartbeat loop and tears down the underlying connection.
// recvLoop observes the closed connection and fails all outstanding calls.
func (t *ClientTransport) Close() error {
	t.broken.Store(true)
	t.closeOnce.Do(func() { close(t.done) })
	return t.conn.Close()
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}
