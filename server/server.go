// Package server implements the RPC server with service registration,
// middleware chain, parallel request processing, server streaming, and
// graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → unary request:  go handleRequest → decode → middleware chain → reflect.Call → write response
//	  → stream request: go handleStream  → decode → reflect.Call(handler, stream) → StreamData* → StreamEnd
//	  → cancel frame:   cancel the stream context registered under that seq
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hello-rpc/codec"
	"hello-rpc/message"
	"hello-rpc/middleware"
	"hello-rpc/protocol"
	"hello-rpc/registry"
)

// Server is the RPC server that registers services and handles incoming calls.
type Server struct {
	serviceMap    map[string]*service     // Registered services: "Greeter" → *service
	listener      net.Listener            // TCP listener
	wg            sync.WaitGroup          // Tracks in-flight calls for graceful shutdown
	shutdown      atomic.Bool             // Set during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware // Applied in registration order around unary dispatch
	handler       middleware.HandlerFunc  // middleware(middleware(...(unaryHandler)))
	registry      registry.Registry       // Service registry (etcd), nil if not using discovery
	advertiseAddr string                  // Address registered in etcd (e.g., "127.0.0.1:50051") —
	//                                      differs from the listen address (":50051"), which is not routable
	log        *zap.Logger
	totalCalls atomic.Uint64 // Process-wide call counter, logging only
}

// NewServer creates an RPC server with an empty service map.
// A nil logger disables server logging.
func NewServer(log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		serviceMap: make(map[string]*service),
		log:        log,
	}
}

// Register registers a service receiver (e.g., &greeter.Greeter{}) with the
// server. Exported methods matching either RPC shape become callable:
//
//	unary:     M(args *A, reply *R) error
//	streaming: M(args *A, stream *Stream) error
func (svr *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// Use registers a middleware. Middlewares wrap unary dispatch in the order
// they are added. Stream handlers run outside the chain; they get panic
// recovery directly in handleStream.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve starts the server: listens on the given address, optionally registers
// with the registry, and enters the Accept loop.
//
// advertiseAddr is the address stored in the registry; pass reg=nil to skip
// service discovery entirely.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = listener

	// Build the middleware chain once at startup, not per request.
	svr.handler = middleware.Chain(svr.middlewares...)(svr.unaryHandler)

	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		for serviceName := range svr.serviceMap {
			if err := reg.Register(serviceName, registry.ServiceInstance{
				Addr: advertiseAddr,
			}, 10); err != nil { // TTL = 10 seconds, KeepAlive renews automatically
				svr.log.Warn("registry registration failed",
					zap.String("service", serviceName), zap.Error(err))
			}
		}
	}

	svr.log.Info("server listening", zap.String("addr", listener.Addr().String()))

	// Accept loop: one goroutine per connection.
	for {
		conn, err := listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() makes Accept fail; the flag
			// distinguishes intentional close from a real error.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listener address, useful when serving on ":0".
func (svr *Server) Addr() net.Addr {
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// activeStreams tracks cancel functions for the streams open on one
// connection, so a Cancel frame (or connection loss) stops production.
type activeStreams struct {
	mu      sync.Mutex
	cancels map[uint32]context.CancelFunc
}

func (a *activeStreams) add(seq uint32, cancel context.CancelFunc) {
	a.mu.Lock()
	a.cancels[seq] = cancel
	a.mu.Unlock()
}

func (a *activeStreams) remove(seq uint32) {
	a.mu.Lock()
	delete(a.cancels, seq)
	a.mu.Unlock()
}

func (a *activeStreams) cancel(seq uint32) {
	a.mu.Lock()
	if cancel, ok := a.cancels[seq]; ok {
		cancel()
		delete(a.cancels, seq)
	}
	a.mu.Unlock()
}

func (a *activeStreams) cancelAll() {
	a.mu.Lock()
	for seq, cancel := range a.cancels {
		cancel()
		delete(a.cancels, seq)
	}
	a.mu.Unlock()
}

// handleConn processes a single TCP connection.
// Reads run in this one goroutine (frame boundaries require a single reader);
// each call is dispatched to its own goroutine for parallel processing.
//
// The per-connection write mutex is shared by all call goroutines on this
// connection, preventing response frames from interleaving.
func (svr *Server) handleConn(conn net.Conn) {
	writeMu := &sync.Mutex{}
	streams := &activeStreams{cancels: make(map[uint32]context.CancelFunc)}
	defer func() {
		// Connection gone — stop every stream still producing for it.
		streams.cancelAll()
		conn.Close()
	}()

	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return // Connection closed or protocol error
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			// KeepAlive only, nothing to do.
		case protocol.MsgTypeCancel:
			streams.cancel(header.Seq)
		case protocol.MsgTypeRequest:
			// One goroutine per request: a slow handler must not block other
			// calls multiplexed on the same connection.
			// Add before spawning so Shutdown's Wait cannot slip between
			// the goroutine starting and it registering itself.
			svr.wg.Add(1)
			go svr.handleRequest(header, body, conn, writeMu)
		case protocol.MsgTypeStreamRequest:
			svr.wg.Add(1)
			go svr.handleStream(header, body, conn, writeMu, streams)
		default:
			svr.log.Warn("dropping unexpected frame",
				zap.Uint32("seq", header.Seq), zap.Uint8("msg_type", uint8(header.MsgType)))
		}
	}
}

// handleRequest processes one unary call: decode → middleware chain →
// handler → encode → write response.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()
	svr.totalCalls.Add(1)

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	req := &message.RPCMessage{}
	var resp *message.RPCMessage
	if err := c.Decode(body, req); err != nil {
		resp = message.Errorf(message.CodeDecodeError, "decode request envelope: %v", err)
	} else {
		resp = svr.handler(context.Background(), req)
	}

	svr.writeMessage(conn, writeMu, c, protocol.MsgTypeResponse, header.Seq, resp)
}

// handleStream processes one server-streaming call. The handler runs in this
// goroutine, sending elements through the Stream; a Cancel frame or
// connection loss cancels the stream context and Send starts failing.
func (svr *Server) handleStream(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex, streams *activeStreams) {
	defer svr.wg.Done()
	svr.totalCalls.Add(1)

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	req := &message.RPCMessage{}
	if err := c.Decode(body, req); err != nil {
		svr.writeMessage(conn, writeMu, c, protocol.MsgTypeStreamEnd, header.Seq,
			message.Errorf(message.CodeDecodeError, "decode request envelope: %v", err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streams.add(header.Seq, cancel)
	defer streams.remove(header.Seq)

	stream := &Stream{
		ctx:           ctx,
		conn:          conn,
		writeMu:       writeMu,
		codec:         c,
		seq:           header.Seq,
		serviceMethod: req.ServiceMethod,
	}

	end := svr.runStreamHandler(ctx, req, stream)

	// A canceled stream means the client stopped consuming; it has already
	// released its end, so there is nobody left to read a StreamEnd.
	if ctx.Err() != nil {
		svr.log.Info("stream canceled by client",
			zap.String("method", req.ServiceMethod), zap.Uint32("seq", header.Seq))
		return
	}
	svr.writeMessage(conn, writeMu, c, protocol.MsgTypeStreamEnd, header.Seq, end)
}

// runStreamHandler resolves and invokes the streaming method, converting
// panics and handler errors into the terminal envelope.
func (svr *Server) runStreamHandler(ctx context.Context, req *message.RPCMessage, stream *Stream) (end *message.RPCMessage) {
	defer func() {
		if r := recover(); r != nil {
			svr.log.Error("stream handler panic",
				zap.String("method", req.ServiceMethod), zap.Any("panic", r))
			end = message.Errorf(message.CodeHandlerError, "internal error: %v", r)
		}
	}()

	svc, mt, errMsg := svr.resolveStream(req.ServiceMethod)
	if errMsg != nil {
		return errMsg
	}

	argv, err := mt.newArgs(req.Payload)
	if err != nil {
		return message.Errorf(message.CodeDecodeError, "decode args: %v", err)
	}

	if err := svc.callStream(mt, argv, stream); err != nil {
		if ctx.Err() != nil {
			return message.Errorf(message.CodeCanceled, "stream canceled")
		}
		return message.Errorf(message.CodeHandlerError, "%v", err)
	}
	return &message.RPCMessage{ServiceMethod: req.ServiceMethod}
}

// writeMessage encodes an envelope and writes one frame under the
// per-connection write lock.
func (svr *Server) writeMessage(conn net.Conn, writeMu *sync.Mutex, c codec.Codec, mt protocol.MsgType, seq uint32, msg *message.RPCMessage) {
	body, err := c.Encode(msg)
	if err != nil {
		svr.log.Error("encode response failed", zap.Error(err))
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	h := protocol.Header{
		CodecType: byte(c.Type()),
		MsgType:   mt,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(conn, &h, body); err != nil {
		svr.log.Error("write response failed", zap.Error(err))
	}
}

// TotalCalls reports how many calls this process has dispatched.
func (svr *Server) TotalCalls() uint64 {
	return svr.totalCalls.Load()
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services (clients stop routing here)
//  2. Set the shutdown flag, then close the listener
//  3. Wait for in-flight calls to finish, bounded by timeout
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		for serviceName := range svr.serviceMap {
			if err := svr.registry.Deregister(serviceName, svr.advertiseAddr); err != nil {
				svr.log.Warn("deregister failed", zap.String("service", serviceName), zap.Error(err))
			}
		}
	}

	// Flag before close: otherwise Accept's error races ahead of the flag and
	// Serve returns a spurious error.
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		svr.log.Info("server drained", zap.Uint64("total_calls", svr.totalCalls.Load()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for in-flight calls to finish")
	}
}

// unaryHandler is the core dispatcher wrapped by the middleware chain.
// Flow: parse "Service.Method" → find method → decode args → reflect.Call →
// encode reply → response envelope.
func (svr *Server) unaryHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	svc, mt, errMsg := svr.resolveUnary(req.ServiceMethod)
	if errMsg != nil {
		return errMsg
	}

	argv, err := mt.newArgs(req.Payload)
	if err != nil {
		return message.Errorf(message.CodeDecodeError, "decode args: %v", err)
	}

	replyPayload, err := svc.callUnary(mt, argv)
	if err != nil {
		return message.Errorf(message.CodeHandlerError, "%v", err)
	}

	return &message.RPCMessage{
		ServiceMethod: req.ServiceMethod,
		Payload:       replyPayload,
	}
}
