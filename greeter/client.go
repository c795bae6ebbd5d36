package greeter

import (
	"context"

	"hello-rpc/client"
)

// Client is the typed Greeter stub over a generic RPC client.
type Client struct {
	c *client.Client
}

// NewGreeterClient wraps an RPC client (fixed-address or discovery mode)
// with the Greeter contract.
func NewGreeterClient(c *client.Client) *Client {
	return &Client{c: c}
}

// SayHello performs the unary call. Deadline and cancellation come from ctx.
func (g *Client) SayHello(ctx context.Context, req *HelloRequest) (*HelloReply, error) {
	reply := &HelloReply{}
	if err := g.c.Call(ctx, ServiceName+".SayHello", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// SayHelloStream opens the streaming call. The caller iterates Recv until
// io.EOF and must Close the stream on every exit path.
func (g *Client) SayHelloStream(ctx context.Context, req *HelloRequest) (*ReplyStream, error) {
	s, err := g.c.Stream(ctx, ServiceName+".SayHelloStream", req)
	if err != nil {
		return nil, err
	}
	return &ReplyStream{s: s}, nil
}

// ReplyStream is the lazy sequence of greetings from one SayHelloStream call.
type ReplyStream struct {
	s *client.Stream
}

// Recv returns the next greeting, or io.EOF once the sequence has ended.
func (rs *ReplyStream) Recv(ctx context.Context) (*HelloReply, error) {
	reply := &HelloReply{}
	if err := rs.s.Recv(ctx, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Close releases the stream; stopping early cancels server-side production.
func (rs *ReplyStream) Close() error {
	return rs.s.Close()
}
