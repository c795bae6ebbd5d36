// Package greeter defines the Greeter service contract and its server-side
// implementation: a unary SayHello and a server-streaming SayHelloStream.
package greeter

import (
	"fmt"
	"time"

	"hello-rpc/server"
)

// ServiceName is the name the service registers and is discovered under.
const ServiceName = "Greeter"

// HelloRequest carries the name to greet. Immutable once constructed.
type HelloRequest struct {
	Name string `json:"name"`
}

// HelloReply is one greeting. GreetingCount starts at 1 and strictly
// increases within a single stream; it is scoped to the call, never shared
// across concurrent calls.
type HelloReply struct {
	Message       string `json:"message"`
	GreetingCount int    `json:"greeting_count"`
}

// DefaultStreamCount is the number of replies SayHelloStream produces when
// not configured otherwise.
const DefaultStreamCount = 3

// Greeter implements the service. The zero value serves with defaults.
type Greeter struct {
	StreamCount    int           // replies per stream; DefaultStreamCount when <= 0
	StreamInterval time.Duration // pause between stream elements, simulating production latency
}

// SayHello answers a single greeting. The counter is scoped to this call, so
// it is always 1 — concurrent callers never observe each other.
func (g *Greeter) SayHello(args *HelloRequest, reply *HelloReply) error {
	reply.Message = fmt.Sprintf("Hello, %s!", args.Name)
	reply.GreetingCount = 1
	return nil
}

// SayHelloStream produces a finite ordered sequence of greetings. The
// counter restarts at 1 for every stream. Between elements the handler
// waits on the stream context so a canceled client stops production
// promptly instead of after the full sleep.
func (g *Greeter) SayHelloStream(args *HelloRequest, stream *server.Stream) error {
	n := g.StreamCount
	if n <= 0 {
		n = DefaultStreamCount
	}

	for i := 1; i <= n; i++ {
		reply := &HelloReply{
			Message:       fmt.Sprintf("Hello %d, %s!", i, args.Name),
			GreetingCount: i,
		}
		if err := stream.Send(reply); err != nil {
			return err
		}

		if g.StreamInterval > 0 && i < n {
			select {
			case <-stream.Context().Done():
				return stream.Context().Err()
			case <-time.After(g.StreamInterval):
			}
		}
	}
	return nil
}
