// Command greeter-client calls SayHello, then consumes a SayHelloStream
// sequence, printing each reply as it arrives. Exits 0 on full success and
// 1 with a stderr diagnostic on any connection, timeout, or decode failure.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"hello-rpc/client"
	"hello-rpc/codec"
	"hello-rpc/greeter"
)

func main() {
	var (
		addr          = flag.String("addr", "localhost:50051", "server address")
		name          = flag.String("name", "World", "name for the unary greeting")
		streamName    = flag.String("stream-name", "Streaming World", "name for the streaming greeting")
		codecName     = flag.String("codec", "json", "wire codec: json or msgpack")
		timeout       = flag.Duration("timeout", time.Second, "unary call deadline")
		streamTimeout = flag.Duration("stream-timeout", 10*time.Second, "whole-stream deadline")
	)
	flag.Parse()

	ct := codec.CodecTypeJSON
	if *codecName == "msgpack" {
		ct = codec.CodecTypeMsgpack
	}

	c := client.NewClient(*addr, ct, 1, nil)
	defer c.Close()
	g := greeter.NewGreeterClient(c)

	if err := run(g, *name, *streamName, *timeout, *streamTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "greeter-client: %v\n", err)
		os.Exit(1)
	}
}

func run(g *greeter.Client, name, streamName string, timeout, streamTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reply, err := g.SayHello(ctx, &greeter.HelloRequest{Name: name})
	if err != nil {
		return fmt.Errorf("SayHello: %w", err)
	}
	fmt.Printf("Greeter client received: %s (Count: %d)\n", reply.Message, reply.GreetingCount)

	fmt.Println("\nStreaming responses:")
	streamCtx, streamCancel := context.WithTimeout(context.Background(), streamTimeout)
	defer streamCancel()

	stream, err := g.SayHelloStream(streamCtx, &greeter.HelloRequest{Name: streamName})
	if err != nil {
		return fmt.Errorf("SayHelloStream: %w", err)
	}
	defer stream.Close()

	for {
		streamReply, err := stream.Recv(streamCtx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream recv: %w", err)
		}
		fmt.Printf("Greeter client received stream: %s (Count: %d)\n",
			streamReply.Message, streamReply.GreetingCount)
	}
}
