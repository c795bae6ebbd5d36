package test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"hello-rpc/client"
	"hello-rpc/codec"
	"hello-rpc/greeter"
	"hello-rpc/loadbalance"
	"hello-rpc/middleware"
	"hello-rpc/registry"
	"hello-rpc/server"
)

// TestFullPathFixedAddress drives the whole stack the way the demo binaries
// do: Client → ConnPool → Protocol → Codec → Middleware → Server → Greeter.
func TestFullPathFixedAddress(t *testing.T) {
	svr := server.NewServer(zap.NewNop())
	svr.Use(middleware.RecoveryMiddleware(nil))
	svr.Use(middleware.LoggingMiddleware(nil))
	if err := svr.Register(&greeter.Greeter{StreamCount: 3, StreamInterval: 10 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", "127.0.0.1:0", "", nil)
	time.Sleep(100 * time.Millisecond)
	defer svr.Shutdown(time.Second)

	c := client.NewClient(svr.Addr().String(), codec.CodecTypeMsgpack, 2, nil)
	defer c.Close()
	g := greeter.NewGreeterClient(c)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := g.SayHello(ctx, &greeter.HelloRequest{Name: "World"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Message != "Hello, World!" || reply.GreetingCount != 1 {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	streamCtx, streamCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer streamCancel()
	stream, err := g.SayHelloStream(streamCtx, &greeter.HelloRequest{Name: "Streaming World"})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	want := 1
	for {
		r, err := stream.Recv(streamCtx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if r.GreetingCount != want {
			t.Fatalf("stream out of order: got %d, want %d", r.GreetingCount, want)
		}
		want++
	}
	if want != 4 {
		t.Fatalf("expected 3 stream replies, got %d", want-1)
	}
}

// TestTwoClientsDoNotInterleave runs two independent clients concurrently;
// each stream's counts must be self-contained, starting at 1.
func TestTwoClientsDoNotInterleave(t *testing.T) {
	svr := server.NewServer(nil)
	if err := svr.Register(&greeter.Greeter{StreamCount: 4, StreamInterval: 5 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", "127.0.0.1:0", "", nil)
	time.Sleep(100 * time.Millisecond)
	defer svr.Shutdown(time.Second)
	addr := svr.Addr().String()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := client.NewClient(addr, codec.CodecTypeJSON, 1, nil)
			defer c.Close()
			g := greeter.NewGreeterClient(c)

			ctx := context.Background()
			stream, err := g.SayHelloStream(ctx, &greeter.HelloRequest{Name: "Client"})
			if err != nil {
				t.Error(err)
				return
			}
			defer stream.Close()

			want := 1
			for {
				r, err := stream.Recv(ctx)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					t.Error(err)
					return
				}
				if r.GreetingCount != want {
					t.Errorf("interleaved counts: got %d, want %d", r.GreetingCount, want)
					return
				}
				want++
			}
		}()
	}
	wg.Wait()
}

// TestGracefulShutdownDrains verifies a slow stream finishes before
// Shutdown returns, and that no new connections are accepted afterwards.
func TestGracefulShutdownDrains(t *testing.T) {
	svr := server.NewServer(nil)
	if err := svr.Register(&greeter.Greeter{StreamCount: 3, StreamInterval: 30 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", "127.0.0.1:0", "", nil)
	time.Sleep(100 * time.Millisecond)
	addr := svr.Addr().String()

	c := client.NewClient(addr, codec.CodecTypeJSON, 1, nil)
	defer c.Close()
	g := greeter.NewGreeterClient(c)

	ctx := context.Background()
	stream, err := g.SayHelloStream(ctx, &greeter.HelloRequest{Name: "World"})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	// Shutdown concurrently with the in-flight stream; it must wait.
	done := make(chan error, 1)
	go func() { done <- svr.Shutdown(5 * time.Second) }()

	got := 0
	for {
		_, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got++
	}
	if got != 3 {
		t.Fatalf("stream cut short by shutdown: got %d replies", got)
	}
	if err := <-done; err != nil {
		t.Fatalf("shutdown did not drain cleanly: %v", err)
	}

	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Fatal("listener still accepting after shutdown")
	}
}

// TestDiscoveryMode wires the etcd registry and round-robin balancer.
// Skipped when no local etcd is available.
func TestDiscoveryMode(t *testing.T) {
	conn, err := net.DialTimeout("tcp", "127.0.0.1:2379", 200*time.Millisecond)
	if err != nil {
		t.Skipf("etcd not reachable on 127.0.0.1:2379: %v", err)
	}
	conn.Close()

	reg, err := registry.NewEtcdRegistry([]string{"127.0.0.1:2379"}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	svr := server.NewServer(nil)
	if err := svr.Register(&greeter.Greeter{}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", "127.0.0.1:56051", "127.0.0.1:56051", reg)
	time.Sleep(200 * time.Millisecond)
	defer svr.Shutdown(time.Second)

	c := client.NewDiscoveryClient(reg, &loadbalance.RoundRobinBalancer{}, codec.CodecTypeJSON, 1, nil)
	defer c.Close()
	g := greeter.NewGreeterClient(c)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := g.SayHello(ctx, &greeter.HelloRequest{Name: "Discovered"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Message != "Hello, Discovered!" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}
