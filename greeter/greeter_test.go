package greeter

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hello-rpc/client"
	"hello-rpc/codec"
	"hello-rpc/server"
)

func startGreeter(t *testing.T, g *Greeter) *Client {
	t.Helper()
	svr := server.NewServer(nil)
	require.NoError(t, svr.Register(g))
	go svr.Serve("tcp", "127.0.0.1:0", "", nil)
	time.Sleep(100 * time.Millisecond)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	c := client.NewClient(svr.Addr().String(), codec.CodecTypeJSON, 4, nil)
	t.Cleanup(func() { c.Close() })
	return NewGreeterClient(c)
}

func TestSayHello(t *testing.T) {
	g := startGreeter(t, &Greeter{})

	reply, err := g.SayHello(context.Background(), &HelloRequest{Name: "World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", reply.Message)
	assert.Equal(t, 1, reply.GreetingCount)
}

func TestSayHelloEmbedsName(t *testing.T) {
	g := startGreeter(t, &Greeter{})

	for _, name := range []string{"Alice", "团队", "a b c", ""} {
		reply, err := g.SayHello(context.Background(), &HelloRequest{Name: name})
		require.NoError(t, err)
		assert.Contains(t, reply.Message, name)
		assert.GreaterOrEqual(t, reply.GreetingCount, 1)
	}
}

func TestSayHelloStream(t *testing.T) {
	g := startGreeter(t, &Greeter{StreamCount: 3})

	ctx := context.Background()
	stream, err := g.SayHelloStream(ctx, &HelloRequest{Name: "Streaming World"})
	require.NoError(t, err)
	defer stream.Close()

	var counts []int
	for {
		reply, err := stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Contains(t, reply.Message, "Streaming World")
		counts = append(counts, reply.GreetingCount)
	}

	// Exactly 3 replies, counts strictly increasing from 1, then a clean end.
	assert.Equal(t, []int{1, 2, 3}, counts)
}

func TestSayHelloStreamEarlyStop(t *testing.T) {
	g := startGreeter(t, &Greeter{StreamCount: 100, StreamInterval: 5 * time.Millisecond})

	ctx := context.Background()
	stream, err := g.SayHelloStream(ctx, &HelloRequest{Name: "Quitter"})
	require.NoError(t, err)

	// Consume two elements, then stop. Counts so far must still be 1, 2.
	first, err := stream.Recv(ctx)
	require.NoError(t, err)
	second, err := stream.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.GreetingCount)
	assert.Equal(t, 2, second.GreetingCount)

	require.NoError(t, stream.Close())

	// A fresh call still works: the early stop released its resources.
	reply, err := g.SayHello(ctx, &HelloRequest{Name: "World"})
	require.NoError(t, err)
	assert.Equal(t, 1, reply.GreetingCount)
}

func TestConcurrentStreamsAreIsolated(t *testing.T) {
	g := startGreeter(t, &Greeter{StreamCount: 5, StreamInterval: time.Millisecond})

	// Several streams at once: each must observe its own self-contained
	// 1..5 count sequence, never another stream's.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			stream, err := g.SayHelloStream(ctx, &HelloRequest{Name: "Racer"})
			if !assert.NoError(t, err) {
				return
			}
			defer stream.Close()

			want := 1
			for {
				reply, err := stream.Recv(ctx)
				if errors.Is(err, io.EOF) {
					break
				}
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, want, reply.GreetingCount)
				want++
			}
			assert.Equal(t, 6, want)
		}()
	}
	wg.Wait()
}

func TestConcurrentUnaryCounters(t *testing.T) {
	g := startGreeter(t, &Greeter{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := g.SayHello(context.Background(), &HelloRequest{Name: "World"})
			if assert.NoError(t, err) {
				// Per-call counter: concurrent callers never leak increments
				// into each other.
				assert.Equal(t, 1, reply.GreetingCount)
			}
		}()
	}
	wg.Wait()
}

func TestSayHelloUnavailableServer(t *testing.T) {
	c := client.NewClient("127.0.0.1:1", codec.CodecTypeJSON, 1, nil)
	defer c.Close()
	g := NewGreeterClient(c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := g.SayHello(ctx, &HelloRequest{Name: "World"})
	assert.ErrorIs(t, err, client.ErrUnavailable)
}

func TestStreamRecvDeadline(t *testing.T) {
	g := startGreeter(t, &Greeter{StreamCount: 3, StreamInterval: time.Second})

	stream, err := g.SayHelloStream(context.Background(), &HelloRequest{Name: "Slow"})
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// First element arrives immediately.
	_, err = stream.Recv(ctx)
	require.NoError(t, err)

	// The second is a full second away — the deadline fires first.
	_, err = stream.Recv(ctx)
	assert.ErrorIs(t, err, client.ErrTimeout)
}
