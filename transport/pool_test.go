package transport

import (
	"net"
	"testing"
	"time"

	"hello-rpc/codec"
)

func TestTransportPoolReuse(t *testing.T) {
	addr := startServer(t)

	dials := 0
	pool := NewTransportPool(addr, 2, func(addr string) (*ClientTransport, error) {
		dials++
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewClientTransport(conn, codec.CodecTypeJSON), nil
	})
	defer pool.Close()

	// Borrow and return the same transport repeatedly: one dial only.
	for i := 0; i < 5; i++ {
		ct, err := pool.Get()
		if err != nil {
			t.Fatal(err)
		}
		pool.Put(ct)
	}
	if dials != 1 {
		t.Fatalf("expected 1 dial, got %d", dials)
	}

	// Two concurrent borrows need a second transport.
	t1, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	t2, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	if dials != 2 {
		t.Fatalf("expected 2 dials, got %d", dials)
	}
	pool.Put(t1)
	pool.Put(t2)
}

func TestTransportPoolReplacesBroken(t *testing.T) {
	addr := startServer(t)

	dials := 0
	pool := NewTransportPool(addr, 1, func(addr string) (*ClientTransport, error) {
		dials++
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewClientTransport(conn, codec.CodecTypeJSON), nil
	})
	defer pool.Close()

	ct, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	ct.Close() // marks it broken
	pool.Put(ct)

	time.Sleep(50 * time.Millisecond)

	replacement, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	if replacement.Broken() {
		t.Fatal("pool handed out a broken transport")
	}
	if dials != 2 {
		t.Fatalf("expected a replacement dial, got %d dials", dials)
	}
	pool.Put(replacement)
}

func TestTransportPoolCloseWithCheckedOut(t *testing.T) {
	addr := startServer(t)

	pool := NewTransportPool(addr, 2, func(addr string) (*ClientTransport, error) {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewClientTransport(conn, codec.CodecTypeJSON), nil
	})

	ct, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}

	// Returning a checked-out transport after Close must not panic;
	// the pool closes it instead of queueing it.
	pool.Put(ct)
	if !ct.Broken() {
		t.Fatal("transport returned after Close was not shut down")
	}

	if _, err := pool.Get(); err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}

	// Close is idempotent.
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}
}
