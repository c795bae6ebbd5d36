// Transport pool: a bounded set of reusable ClientTransports per address.
//
// A buffered channel works as the idle queue — it is concurrency-safe and
// blocking-on-empty comes for free. Transports are created lazily up to
// maxConns; a transport whose connection broke is closed and replaced
// instead of being handed out again.
package transport

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned by Get after the pool has been closed.
var ErrPoolClosed = errors.New("transport pool is closed")

// TransportPool manages reusable transports to a single server address.
type TransportPool struct {
	mu         sync.Mutex
	transports chan *ClientTransport // Buffered channel as idle queue — FIFO, goroutine-safe
	addr       string
	maxConns   int
	curConns   int  // Currently live transports (may be < maxConns)
	closed     bool // Set by Close; guards sends on the idle queue
	factory    func(addr string) (*ClientTransport, error)
}

// NewTransportPool creates a pool with the given max size. The pool starts
// empty and grows on demand.
func NewTransportPool(addr string, maxConns int, factory func(addr string) (*ClientTransport, error)) *TransportPool {
	return &TransportPool{
		transports: make(chan *ClientTransport, maxConns),
		addr:       addr,
		maxConns:   maxConns,
		factory:    factory,
	}
}

// Get retrieves a transport from the pool.
// Strategy:
//  1. Take an idle transport if one is queued (discarding broken ones)
//  2. If the pool is under its limit, create a new transport
//  3. Otherwise block until a transport is returned
//
// Once the pool is closed Get returns ErrPoolClosed.
func (p *TransportPool) Get() (*ClientTransport, error) {
	for {
		select {
		case t, ok := <-p.transports:
			if !ok {
				return nil, ErrPoolClosed
			}
			if t.Broken() {
				p.discard(t)
				continue
			}
			return t, nil
		default:
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return nil, ErrPoolClosed
			}
			if p.curConns < p.maxConns {
				p.curConns++
				p.mu.Unlock()
				t, err := p.factory(p.addr)
				if err != nil {
					p.mu.Lock()
					p.curConns--
					p.mu.Unlock()
					return nil, err
				}
				return t, nil
			}
			p.mu.Unlock()
			// At capacity — block until a transport comes back.
			t, ok := <-p.transports
			if !ok {
				return nil, ErrPoolClosed
			}
			if t.Broken() {
				p.discard(t)
				continue
			}
			return t, nil
		}
	}
}

// Put returns a transport to the pool. Broken transports are closed and
// their slot freed so Get can dial a replacement. A transport returned
// after Close is closed instead of being queued.
func (p *TransportPool) Put(t *ClientTransport) {
	p.mu.Lock()
	if p.closed || t.Broken() {
		p.curConns--
		p.mu.Unlock()
		t.Close()
		return
	}
	// Send under the lock so Close cannot close the queue mid-send.
	select {
	case p.transports <- t:
		p.mu.Unlock()
	default:
		// Queue full (shouldn't happen with balanced Get/Put) — drop it.
		p.curConns--
		p.mu.Unlock()
		t.Close()
	}
}

// Close shuts down the pool and every idle transport. Transports currently
// checked out are closed when returned; later Get calls fail with
// ErrPoolClosed. Close is idempotent.
func (p *TransportPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.transports)
	for t := range p.transports {
		t.Close()
		p.curConns--
	}
	return nil
}

func (p *TransportPool) discard(t *ClientTransport) {
	t.Close()
	p.mu.Lock()
	p.curConns--
	p.mu.Unlock()
}

func (p *TransportPool) String() string {
	return fmt.Sprintf("pool(%s, max=%d)", p.addr, p.maxConns)
}
