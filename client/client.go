// Package client implements the calling side: unary calls with deadlines,
// lazy server-stream consumption, transport pooling, and typed errors.
//
// A Client runs in one of two modes:
//
//   - fixed:     NewClient dials one known address (the demo default)
//   - discovery: NewDiscoveryClient resolves instances from a registry and
//     picks one per call through a load balancer
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"hello-rpc/codec"
	"hello-rpc/loadbalance"
	"hello-rpc/registry"
	"hello-rpc/transport"
)

// dialTimeout bounds the TCP connect when the pool dials a new transport.
// Without it a dial to an unresponsive host could outlive any call deadline.
const dialTimeout = 3 * time.Second

type Client struct {
	registry  registry.Registry    // nil in fixed mode
	balancer  loadbalance.Balancer // nil in fixed mode
	addr      string               // set in fixed mode
	pools     map[string]*transport.TransportPool
	codecType codec.CodecType
	mu        sync.Mutex
	poolSize  int
	log       *zap.Logger
}

// NewClient creates a fixed-address client talking to one server.
func NewClient(addr string, codecType codec.CodecType, poolSize int, log *zap.Logger) *Client {
	return newClient(addr, nil, nil, codecType, poolSize, log)
}

// NewDiscoveryClient creates a client that resolves server instances from
// the registry and balances calls across them.
func NewDiscoveryClient(reg registry.Registry, bal loadbalance.Balancer, codecType codec.CodecType, poolSize int, log *zap.Logger) *Client {
	return newClient("", reg, bal, codecType, poolSize, log)
}

func newClient(addr string, reg registry.Registry, bal loadbalance.Balancer, codecType codec.CodecType, poolSize int, log *zap.Logger) *Client {
	if poolSize <= 0 {
		poolSize = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		registry:  reg,
		balancer:  bal,
		addr:      addr,
		pools:     make(map[string]*transport.TransportPool),
		codecType: codecType,
		poolSize:  poolSize,
		log:       log,
	}
}

// resolve picks the target address for a call.
func (c *Client) resolve(serviceName string) (string, error) {
	if c.addr != "" {
		return c.addr, nil
	}
	if c.registry == nil || c.balancer == nil {
		return "", fmt.Errorf("%w: client has neither a fixed address nor a registry", ErrUnavailable)
	}
	instances, err := c.registry.Discover(serviceName)
	if err != nil {
		return "", fmt.Errorf("%w: discover %s: %v", ErrUnavailable, serviceName, err)
	}
	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return instance.Addr, nil
}

// getPool returns the transport pool for an address, creating it on first use.
func (c *Client) getPool(addr string) *transport.TransportPool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool, ok := c.pools[addr]
	if !ok {
		pool = transport.NewTransportPool(addr, c.poolSize, func(addr string) (*transport.ClientTransport, error) {
			conn, err := net.DialTimeout("tcp", addr, dialTimeout)
			if err != nil {
				return nil, err
			}
			return transport.NewClientTransport(conn, c.codecType), nil
		})
		c.pools[addr] = pool
		c.log.Info("created transport pool", zap.String("addr", addr), zap.Int("size", c.poolSize))
	}
	return pool
}

func splitServiceMethod(serviceMethod string) (string, error) {
	split := strings.Split(serviceMethod, ".")
	if len(split) != 2 {
		return "", fmt.Errorf("invalid service method format: %q", serviceMethod)
	}
	return split[0], nil
}

// Call performs a unary RPC: encode args, send, wait for the single reply or
// the context deadline, whichever comes first. The transport goes back to
// the pool on every exit path.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	serviceName, err := splitServiceMethod(serviceMethod)
	if err != nil {
		return err
	}

	addr, err := c.resolve(serviceName)
	if err != nil {
		return err
	}

	pool := c.getPool(addr)
	t, err := pool.Get()
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrUnavailable, addr, err)
	}
	defer pool.Put(t)

	seq, ch, err := t.Send(serviceMethod, args)
	if err != nil {
		return fmt.Errorf("%w: send to %s: %v", ErrUnavailable, addr, err)
	}

	select {
	case resp := <-ch:
		if !resp.OK() {
			return mapError(resp)
		}
		if err := json.Unmarshal(resp.Payload, reply); err != nil {
			return fmt.Errorf("%w: reply payload: %v", ErrDecode, err)
		}
		return nil
	case <-ctx.Done():
		// Abandon so a late response for this seq gets dropped, not leaked
		// into the next call's channel.
		t.Abandon(seq)
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %s", ErrTimeout, serviceMethod)
		}
		return ctx.Err()
	}
}

// Stream opens a server-streaming RPC and returns the lazy reply sequence.
// The caller must Close the stream on every exit path; Close is what returns
// the transport to the pool and, on early termination, cancels server-side
// production.
func (c *Client) Stream(ctx context.Context, serviceMethod string, args any) (*Stream, error) {
	serviceName, err := splitServiceMethod(serviceMethod)
	if err != nil {
		return nil, err
	}

	addr, err := c.resolve(serviceName)
	if err != nil {
		return nil, err
	}

	pool := c.getPool(addr)
	t, err := pool.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, addr, err)
	}

	sc, err := t.OpenStream(serviceMethod, args)
	if err != nil {
		pool.Put(t)
		return nil, fmt.Errorf("%w: open stream to %s: %v", ErrUnavailable, addr, err)
	}

	return &Stream{sc: sc, pool: pool, t: t}, nil
}

// Close releases every pooled transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, pool := range c.pools {
		pool.Close()
		delete(c.pools, addr)
	}
	return nil
}
