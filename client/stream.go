package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"hello-rpc/transport"
)

// Stream is the consuming end of a server-streaming call. Replies arrive in
// server production order; Recv blocks until the next element, the end of
// the sequence, or the context deadline.
type Stream struct {
	sc        *transport.StreamConn
	pool      *transport.TransportPool
	t         *transport.ClientTransport
	closeOnce sync.Once
}

// Recv decodes the next stream element into reply. It returns io.EOF when
// the server has finished the sequence, a typed error if the stream ended
// abnormally, and ErrTimeout when ctx's deadline expires first.
func (s *Stream) Recv(ctx context.Context, reply any) error {
	select {
	case env, ok := <-s.sc.C():
		if !ok {
			return io.EOF
		}
		if !env.OK() {
			return mapError(env)
		}
		if err := json.Unmarshal(env.Payload, reply); err != nil {
			return fmt.Errorf("%w: stream payload: %v", ErrDecode, err)
		}
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: waiting for stream element", ErrTimeout)
		}
		return ctx.Err()
	}
}

// Close releases the stream. Stopping before the sequence is exhausted sends
// a cancel to the server so it stops producing; either way the transport
// goes back to the pool. Safe to call multiple times and on every exit path.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.sc.Close()
		s.pool.Put(s.t)
	})
	return err
}
