package transport

import (
	"sync"

	"hello-rpc/message"
)

// StreamConn is the client-side end of one server stream: an ordered, finite,
// non-restartable sequence of envelopes for a single seq.
//
// recvLoop is the producer (push/finish), the caller is the consumer (C,
// Close). Elements channel is closed exactly once, by finish; Close only
// closes done, so early termination and normal end cannot race on the same
// close.
type StreamConn struct {
	t         *ClientTransport
	seq       uint32
	ch        chan *message.RPCMessage
	done      chan struct{} // closed when the consumer gives up or the stream ends
	closeOnce sync.Once
	endOnce   sync.Once
}

// C returns the channel stream envelopes arrive on, in production order.
// The channel is closed after the final element (or the final error
// envelope, which carries a non-OK code).
func (s *StreamConn) C() <-chan *message.RPCMessage {
	return s.ch
}

// push delivers one stream element. If the consumer has already closed the
// stream, the element is dropped instead of blocking recvLoop forever.
func (s *StreamConn) push(env *message.RPCMessage) {
	select {
	case s.ch <- env:
	case <-s.done:
	}
}

// finish delivers the terminal envelope (if it carries an error) and closes
// the element channel. Called by recvLoop on StreamEnd or connection loss.
func (s *StreamConn) finish(env *message.RPCMessage) {
	s.endOnce.Do(func() {
		if env != nil && !env.OK() {
			s.push(env)
		}
		s.closeOnce.Do(func() { close(s.done) })
		close(s.ch)
	})
}

// Close releases the stream from the consumer side. If the server is still
// producing, a cancel frame tells it to stop; elements already in flight are
// discarded. Safe to call on every exit path, any number of times.
func (s *StreamConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if _, open := s.t.streams.LoadAndDelete(s.seq); open {
			// Server hasn't sent StreamEnd yet — ask it to stop producing.
			err = s.t.sendCancel(s.seq)
		}
	})
	return err
}
