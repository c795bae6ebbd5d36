// Package protocol implements the binary frame layer for hello-rpc.
//
// TCP delivers a byte stream with no record boundaries, so every message is
// wrapped in a frame: a fixed 14-byte header followed by a variable-length
// body. The receiver reads the header first to learn the body length, then
// reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ hrp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Besides unary request/response, the frame layer carries server streams:
// one StreamRequest is answered by any number of StreamData frames followed
// by exactly one StreamEnd, all sharing the request's seq. A Cancel frame
// from the client stops production early.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "hrp" (hello-rpc protocol).
// Lets the receiver reject non-protocol connections (e.g., an HTTP client
// hitting the wrong port) after the first three bytes.
const (
	MagicByte1 byte = 0x68 // 'h'
	MagicByte2 byte = 0x72 // 'r'
	MagicByte3 byte = 0x70 // 'p'
	Version    byte = 0x01
	HeaderSize int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen caps a single frame body. A corrupt or hostile length field
	// must not make the receiver allocate gigabytes.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes the frame kinds that share one connection.
type MsgType byte

const (
	MsgTypeRequest       MsgType = 0 // Client → Server unary request
	MsgTypeResponse      MsgType = 1 // Server → Client unary response
	MsgTypeStreamRequest MsgType = 2 // Client → Server stream open
	MsgTypeStreamData    MsgType = 3 // Server → Client one stream element
	MsgTypeStreamEnd     MsgType = 4 // Server → Client stream finished (body reports outcome)
	MsgTypeCancel        MsgType = 5 // Client → Server stop producing for this seq (no body)
	MsgTypeHeartbeat     MsgType = 6 // KeepAlive probe (no body)
)

// Codec type constants, mirrored from the codec package to avoid a circular import.
const (
	CodecTypeJSON    byte = 0
	CodecTypeMsgpack byte = 1
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Serialization format of the body: 0=JSON, 1=Msgpack
	MsgType   MsgType // Frame kind, see MsgType constants
	Seq       uint32  // Sequence ID — matches responses and stream elements to their call
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same
// writer, otherwise frames from different calls interleave and corrupt the
// stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize)

	copy(buf[0:3], []byte{MagicByte1, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	// Body may be nil for heartbeat and cancel frames
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, message type, and body
// length. io.ReadFull guarantees exactly N bytes are read, so a truncated
// frame surfaces as an error instead of a short body.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeMsgpack {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}

	msgType := headerBuf[5]
	if msgType > byte(MsgTypeHeartbeat) {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("frame body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
