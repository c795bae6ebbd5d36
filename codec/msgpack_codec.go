package codec

import (
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec serializes with MessagePack (vmihailenco/msgpack).
// Compact binary layout with named fields, so peers can add fields without
// breaking older readers — unknown fields are skipped on decode.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
