package proxy

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// CodecName is the wire name of the pass-through codec. It replaces the
// default proto codec on the gateway's server and upstream connection.
const CodecName = "proto"

// Frame holds one undecoded message.
type Frame struct {
	payload []byte
}

// NewFrame creates a new Frame with the given payload.
func NewFrame(payload []byte) *Frame {
	return &Frame{payload: payload}
}

// Payload returns the frame payload.
func (f *Frame) Payload() []byte {
	return f.payload
}

// Codec passes Frames through as raw bytes and falls back to protobuf for
// real messages, so locally registered services keep working.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *Frame:
		return m.payload, nil
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("proxy codec: cannot marshal %T", v)
	}
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *Frame:
		m.payload = append(m.payload[:0], data...)
		return nil
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("proxy codec: cannot unmarshal into %T", v)
	}
}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return CodecName
}
