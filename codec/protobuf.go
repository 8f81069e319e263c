package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// Protobuf serializes proto messages. newMsg builds an empty message to decode
// into, e.g. func() *pb.User { return new(pb.User) }.
type Protobuf[T proto.Message] struct {
	newMsg func() T
	opts   proto.MarshalOptions
}

func NewProtobuf[T proto.Message](newMsg func() T) Protobuf[T] {
	return Protobuf[T]{newMsg: newMsg, opts: proto.MarshalOptions{Deterministic: true}}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) { return c.opts.Marshal(v) }

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.newMsg == nil {
		var zero T
		return zero, errors.New("codec: protobuf codec has no message constructor")
	}
	m := c.newMsg()
	err := proto.Unmarshal(b, m)
	return m, err
}
