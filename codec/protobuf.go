package codec

import "google.golang.org/protobuf/proto"

// Protobuf encodes proto messages. newMsg must return a fresh, empty message.
type Protobuf[T proto.Message] struct {
	newMsg func() T
}

// NewProtobuf builds a Protobuf codec, e.g. NewProtobuf(func() *pb.Ride { return new(pb.Ride) }).
func NewProtobuf[T proto.Message](newMsg func() T) Protobuf[T] {
	return Protobuf[T]{newMsg: newMsg}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) { return proto.Marshal(v) }

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.newMsg()
	err := proto.Unmarshal(b, m)
	return m, err
}
