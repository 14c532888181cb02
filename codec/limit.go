package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned when a payload exceeds a LimitCodec bound.
var ErrTooLarge = errors.New("codec: payload too large")

// Limit bounds payload size in both directions. Zero disables a bound.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxEncode int
	MaxDecode int
}

var _ Codec[string] = Limit[string]{}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, fmt.Errorf("%w: encoded %d > %d bytes", ErrTooLarge, len(b), c.MaxEncode)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
