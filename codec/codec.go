// Package codec turns cache values into bytes for the wire transport.
package codec

// Codec encodes values of type V to bytes and back.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// String passes string values through as raw bytes.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }

// Bytes is the identity codec. Decode copies so callers may reuse b.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return append([]byte(nil), b...), nil }

var (
	_ Codec[string] = String{}
	_ Codec[[]byte] = Bytes{}
)
