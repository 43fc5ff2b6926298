package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOR is a binary-object codec backed by fxamacker/cbor.
// Construct with NewCBOR; the zero value has no encoder.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

// NewCBOR builds a CBOR codec. With canonical set, output uses the RFC 8949
// core deterministic encoding so equal values always produce equal bytes.
// Times are written as RFC3339Nano strings either way.
func NewCBOR[V any](canonical bool) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if canonical {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR is NewCBOR for package-level variables; it panics on error.
func MustCBOR[V any](canonical bool) CBOR[V] {
	c, err := NewCBOR[V](canonical)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.dec.Unmarshal(b, &v)
	return v, err
}
