// Package codec provides the serialization modes of a rulecache.Cache.
//
// JSON is the structured-text mode; Msgpack and CBOR are binary-object modes.
// The mode is fixed when a cache is constructed; reading bytes written under
// another mode surfaces as a decode error rather than a miss.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
