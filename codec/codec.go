// Package codec provides pluggable (de)serialization for values stored
// alongside cached payloads, most commonly the per-entry metadata record.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
