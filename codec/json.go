package codec

import "encoding/json"

// JSON is a Codec backed by encoding/json. Slowest of the bundled codecs but
// trivially inspectable in storage dumps.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
