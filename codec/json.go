package codec

import "encoding/json"

// JSON is a Codec backed by encoding/json. Mostly useful for debugging stores
// with redis-cli or sqlite3, since records stay human-readable.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
