package eventstore

import (
	"fmt"
)

// Codec turns the data and metadata mappings of a Record into transport strings and back.
// Implementations live in the serializers package.
type Codec interface {
	Dump(value any) (string, error)
	Load(serialized string) (any, error)
}

// NormalizeKeys converts decoded values so that every nested mapping is keyed by strings.
// Some decoders produce map[any]any for mappings; the store only works with map[string]any.
func NormalizeKeys(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = NormalizeKeys(item)
		}

		return out

	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = NormalizeKeys(item)
		}

		return out

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = NormalizeKeys(item)
		}

		return out

	default:
		return v
	}
}
