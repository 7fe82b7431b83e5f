package serializers

import (
	"errors"

	"gopkg.in/yaml.v3"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

// YAML encodes with yaml.v3. Unlike JSON it keeps integers typed across a round trip, timestamps come back as strings.
type YAML struct{}

func NewYAML() YAML {
	return YAML{}
}

func (YAML) Dump(value any) (string, error) {
	encoded, err := yaml.Marshal(value)
	if err != nil {
		return "", errors.Join(eventstore.ErrEncodingFailed, err)
	}

	return string(encoded), nil
}

func (YAML) Load(serialized string) (any, error) {
	var decoded any
	if err := yaml.Unmarshal([]byte(serialized), &decoded); err != nil {
		return nil, errors.Join(eventstore.ErrDecodingFailed, err)
	}

	return eventstore.NormalizeKeys(decoded), nil
}

var _ eventstore.Codec = YAML{}
