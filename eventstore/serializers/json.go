// Package serializers provides eventstore.Codec implementations for the data and metadata of records.
package serializers

import (
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/streams-eventstore-go/eventstore"
)

// JSON encodes with json-iterator. Map keys are sorted so equal mappings always encode identically.
type JSON struct {
	api jsoniter.API
}

// NewJSON returns a JSON codec that decodes numbers as float64, like encoding/json.
func NewJSON() JSON {
	return JSON{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

// NewJSONWithNumbers returns a JSON codec that decodes numbers as json.Number to keep integer precision.
func NewJSONWithNumbers() JSON {
	return JSON{api: jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
		UseNumber:              true,
	}.Froze()}
}

func (c JSON) Dump(value any) (string, error) {
	encoded, err := c.config().MarshalToString(value)
	if err != nil {
		return "", errors.Join(eventstore.ErrEncodingFailed, err)
	}

	return encoded, nil
}

func (c JSON) Load(serialized string) (any, error) {
	if !c.config().Valid([]byte(serialized)) {
		return nil, eventstore.ErrDecodingFailed
	}

	var decoded any
	if err := c.config().UnmarshalFromString(serialized, &decoded); err != nil {
		return nil, errors.Join(eventstore.ErrDecodingFailed, err)
	}

	return decoded, nil
}

func (c JSON) config() jsoniter.API {
	if c.api == nil {
		return jsoniter.ConfigCompatibleWithStandardLibrary
	}

	return c.api
}

var _ eventstore.Codec = JSON{}
