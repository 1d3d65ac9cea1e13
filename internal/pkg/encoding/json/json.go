// Package json wraps the jsoniter library configured to be compatible with the standard library.
package json

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"

	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

type RawMessage = jsoniter.RawMessage

// nolint: gochecknoglobals
var api = jsoniter.ConfigCompatibleWithStandardLibrary

func Encode(v any, pretty bool) ([]byte, error) {
	var data []byte
	var err error
	if pretty {
		data, err = api.MarshalIndent(v, "", "  ")
	} else {
		data, err = api.Marshal(v)
	}
	if err != nil {
		return nil, errors.PrefixError(err, "json encoding error")
	}
	return data, nil
}

func EncodeString(v any, pretty bool) (string, error) {
	data, err := Encode(v, pretty)
	return string(data), err
}

func MustEncodeString(v any, pretty bool) string {
	str, err := EncodeString(v, pretty)
	if err != nil {
		panic(err)
	}
	return str
}

func Decode(data []byte, v any) error {
	if err := api.Unmarshal(data, v); err != nil {
		return errors.PrefixError(err, "json decoding error")
	}
	return nil
}

func DecodeString(data string, v any) error {
	return Decode([]byte(data), v)
}

// IsObject returns true if the data is a JSON object.
func IsObject(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '{' && api.Valid(data)
}
