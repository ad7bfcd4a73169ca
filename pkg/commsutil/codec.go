package commsutil

import (
	"encoding/json"
	"errors"
	"fmt"
)

const codecLogPrefix = "commsutil:codec"

// ErrEmptyPayload is returned when decoding a message without data.
var ErrEmptyPayload = errors.New("empty payload")

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - encode: %w", codecLogPrefix, err)
	}
	return data, nil
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%s - decode: %w", codecLogPrefix, ErrEmptyPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s - decode: %w", codecLogPrefix, err)
	}
	return nil
}
