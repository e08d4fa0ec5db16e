package persistence

import (
	"bytes"
	"encoding/gob"
)

// EncodeValue serializes arbitrary Go values using encoding/gob.
// Callers must ensure that values are gob-encodable and that their concrete
// types have been registered with gob.Register where needed (the api package
// registers Trigger, RunResult and friends).
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// Encode as interface{} so we can safely decode into interface{}.
	var iv = v
	if err := enc.Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue deserializes gob-encoded data produced by EncodeValue.
func DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var iv any
	dec := gob.NewDecoder(bytes.NewBuffer(data))
	if err := dec.Decode(&iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// DecodeStepResults decodes the memoized step-result map, returning an empty
// map for empty input so callers can index it without nil checks.
func DecodeStepResults(data []byte) (map[int]any, error) {
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[int]any{}, nil
	}
	if m, ok := v.(map[int]any); ok {
		return m, nil
	}
	return map[int]any{}, nil
}
