package engine

import (
	"github.com/go-json-experiment/json"
)

// Values are kept encoded; every read hands out a fresh decoded copy so
// callers never share state with the store.

func encodeValue(v any) ([]byte, *Error) {
	b, err := json.Marshal(v, json.Deterministic(true))
	if err != nil {
		return nil, newError(DataError, "value is not serializable: %s", err.Error())
	}
	return b, nil
}

func decodeValue(b []byte) (any, *Error) {
	var v any
	err := json.Unmarshal(b, &v)
	if err != nil {
		return nil, newError(UnknownError, "stored value is corrupted: %s", err.Error())
	}
	return v, nil
}

// cloneValue returns the encoded form plus a decoded copy of v, which is what
// key paths are evaluated against.
func cloneValue(v any) ([]byte, any, *Error) {
	b, err := encodeValue(v)
	if err != nil {
		return nil, nil, err
	}
	decoded, err := decodeValue(b)
	if err != nil {
		return nil, nil, err
	}
	return b, decoded, nil
}
