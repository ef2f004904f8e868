package keys

import (
	"encoding/json"
	"fmt"
	"time"
)

// taggedKey keeps the key type across a JSON round trip (dates and binary
// would otherwise come back as strings).
type taggedKey struct {
	N *float64          `json:"n,omitempty"`
	D *time.Time        `json:"d,omitempty"`
	S *string           `json:"s,omitempty"`
	B []byte            `json:"b,omitempty"`
	A []json.RawMessage `json:"a,omitempty"`
	E bool              `json:"e,omitempty"` // empty array
}

// Marshal encodes a normalized key. The encoding is deterministic, so it can
// be used as a map or storage key.
func Marshal(key any) (json.RawMessage, error) {
	t := taggedKey{}
	switch k := key.(type) {
	case float64:
		t.N = &k
	case time.Time:
		t.D = &k
	case string:
		t.S = &k
	case []byte:
		if k == nil {
			k = []byte{}
		}
		t.B = k
		if len(k) == 0 {
			return json.RawMessage(`{"b":""}`), nil
		}
	case []any:
		if len(k) == 0 {
			t.E = true
		}
		for _, item := range k {
			b, err := Marshal(item)
			if err != nil {
				return nil, err
			}
			t.A = append(t.A, b)
		}
	default:
		return nil, fmt.Errorf("%w: type %T", ErrInvalidKey, key)
	}

	return json.Marshal(t)
}

func Unmarshal(data []byte) (any, error) {
	raw := map[string]json.RawMessage{}
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}

	t := taggedKey{}
	err = json.Unmarshal(data, &t)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}

	switch {
	case t.N != nil:
		return *t.N, nil
	case t.D != nil:
		return *t.D, nil
	case t.S != nil:
		return *t.S, nil
	case raw["b"] != nil:
		if t.B == nil {
			return []byte{}, nil
		}
		return t.B, nil
	case t.E:
		return []any{}, nil
	case t.A != nil:
		result := make([]any, len(t.A))
		for i, item := range t.A {
			k, err := Unmarshal(item)
			if err != nil {
				return nil, err
			}
			result[i] = k
		}
		return result, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrInvalidKey, string(data))
}
