package keys

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Valid keys, ordered by type: number < date < string < binary < array.
// Numbers are normalized to float64.
const (
	typeInvalid = iota
	typeNumber
	typeDate
	typeString
	typeBinary
	typeArray
)

var ErrInvalidKey = errors.New("invalid key")

// Normalize converts a Go value into its canonical key representation.
func Normalize(v any) (any, error) {
	switch value := v.(type) {
	case float64:
		if math.IsNaN(value) {
			return nil, fmt.Errorf("%w: NaN", ErrInvalidKey)
		}
		return value, nil
	case float32:
		return Normalize(float64(value))
	case int:
		return float64(value), nil
	case int8:
		return float64(value), nil
	case int16:
		return float64(value), nil
	case int32:
		return float64(value), nil
	case int64:
		return float64(value), nil
	case uint:
		return float64(value), nil
	case uint8:
		return float64(value), nil
	case uint16:
		return float64(value), nil
	case uint32:
		return float64(value), nil
	case uint64:
		return float64(value), nil
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
		}
		return Normalize(f)
	case string:
		return value, nil
	case time.Time:
		if value.IsZero() {
			return nil, fmt.Errorf("%w: zero time", ErrInvalidKey)
		}
		return value, nil
	case []byte:
		return value, nil
	case []any:
		result := make([]any, len(value))
		for i, item := range value {
			k, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			result[i] = k
		}
		return result, nil
	case []string:
		result := make([]any, len(value))
		for i, item := range value {
			result[i] = item
		}
		return result, nil
	}

	return nil, fmt.Errorf("%w: type %T", ErrInvalidKey, v)
}

func Valid(v any) bool {
	_, err := Normalize(v)
	return err == nil
}

func typeOf(v any) int {
	switch v.(type) {
	case float64:
		return typeNumber
	case time.Time:
		return typeDate
	case string:
		return typeString
	case []byte:
		return typeBinary
	case []any:
		return typeArray
	}
	return typeInvalid
}

// canonical normalizes v unless it already is.
func canonical(v any) (any, int) {
	if t := typeOf(v); t != typeInvalid {
		return v, t
	}
	n, err := Normalize(v)
	if err != nil {
		return v, typeInvalid
	}
	return n, typeOf(n)
}

// Compare returns -1, 0 or 1. Arguments that are not normalized yet are
// normalized first; invalid keys sort below every valid one.
func Compare(a, b any) int {
	a, ta := canonical(a)
	b, tb := canonical(b)
	if ta != tb {
		if ta < tb {
			return -1
		}
		return 1
	}

	switch a := a.(type) {
	case float64:
		b := b.(float64)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	case time.Time:
		return a.Compare(b.(time.Time))
	case string:
		return strings.Compare(a, b.(string))
	case []byte:
		return bytes.Compare(a, b.([]byte))
	case []any:
		b := b.([]any)
		for i := 0; i < len(a) && i < len(b); i++ {
			if c := Compare(a[i], b[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(a) < len(b):
			return -1
		case len(a) > len(b):
			return 1
		}
		return 0
	}

	return 0
}

func Equal(a, b any) bool {
	return Compare(a, b) == 0
}
