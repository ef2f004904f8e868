package keys

import (
	"testing"
	"time"

	. "github.com/fulldump/biff"
)

func TestMarshal_KeepsType(t *testing.T) {
	date := time.Date(2021, 5, 4, 3, 2, 1, 0, time.UTC)
	for _, key := range []any{
		float64(42),
		"hello",
		date,
		[]byte("raw"),
		[]any{float64(1), "two", []any{}},
	} {
		b, err := Marshal(key)
		AssertNil(err)

		decoded, err := Unmarshal(b)
		AssertNil(err)
		AssertEqual(Compare(decoded, key), 0)
	}
}

func TestMarshal_Invalid(t *testing.T) {
	_, err := Marshal(map[string]any{})
	AssertNotNil(err)
}
