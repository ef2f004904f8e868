package keys

import (
	"errors"
	"math"
	"testing"
	"time"

	. "github.com/fulldump/biff"
)

func TestNormalize(t *testing.T) {
	k, err := Normalize(5)
	AssertNil(err)
	AssertEqual(k, float64(5))

	k, err = Normalize([]any{1, "a"})
	AssertNil(err)
	AssertEqual(k, []any{float64(1), "a"})

	_, err = Normalize(math.NaN())
	AssertTrue(errors.Is(err, ErrInvalidKey))

	_, err = Normalize(nil)
	AssertTrue(errors.Is(err, ErrInvalidKey))

	_, err = Normalize(map[string]any{})
	AssertTrue(errors.Is(err, ErrInvalidKey))
}

func TestCompare_TypeOrder(t *testing.T) {
	date := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ordered := []any{
		float64(-1),
		float64(10),
		date,
		"",
		"b",
		[]byte{0},
		[]any{},
		[]any{float64(1)},
		[]any{float64(1), float64(0)},
	}

	for i := 0; i < len(ordered)-1; i++ {
		AssertEqual(Compare(ordered[i], ordered[i+1]), -1)
		AssertEqual(Compare(ordered[i+1], ordered[i]), 1)
		AssertEqual(Compare(ordered[i], ordered[i]), 0)
	}
}

func TestRange_Includes(t *testing.T) {
	AssertTrue(LowerBound(float64(5), false).Includes(float64(5)))
	AssertEqual(LowerBound(float64(5), true).Includes(float64(5)), false)
	AssertTrue(UpperBound(float64(5), false).Includes(float64(5)))
	AssertEqual(UpperBound(float64(5), true).Includes(float64(5)), false)
	AssertTrue(Only("x").Includes("x"))
	AssertEqual(Only("x").Includes("y"), false)

	var all *Range
	AssertTrue(all.Includes("anything"))
}

func TestRange_Normalize(t *testing.T) {
	r, err := Bound(1, 3, false, true).Normalize()
	AssertNil(err)
	AssertEqual(r.Lower, float64(1))
	AssertEqual(r.Upper, float64(3))

	_, err = Bound(3, 1, false, false).Normalize()
	AssertTrue(errors.Is(err, ErrInvalidKey))

	_, err = Bound(1, 1, true, false).Normalize()
	AssertTrue(errors.Is(err, ErrInvalidKey))
}

func TestRange_IncludesRawBounds(t *testing.T) {
	AssertEqual(LowerBound(5, true).Includes(float64(5)), false)
	AssertTrue(LowerBound(5, true).Includes(float64(6)))
	AssertTrue(LowerBound(5, false).Includes(5))
	AssertEqual(UpperBound(int64(5), true).Includes(5), false)
	AssertTrue(Bound(1, 3, false, false).Includes(uint8(2)))

	AssertEqual(Compare(5, float64(5)), 0)
	AssertEqual(Compare([]string{"a"}, []any{"a"}), 0)
	AssertEqual(Compare(map[string]any{}, float64(-1)), -1)
}
