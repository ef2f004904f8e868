package criteria

import (
	"encoding/json"
	"testing"

	. "github.com/fulldump/biff"

	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/keys"
)

func TestEncode(t *testing.T) {

	Alternative("Bare key is returned unchanged", func(a *A) {
		AssertEqual(Encode(7), 7)
		AssertEqual(Encode("k"), "k")
	})

	Alternative("Ranges pass through", func(a *A) {
		r := keys.LowerBound(3, false)
		AssertEqual(Encode(r), r)
	})

	Alternative("Eq ignores every other bound", func(a *A) {
		got := Encode(&Criteria{Eq: 5, Ge: 1, Gt: 2, Le: 9, Lt: 8})
		AssertEqual(got, keys.Only(5))
	})

	Alternative("Ge includes the bound", func(a *A) {
		r := Encode(&Criteria{Ge: 5}).(*keys.Range)
		AssertEqual(r, keys.LowerBound(5, false))
		AssertTrue(r.Includes(float64(5)))
	})

	Alternative("Gt excludes the bound", func(a *A) {
		r := Encode(&Criteria{Gt: 5}).(*keys.Range)
		AssertEqual(r, keys.LowerBound(5, true))
		AssertTrue(!r.Includes(float64(5)))
		AssertTrue(r.Includes(float64(6)))
	})

	Alternative("Upper only", func(a *A) {
		AssertEqual(Encode(&Criteria{Lt: 5}), keys.UpperBound(5, true))
		AssertEqual(Encode(&Criteria{Le: 5}), keys.UpperBound(5, false))
	})

	Alternative("Both bounds", func(a *A) {
		AssertEqual(Encode(Criteria{Ge: 1, Lt: 5}), keys.Bound(1, 5, false, true))
	})

	Alternative("Gt wins over Ge", func(a *A) {
		AssertEqual(Encode(&Criteria{Ge: 1, Gt: 2}), keys.LowerBound(2, true))
	})

	Alternative("No bounds matches everything", func(a *A) {
		AssertNil(Encode(&Criteria{Limit: 3, Direction: "prev"}))
	})
}

func TestDir(t *testing.T) {
	AssertEqual((&Criteria{Direction: "prevunique"}).Dir(), engine.PrevUnique)
	AssertEqual((&Criteria{Direction: "sideways"}).Dir(), engine.Next)
	AssertEqual((*Criteria)(nil).Dir(), engine.Next)
}

func TestCriteria_JSON(t *testing.T) {
	c := &Criteria{}
	err := json.Unmarshal([]byte(`{"gt":18,"direction":"prev","match":{"name":"x"},"limit":2,"index":"by_age"}`), c)
	AssertNil(err)

	AssertEqual(c.Range(), keys.LowerBound(float64(18), true))
	AssertEqual(c.Dir(), engine.Prev)
	AssertEqual(c.Match, map[string]any{"name": "x"})
	AssertEqual(c.Limit, 2)
	AssertEqual(c.Index, "by_age")
}
