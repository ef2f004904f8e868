package iterate

import (
	"testing"
	"time"

	. "github.com/fulldump/biff"

	"github.com/fulldump/unikv/criteria"
	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/request"
)

type outcome struct {
	value any
	err   *request.Error
}

// fixture opens "people" (keyPath id, by_age index) and "scores" (out of
// line keys, numeric values) on a fresh factory.
func fixture(t *testing.T, ages []int, scores []int) (*engine.Factory, *engine.Database) {
	f := engine.NewFactory(engine.Options{})
	t.Cleanup(func() { f.Close() })

	opened := make(chan *engine.Database, 1)
	f.Loop().Post(func() {
		req := f.Open("iterate", 1)
		req.OnUpgradeNeeded = func(db *engine.Database, tx *engine.Transaction, oldVersion, newVersion int) {
			people, _ := tx.CreateObjectStore("people", engine.StoreOptions{KeyPath: "id"})
			people.CreateIndex("by_age", "age", engine.IndexOptions{})
			tx.CreateObjectStore("scores", engine.StoreOptions{})

			for i, age := range ages {
				people.Put(map[string]any{"id": i + 1, "age": age}, nil)
			}
			scoreStore, _ := tx.ObjectStore("scores")
			for i, score := range scores {
				scoreStore.Put(score, i+1)
			}
		}
		req.OnSuccess = func(db *engine.Database) { opened <- db }
		req.OnError = func(err error) { t.Error(err); opened <- nil }
	})

	select {
	case db := <-opened:
		return f, db
	case <-time.After(5 * time.Second):
		t.Fatal("open timed out")
	}
	return nil, nil
}

// query runs c over store (or one of its indexes) inside a readonly
// transaction. wrap, when given, replaces the source handed to Run.
func query(f *engine.Factory, db *engine.Database, store, index string, c *criteria.Criteria, wrap func(Source) Source) outcome {
	result := make(chan outcome, 1)
	f.Loop().Post(func() {
		tx, err := db.Transaction([]string{store}, engine.ReadOnly)
		if err != nil {
			result <- outcome{err: &request.Error{Err: err}}
			return
		}
		s, _ := tx.ObjectStore(store)
		var src Source = s
		if index != "" {
			idx, err := s.Index(index)
			if err != nil {
				result <- outcome{err: &request.Error{Err: err}}
				return
			}
			src = idx
		}
		if wrap != nil {
			src = wrap(src)
		}
		Run(f.Loop(), src, c, request.Meta{Component: store, Operation: "query"}, nil).
			OnDone(func(v any) { result <- outcome{value: v} }).
			OnFailed(func(err *request.Error) { result <- outcome{err: err} })
	})

	select {
	case o := <-result:
		return o
	case <-time.After(5 * time.Second):
		panic("query timed out")
	}
}

func field(values any, name string) []any {
	result := []any{}
	for _, v := range values.([]any) {
		result = append(result, v.(map[string]any)[name])
	}
	return result
}

func sum(acc, value any) any {
	return acc.(float64) + value.(float64)
}

// valuesOnly hides OpenKeyCursor.
type valuesOnly struct {
	Source
}

func TestRun(t *testing.T) {

	f, db := fixture(t, []int{10, 10, 20, 20, 30, 30}, []int{20, 30, 40, 50, 60})

	Alternative("Offset skips raw entries before limit applies", func(a *A) {
		o := query(f, db, "people", "by_age", &criteria.Criteria{Offset: 2, Limit: 2}, nil)
		AssertNil(o.err)
		AssertEqual(field(o.value, "age"), []any{float64(20), float64(20)})
	})

	Alternative("Everything in key order", func(a *A) {
		o := query(f, db, "people", "", nil, nil)
		AssertNil(o.err)
		AssertEqual(field(o.value, "id"), []any{float64(1), float64(2), float64(3), float64(4), float64(5), float64(6)})
	})

	Alternative("Range and direction", func(a *A) {
		o := query(f, db, "people", "by_age", &criteria.Criteria{Ge: 20, Direction: "prev"}, nil)
		AssertNil(o.err)
		AssertEqual(field(o.value, "id"), []any{float64(6), float64(5), float64(4), float64(3)})
	})

	Alternative("Unique directions skip duplicates", func(a *A) {
		o := query(f, db, "people", "by_age", &criteria.Criteria{Direction: "nextunique"}, nil)
		AssertNil(o.err)
		AssertEqual(field(o.value, "age"), []any{float64(10), float64(20), float64(30)})
	})

	Alternative("Reduce without initial value", func(a *A) {
		o := query(f, db, "scores", "", &criteria.Criteria{
			Filter: func(value any, index int) bool { return value.(float64) > 30 },
			Reduce: sum,
		}, nil)
		AssertNil(o.err)
		AssertEqual(o.value, float64(150))
	})

	Alternative("Reduce with initial value", func(a *A) {
		o := query(f, db, "scores", "", &criteria.Criteria{
			Filter:       func(value any, index int) bool { return value.(float64) > 30 },
			Reduce:       sum,
			InitialValue: float64(0),
		}, nil)
		AssertNil(o.err)
		AssertEqual(o.value, float64(150))
	})

	Alternative("Reduce with nothing accepted", func(a *A) {
		o := query(f, db, "scores", "", &criteria.Criteria{
			Filter:       func(value any, index int) bool { return false },
			Reduce:       sum,
			InitialValue: float64(7),
		}, nil)
		AssertNil(o.err)
		AssertEqual(o.value, float64(7))
	})

	Alternative("Filter receives the visitation position", func(a *A) {
		positions := []int{}
		o := query(f, db, "scores", "", &criteria.Criteria{
			Offset: 1,
			Filter: func(value any, index int) bool {
				positions = append(positions, index)
				return index%2 == 0
			},
		}, nil)
		AssertNil(o.err)
		AssertEqual(positions, []int{1, 2, 3, 4})
		AssertEqual(o.value, []any{float64(40), float64(60)})
	})

	Alternative("Rejected values do not count for the limit", func(a *A) {
		o := query(f, db, "scores", "", &criteria.Criteria{
			Filter: func(value any, index int) bool { return value.(float64) >= 40 },
			Limit:  2,
		}, nil)
		AssertNil(o.err)
		AssertEqual(o.value, []any{float64(40), float64(50)})
	})

	Alternative("Match on object fields", func(a *A) {
		o := query(f, db, "people", "", &criteria.Criteria{
			Match: map[string]any{"age": map[string]any{"$gt": float64(15)}},
		}, nil)
		AssertNil(o.err)
		AssertEqual(field(o.value, "id"), []any{float64(3), float64(4), float64(5), float64(6)})
	})

	Alternative("Match on plain values", func(a *A) {
		o := query(f, db, "scores", "", &criteria.Criteria{
			Match:  map[string]any{"value": map[string]any{"$gt": float64(30)}},
			Reduce: sum,
		}, nil)
		AssertNil(o.err)
		AssertEqual(o.value, float64(150))
	})

	Alternative("Key only yields primary keys", func(a *A) {
		o := query(f, db, "people", "by_age", &criteria.Criteria{Eq: 30, KeyOnly: true}, nil)
		AssertNil(o.err)
		AssertEqual(o.value, []any{float64(5), float64(6)})
	})

	Alternative("Key only on a source without key cursors", func(a *A) {
		o := query(f, db, "people", "", &criteria.Criteria{KeyOnly: true}, func(s Source) Source {
			return valuesOnly{s}
		})
		AssertNil(o.value)
		AssertEqual(request.CodeOf(o.err), engine.NonTransientError)
		AssertEqual(o.err.Operation, "query")
	})

	Alternative("Running twice gives the same result", func(a *A) {
		c := &criteria.Criteria{Gt: 10, Limit: 3}
		first := query(f, db, "people", "by_age", c, nil)
		second := query(f, db, "people", "by_age", c, nil)
		AssertNil(first.err)
		AssertEqual(first.value, second.value)
	})
}

func TestRun_LegacyKeyCursor(t *testing.T) {

	f := engine.NewLegacyFactory(engine.Options{})
	defer f.Close()

	result := make(chan outcome, 1)
	f.Loop().Post(func() {
		f.OpenCurrent("legacy", func(db *engine.LegacyDatabase) {
			db.SetVersion(1, func(tx *engine.Transaction) {
				store, _ := tx.CreateObjectStore("items", engine.StoreOptions{})
				store.Put("a", 1)
				Run(f.Loop(), store, &criteria.Criteria{KeyOnly: true}, request.Meta{Component: "items", Operation: "query"}, nil).
					OnDone(func(v any) { result <- outcome{value: v} }).
					OnFailed(func(err *request.Error) { result <- outcome{err: err} })
			}, nil, func(err error) {
				result <- outcome{err: &request.Error{Err: err}}
			}, nil)
		}, func(err error) {
			result <- outcome{err: &request.Error{Err: err}}
		})
	})

	select {
	case o := <-result:
		AssertEqual(request.CodeOf(o.err), engine.NonTransientError)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
}
