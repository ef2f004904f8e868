package request

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/fulldump/biff"

	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/loop"
)

func TestHandle(t *testing.T) {

	l := loop.New()
	defer l.Close()

	meta := Meta{Component: "store", Operation: "get", Args: []any{"users", 1}}

	Alternative("Resolve notifies listeners once", func(a *A) {
		h := New(l, meta, nil)
		results := []any{}
		h.OnDone(func(result any) { results = append(results, result) })
		h.OnFailed(func(err *Error) { results = append(results, err) })

		h.Resolve("first")
		h.Resolve("second")
		h.Fail(errors.New("late"))

		AssertEqual(results, []any{"first"})
		value, err := h.Result()
		AssertNil(err)
		AssertEqual(value, "first")
	})

	Alternative("Fail stamps metadata", func(a *A) {
		h := New(l, meta, nil)
		var got *Error
		h.OnFailed(func(err *Error) { got = err })

		h.Fail(engine.ErrNotFound)

		AssertEqual(got.Component, "store")
		AssertEqual(got.Operation, "get")
		AssertEqual(got.Args, []any{"users", 1})
		AssertTrue(errors.Is(got, engine.ErrNotFound))
		AssertEqual(CodeOf(got), engine.NotFoundError)
		AssertEqual(got.Error(), "store.get(users, 1): NotFoundError")
	})

	Alternative("Unhandled failure goes to the fallback", func(a *A) {
		var handled *Error
		h := New(l, meta, func(err *Error) { handled = err })
		h.OnDone(func(any) {})

		h.Fail(engine.ErrAbort)

		AssertNotNil(handled)
		AssertEqual(CodeOf(handled), engine.AbortError)
	})

	Alternative("Unhandled failure without fallback panics", func(a *A) {
		h := New(l, meta, nil)

		var recovered any
		func() {
			defer func() { recovered = recover() }()
			h.Fail(engine.ErrAbort)
		}()

		_, isError := recovered.(*Error)
		AssertTrue(isError)
	})

	Alternative("Late listeners are posted to the loop", func(a *A) {
		h := New(l, meta, nil)
		h.Resolve(42)

		got := make(chan any, 1)
		h.OnDone(func(result any) { got <- result })

		select {
		case v := <-got:
			AssertEqual(v, 42)
		case <-time.After(time.Second):
			t.Fatal("listener was not called")
		}
	})

	Alternative("Wait", func(a *A) {
		h := New(l, meta, nil)
		l.Post(func() { h.Resolve("ok") })

		value, err := h.Wait(context.Background())
		AssertNil(err)
		AssertEqual(value, "ok")
	})

	Alternative("Wait honours the context", func(a *A) {
		h := New(l, meta, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := h.Wait(ctx)
		AssertEqual(err, context.DeadlineExceeded)
	})

	Alternative("Failed settles on the next loop turn", func(a *A) {
		got := make(chan *Error, 1)
		l.Call(func() {
			h := Failed(l, meta, nil, engine.ErrData)
			h.OnFailed(func(err *Error) { got <- err })
		})

		err := <-got
		AssertEqual(CodeOf(err), engine.DataError)
	})

	Alternative("Rejected only reaches its listeners", func(a *A) {
		h := Rejected(l, meta, engine.ErrVersion)
		_, err := h.Result()
		AssertEqual(CodeOf(err), engine.VersionError)

		got := make(chan *Error, 1)
		h.OnFailed(func(err *Error) { got <- err })
		AssertEqual((<-got).Operation, "get")
	})

	Alternative("Key is shown for join entries", func(a *A) {
		err := &Error{Component: "store", Operation: "put", Key: 2, Err: engine.ErrConstraint}
		AssertEqual(err.Error(), "[2] ConstraintError")
	})
}

func TestWrap(t *testing.T) {
	f := engine.NewFactory(engine.Options{})
	defer f.Close()

	got := make(chan any, 1)
	f.Loop().Post(func() {
		open := f.Open("wrap", 1)
		open.OnUpgradeNeeded = func(db *engine.Database, tx *engine.Transaction, oldVersion, newVersion int) {
			tx.CreateObjectStore("items", engine.StoreOptions{})
		}
		open.OnSuccess = func(db *engine.Database) {
			tx, _ := db.Transaction([]string{"items"}, engine.ReadWrite)
			items, _ := tx.ObjectStore("items")

			put := Wrap(f.Loop(), items.Put("value", "k"), Meta{Component: "store", Operation: "put"}, nil)
			missing := Wrap(f.Loop(), items.Get(nil), Meta{Component: "store", Operation: "get"}, nil)

			put.OnDone(func(result any) {
				missing.OnFailed(func(err *Error) {
					got <- []any{result, CodeOf(err), err.Operation}
				})
			})
		}
	})

	AssertEqual(<-got, []any{"k", engine.DataError, "get"})
}
