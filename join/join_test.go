package join

import (
	"errors"
	"testing"
	"time"

	. "github.com/fulldump/biff"

	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/loop"
	"github.com/fulldump/unikv/request"
)

type outcome struct {
	value any
	err   *request.Error
}

// settle waits for h from outside the loop.
func settle(h *request.Handle) outcome {
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		panic("handle never settled")
	}
	value, err := h.Result()
	if err != nil {
		return outcome{err: err.(*request.Error)}
	}
	return outcome{value: value}
}

func newHandle(l *loop.Loop, operation string) *request.Handle {
	return request.New(l, request.Meta{Component: "store", Operation: operation}, nil)
}

func TestAll(t *testing.T) {

	l := loop.New()
	defer l.Close()

	Alternative("Results keep input order", func(a *A) {
		var h *request.Handle
		l.Call(func() {
			a, b, c := newHandle(l, "put"), newHandle(l, "put"), newHandle(l, "put")
			h = All(l, []any{a, b, c}, nil)
			h.OnDone(func(any) {})
			// complete out of order
			c.Resolve(float64(3))
			a.Resolve(float64(1))
			b.Resolve(float64(2))
		})

		AssertEqual(settle(h).value, []any{float64(1), float64(2), float64(3)})
	})

	Alternative("Plain values resolve without waiting", func(a *A) {
		var h *request.Handle
		l.Call(func() {
			pending := newHandle(l, "get")
			h = All(l, []any{"plain", pending, 7}, nil)
			h.OnDone(func(any) {})
			pending.Resolve("fetched")
		})

		AssertEqual(settle(h).value, []any{"plain", "fetched", 7})
	})

	Alternative("Empty input resolves immediately", func(a *A) {
		h := All(l, nil, nil)
		select {
		case <-h.Done():
		default:
			t.Fatal("empty join is pending")
		}
		AssertEqual(settle(h).value, []any{})
	})

	Alternative("First failure wins", func(a *A) {
		var h *request.Handle
		l.Call(func() {
			first, second, third := newHandle(l, "put"), newHandle(l, "put"), newHandle(l, "put")
			h = All(l, []any{first, second, third}, nil)
			h.OnFailed(func(*request.Error) {})

			third.Resolve("c")
			second.Fail(engine.ErrConstraint)
			first.Resolve("a")
			third.Fail(engine.ErrAbort) // ignored, already settled
		})

		o := settle(h)
		AssertNil(o.value)
		AssertEqual(o.err.Key, 1)
		AssertEqual(o.err.Operation, "put")
		AssertTrue(errors.Is(o.err, engine.ErrConstraint))
	})

	Alternative("Late failure after a failure is tolerated", func(a *A) {
		failures := 0
		var h *request.Handle
		l.Call(func() {
			first, second := newHandle(l, "put"), newHandle(l, "put")
			h = All(l, []any{first, second}, nil)
			h.OnFailed(func(*request.Error) { failures++ })

			first.Fail(engine.ErrData)
			second.Fail(engine.ErrConstraint)
		})

		o := settle(h)
		AssertEqual(o.err.Key, 0)
		AssertEqual(request.CodeOf(o.err), engine.DataError)
		AssertEqual(failures, 1)
	})

	Alternative("Unhandled join failure reaches the fallback", func(a *A) {
		handled := make(chan *request.Error, 1)
		l.Call(func() {
			entry := newHandle(l, "delete")
			All(l, []any{entry}, func(err *request.Error) { handled <- err })
			entry.Fail(engine.ErrNotFound)
		})

		err := <-handled
		AssertEqual(err.Key, 0)
		AssertEqual(request.CodeOf(err), engine.NotFoundError)
	})

	Alternative("Nested joins", func(a *A) {
		var h *request.Handle
		l.Call(func() {
			x, y, z := newHandle(l, "get"), newHandle(l, "get"), newHandle(l, "get")
			inner := All(l, []any{x, y}, nil)
			h = All(l, []any{inner, z, Map(l, map[string]any{}, nil)}, nil)
			h.OnDone(func(any) {})
			y.Resolve("y")
			z.Resolve("z")
			x.Resolve("x")
		})

		AssertEqual(settle(h).value, []any{[]any{"x", "y"}, "z", map[string]any{}})
	})

	Alternative("Nested failure keeps the inner key", func(a *A) {
		var h *request.Handle
		l.Call(func() {
			x, y := newHandle(l, "get"), newHandle(l, "get")
			inner := All(l, []any{x, y}, nil)
			h = All(l, []any{"plain", inner}, nil)
			h.OnFailed(func(*request.Error) {})
			y.Fail(engine.ErrNotFound)
		})

		o := settle(h)
		AssertEqual(o.err.Key, 1)
		inner := &request.Error{}
		AssertTrue(errors.As(o.err.Err, &inner))
		AssertEqual(inner.Key, 1)
		AssertTrue(errors.Is(o.err, engine.ErrNotFound))
	})
}

func TestMap(t *testing.T) {

	l := loop.New()
	defer l.Close()

	Alternative("Results keep the keys", func(a *A) {
		var h *request.Handle
		l.Call(func() {
			alice := newHandle(l, "get")
			h = Map(l, map[string]any{"alice": alice, "bob": 42}, nil)
			h.OnDone(func(any) {})
			alice.Resolve(30)
		})

		AssertEqual(settle(h).value, map[string]any{"alice": 30, "bob": 42})
	})

	Alternative("Failure carries the key", func(a *A) {
		var h *request.Handle
		l.Call(func() {
			alice := newHandle(l, "get")
			h = Map(l, map[string]any{"alice": alice, "bob": 42}, nil)
			h.OnFailed(func(*request.Error) {})
			alice.Fail(engine.ErrNotFound)
		})

		o := settle(h)
		AssertEqual(o.err.Key, "alice")
	})

	Alternative("Empty", func(a *A) {
		AssertEqual(settle(Map(l, nil, nil)).value, map[string]any{})
	})
}
