package iterate

import (
	"github.com/SierraSoftworks/connor"

	"github.com/fulldump/unikv/criteria"
	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/loop"
	"github.com/fulldump/unikv/request"
)

// Source is anything a value cursor can be opened on (stores and indexes).
type Source interface {
	OpenCursor(query any, dir engine.Direction) *engine.Request
}

// KeySource can also walk keys only.
type KeySource interface {
	Source
	OpenKeyCursor(query any, dir engine.Direction) *engine.Request
}

// walk is the state of one iteration.
type walk struct {
	c        *criteria.Criteria
	handle   *request.Handle
	index    int
	accepted int
	acc      any
	seeded   bool
	items    []any
}

// Run walks src with the range and direction of c, applying offset, match,
// filter, reduce and limit per entry. The handle resolves with the accepted
// values ([]any, primary keys for KeyOnly) or with the fold value when c has
// Reduce.
func Run(l *loop.Loop, src Source, c *criteria.Criteria, meta request.Meta, fallback request.ErrorHandler) *request.Handle {
	if c == nil {
		c = &criteria.Criteria{}
	}

	var query any
	if r := c.Range(); r != nil {
		query = r
	}

	var native *engine.Request
	if c.KeyOnly {
		keySource, ok := src.(KeySource)
		if !ok {
			return request.Failed(l, meta, fallback, &engine.Error{
				Code:    engine.NonTransientError,
				Message: "key cursors are not available on this source",
			})
		}
		native = keySource.OpenKeyCursor(query, c.Dir())
	} else {
		native = src.OpenCursor(query, c.Dir())
	}

	w := &walk{
		c:      c,
		handle: request.New(l, meta, fallback),
		items:  []any{},
	}
	if c.InitialValue != nil {
		w.acc = c.InitialValue
		w.seeded = true
	}

	native.OnError = func(err error) {
		w.handle.Fail(err)
	}
	native.OnSuccess = func(result any) {
		cursor, _ := result.(*engine.Cursor)
		if cursor == nil {
			w.finish()
			return
		}
		if w.visit(cursor) {
			if err := cursor.Continue(); err != nil {
				w.handle.Fail(err)
			}
		}
	}

	return w.handle
}

// visit processes one entry and reports whether the walk goes on.
func (w *walk) visit(cursor *engine.Cursor) bool {
	c := w.c
	position := w.index
	w.index++

	if position < c.Offset {
		return true
	}

	value := cursor.Value
	if c.KeyOnly {
		value = cursor.PrimaryKey
	}

	if len(c.Match) > 0 {
		matched, err := connor.Match(c.Match, document(value))
		if err != nil {
			w.handle.Fail(&engine.Error{Code: engine.DataError, Message: "match: " + err.Error()})
			return false
		}
		if !matched {
			return true
		}
	}

	if c.Filter != nil && !c.Filter(value, position) {
		return true
	}

	if c.Reduce != nil {
		if w.seeded {
			w.acc = c.Reduce(w.acc, value)
		} else {
			w.acc = value
			w.seeded = true
		}
	} else {
		w.items = append(w.items, value)
	}
	w.accepted++

	if c.Limit > 0 && w.accepted >= c.Limit {
		w.finish()
		return false
	}

	return true
}

// document exposes a value to match conditions. Values that are not objects
// (keys, scalars) are seen as {"value": v}.
func document(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": value}
}

func (w *walk) finish() {
	if w.c.Reduce != nil {
		w.handle.Resolve(w.acc)
		return
	}
	w.handle.Resolve(w.items)
}
