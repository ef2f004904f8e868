package engine

import (
	"github.com/fulldump/unikv/keys"
)

type Direction string

const (
	Next       Direction = "next"
	NextUnique Direction = "nextunique"
	Prev       Direction = "prev"
	PrevUnique Direction = "prevunique"
)

func (d Direction) valid() bool {
	switch d {
	case Next, NextUnique, Prev, PrevUnique:
		return true
	}
	return false
}

// Cursor walks a store or an index. It keeps its position by key, so changes
// made during the walk are visible to the next step.
type Cursor struct {
	Key        any
	PrimaryKey any
	// Value is nil for key cursors
	Value any

	request  *Request
	store    *storeData
	tree     *tree
	rng      *keys.Range
	dir      Direction
	keyOnly  bool
	pos      *entry
	gotValue bool
}

func (c *Cursor) Direction() Direction {
	return c.dir
}

func (c *Cursor) Request() *Request {
	return c.request
}

// Continue moves to the next entry; the cursor request fires again.
func (c *Cursor) Continue() error {
	return c.Advance(1)
}

// Advance skips count entries.
func (c *Cursor) Advance(count int) error {
	if count <= 0 {
		return newError(DataError, "advance count must be positive, got %d", count)
	}
	tx := c.request.Transaction
	if tx.state != txActive {
		return newError(TransactionInactiveError, "transaction is not active")
	}
	if !c.gotValue {
		return newError(InvalidStateError, "cursor is already advancing or exhausted")
	}
	c.gotValue = false

	c.request.ReadyState = RequestPending
	c.request.op = func() (any, *Error) {
		return c.step(count)
	}
	tx.requests = append(tx.requests, c.request)
	tx.kick()

	return nil
}

func (c *Cursor) step(count int) (any, *Error) {
	for i := 0; i < count; i++ {
		e := c.move()
		if e == nil {
			c.pos = nil
			c.Key, c.PrimaryKey, c.Value = nil, nil, nil
			return nil, nil
		}
		c.pos = e
	}

	c.Key = c.pos.key
	c.PrimaryKey = c.pos.primary
	c.Value = nil
	if !c.keyOnly {
		record := c.store.get(c.pos.primary)
		if record == nil {
			return nil, newError(UnknownError, "index entry without record")
		}
		value, err := decodeValue(record.value)
		if err != nil {
			return nil, err
		}
		c.Value = value
	}

	c.gotValue = true
	return c, nil
}

func (c *Cursor) move() *entry {
	switch c.dir {
	case NextUnique:
		var after *entry
		if c.pos != nil {
			after = &entry{key: c.pos.key, bound: 1}
		}
		return seekForward(c.tree, c.rng, after)
	case Prev:
		return seekBackward(c.tree, c.rng, c.pos)
	case PrevUnique:
		var before *entry
		if c.pos != nil {
			before = &entry{key: c.pos.key, bound: -1}
		}
		e := seekBackward(c.tree, c.rng, before)
		if e == nil {
			return nil
		}
		return firstOfKey(c.tree, e.key)
	}
	return seekForward(c.tree, c.rng, c.pos)
}

func openCursor(tx *Transaction, source any, store *storeData, t *tree, query any, dir Direction, keyOnly bool) *Request {
	if dir == "" {
		dir = Next
	}

	c := &Cursor{
		store:   store,
		tree:    t,
		dir:     dir,
		keyOnly: keyOnly,
	}

	r := tx.issue(source, false, func() (any, *Error) {
		if !dir.valid() {
			return nil, newError(DataError, "invalid cursor direction '%s'", dir)
		}
		rng, err := toRange(query, false)
		if err != nil {
			return nil, err
		}
		c.rng = rng
		return c.step(1)
	})
	c.request = r

	return r
}

// toRange accepts nil, a key, a keys.Range or a *keys.Range.
func toRange(query any, required bool) (*keys.Range, *Error) {
	switch q := query.(type) {
	case nil:
		if required {
			return nil, newError(DataError, "a key or key range is required")
		}
		return nil, nil
	case *keys.Range:
		if q == nil {
			return toRange(nil, required)
		}
		r, err := q.Normalize()
		if err != nil {
			return nil, newError(DataError, "%s", err.Error())
		}
		return r, nil
	case keys.Range:
		return toRange(&q, required)
	}

	key, err := keys.Normalize(query)
	if err != nil {
		return nil, newError(DataError, "%s", err.Error())
	}
	return keys.Only(key), nil
}
