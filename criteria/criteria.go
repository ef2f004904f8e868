package criteria

import (
	"github.com/fulldump/unikv/engine"
	"github.com/fulldump/unikv/keys"
)

// Criteria describes a query. Eq, when set, is the whole range and the other
// bound fields are ignored.
type Criteria struct {
	Eq any `json:"eq,omitempty"`
	Ge any `json:"ge,omitempty"`
	Gt any `json:"gt,omitempty"`
	Le any `json:"le,omitempty"`
	Lt any `json:"lt,omitempty"`

	// Direction is next, nextunique, prev or prevunique (default next)
	Direction string `json:"direction,omitempty"`

	// Match holds declarative conditions ({"age": {"$gt": 30}}) applied
	// before Filter
	Match map[string]any `json:"match,omitempty"`

	// Filter receives the value and its zero based visitation position
	Filter func(value any, index int) bool `json:"-"`

	// Reduce folds accepted values. Without InitialValue the first accepted
	// value seeds the accumulator.
	Reduce       func(acc, value any) any `json:"-"`
	InitialValue any                      `json:"-"`

	// Offset entries are skipped before filtering
	Offset int `json:"offset,omitempty"`
	// Limit caps the accepted entries, zero means no limit
	Limit int `json:"limit,omitempty"`

	KeyOnly bool `json:"keyOnly,omitempty"`

	// Index names the index to walk instead of the store
	Index string `json:"index,omitempty"`
}

// Encode turns a query into what the engine expects: criteria become a
// *keys.Range (or nil for everything), any other value is returned as is.
func Encode(query any) any {
	switch c := query.(type) {
	case *Criteria:
		if r := c.Range(); r != nil {
			return r
		}
		return nil
	case Criteria:
		return Encode(&c)
	}
	return query
}

// Range returns the key range of the criteria, nil when it is unbounded.
func (c *Criteria) Range() *keys.Range {
	if c == nil {
		return nil
	}

	if c.Eq != nil {
		return keys.Only(c.Eq)
	}

	var lower, upper any
	lowerOpen, upperOpen := false, false

	if c.Ge != nil {
		lower, lowerOpen = c.Ge, false
	}
	if c.Gt != nil {
		lower, lowerOpen = c.Gt, true
	}
	if c.Le != nil {
		upper, upperOpen = c.Le, false
	}
	if c.Lt != nil {
		upper, upperOpen = c.Lt, true
	}

	switch {
	case lower != nil && upper != nil:
		return keys.Bound(lower, upper, lowerOpen, upperOpen)
	case lower != nil:
		return keys.LowerBound(lower, lowerOpen)
	case upper != nil:
		return keys.UpperBound(upper, upperOpen)
	}

	return nil
}

// Dir maps Direction to the engine one, unknown values walk forward.
func (c *Criteria) Dir() engine.Direction {
	if c == nil {
		return engine.Next
	}
	switch d := engine.Direction(c.Direction); d {
	case engine.Next, engine.NextUnique, engine.Prev, engine.PrevUnique:
		return d
	}
	return engine.Next
}
