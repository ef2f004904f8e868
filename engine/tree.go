package engine

import (
	"github.com/google/btree"

	"github.com/fulldump/unikv/keys"
)

// entry is an item of a store tree (primary == key, value set) or of an index
// tree (key is the index key, primary is the record key). bound is only used
// by seek pivots: -1 sorts before every entry with the same key, +1 after.
type entry struct {
	key     any
	primary any
	value   []byte
	bound   int8
}

func compareEntries(a, b *entry) int {
	if c := keys.Compare(a.key, b.key); c != 0 {
		return c
	}
	if a.bound != 0 || b.bound != 0 {
		return int(a.bound) - int(b.bound)
	}
	if a.primary == nil || b.primary == nil {
		return 0
	}
	return keys.Compare(a.primary, b.primary)
}

type tree = btree.BTreeG[*entry]

func newTree() *tree {
	return btree.NewG(32, func(a, b *entry) bool {
		return compareEntries(a, b) < 0
	})
}

func lowerPivot(r *keys.Range) *entry {
	if !r.HasLower() {
		return nil
	}
	if r.LowerOpen {
		return &entry{key: r.Lower, bound: 1}
	}
	return &entry{key: r.Lower, bound: -1}
}

func upperPivot(r *keys.Range) *entry {
	if !r.HasUpper() {
		return nil
	}
	if r.UpperOpen {
		return &entry{key: r.Upper, bound: -1}
	}
	return &entry{key: r.Upper, bound: 1}
}

// seekForward returns the first entry inside r strictly after `after` (or
// the first entry inside r when after is nil).
func seekForward(t *tree, r *keys.Range, after *entry) *entry {
	upper := upperPivot(r)

	var found *entry
	visit := func(e *entry) bool {
		if after != nil && compareEntries(e, after) <= 0 {
			return true
		}
		if upper != nil && compareEntries(e, upper) > 0 {
			return false
		}
		found = e
		return false
	}

	pivot := lowerPivot(r)
	if after != nil && (pivot == nil || compareEntries(after, pivot) > 0) {
		pivot = after
	}
	if pivot == nil {
		t.Ascend(visit)
	} else {
		t.AscendGreaterOrEqual(pivot, visit)
	}

	return found
}

// seekBackward returns the last entry inside r strictly before `before` (or
// the last entry inside r when before is nil).
func seekBackward(t *tree, r *keys.Range, before *entry) *entry {
	lower := lowerPivot(r)

	var found *entry
	visit := func(e *entry) bool {
		if before != nil && compareEntries(e, before) >= 0 {
			return true
		}
		if lower != nil && compareEntries(e, lower) < 0 {
			return false
		}
		found = e
		return false
	}

	pivot := upperPivot(r)
	if before != nil && (pivot == nil || compareEntries(before, pivot) < 0) {
		pivot = before
	}
	if pivot == nil {
		t.Descend(visit)
	} else {
		t.DescendLessOrEqual(pivot, visit)
	}

	return found
}

// firstOfKey returns the entry with the lowest primary key for key.
func firstOfKey(t *tree, key any) *entry {
	var found *entry
	t.AscendGreaterOrEqual(&entry{key: key, bound: -1}, func(e *entry) bool {
		if keys.Compare(e.key, key) == 0 {
			found = e
		}
		return false
	})
	return found
}

func ascendRange(t *tree, r *keys.Range, f func(e *entry) bool) {
	var e *entry
	for {
		e = seekForward(t, r, e)
		if e == nil || !f(e) {
			return
		}
	}
}

func countRange(t *tree, r *keys.Range) int {
	if r == nil {
		return t.Len()
	}
	n := 0
	ascendRange(t, r, func(e *entry) bool {
		n++
		return true
	})
	return n
}
