package keys

import "fmt"

// Range is the native key range. A nil bound means unbounded on that side.
type Range struct {
	Lower     any  `json:"lower,omitempty"`
	Upper     any  `json:"upper,omitempty"`
	LowerOpen bool `json:"lowerOpen,omitempty"`
	UpperOpen bool `json:"upperOpen,omitempty"`
}

func Only(value any) *Range {
	return &Range{Lower: value, Upper: value}
}

func Bound(lower, upper any, lowerOpen, upperOpen bool) *Range {
	return &Range{Lower: lower, Upper: upper, LowerOpen: lowerOpen, UpperOpen: upperOpen}
}

func LowerBound(lower any, open bool) *Range {
	return &Range{Lower: lower, LowerOpen: open}
}

func UpperBound(upper any, open bool) *Range {
	return &Range{Upper: upper, UpperOpen: open}
}

func (r *Range) HasLower() bool {
	return r != nil && r.Lower != nil
}

func (r *Range) HasUpper() bool {
	return r != nil && r.Upper != nil
}

// Normalize returns a copy with normalized bounds, rejecting empty ranges.
func (r *Range) Normalize() (*Range, error) {
	if r == nil {
		return nil, nil
	}

	result := &Range{LowerOpen: r.LowerOpen, UpperOpen: r.UpperOpen}

	var err error
	if r.Lower != nil {
		result.Lower, err = Normalize(r.Lower)
		if err != nil {
			return nil, fmt.Errorf("lower bound: %w", err)
		}
	}
	if r.Upper != nil {
		result.Upper, err = Normalize(r.Upper)
		if err != nil {
			return nil, fmt.Errorf("upper bound: %w", err)
		}
	}

	if result.Lower != nil && result.Upper != nil {
		c := Compare(result.Lower, result.Upper)
		if c > 0 || (c == 0 && (result.LowerOpen || result.UpperOpen)) {
			return nil, fmt.Errorf("%w: empty range", ErrInvalidKey)
		}
	}

	return result, nil
}

// Includes reports whether a normalized key falls inside the range. A nil
// range includes every key.
func (r *Range) Includes(key any) bool {
	if r == nil {
		return true
	}
	if !r.AboveLower(key) {
		return false
	}
	return r.BelowUpper(key)
}

func (r *Range) AboveLower(key any) bool {
	if !r.HasLower() {
		return true
	}
	c := Compare(key, r.Lower)
	return c > 0 || (c == 0 && !r.LowerOpen)
}

func (r *Range) BelowUpper(key any) bool {
	if !r.HasUpper() {
		return true
	}
	c := Compare(key, r.Upper)
	return c < 0 || (c == 0 && !r.UpperOpen)
}
