// Package interval implements the fixed-width numeric interval arithmetic
// that the sharded engine routes rows through: each value
// maps to a half-open [lower, upper) bucket of width w offset by a base b,
// and the bucket's lower bound, in decimal, is its canonical on-disk name.
package interval

import (
	"fmt"
	"strconv"
)

// Interval is a half-open numeric range [Lower, Upper).
type Interval struct {
	Lower int64
	Upper int64
}

// Contains reports whether v falls in [Lower, Upper).
func (iv Interval) Contains(v int64) bool {
	return v >= iv.Lower && v < iv.Upper
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d,%d)", iv.Lower, iv.Upper)
}

// Provider is the contract the sharded engine routes through: map a value to
// its interval, advance to a following interval, and convert an interval to
// and from its canonical on-disk name.
type Provider interface {
	GetInterval(value int64) Interval
	NextInterval(current Interval, factor int64) Interval
	GetName(iv Interval) string
	// GetIntervalByName parses a canonical name back into an interval; ok is
	// false if name is not a valid interval name for this provider.
	GetIntervalByName(name string) (iv Interval, ok bool)
	// Less provides the comparator used to order intervals, e.g. for
	// directory listings or an ordered shard index.
	Less(a, b Interval) bool
}

// Int64Provider realises fixed-width intervals of width Width offset by
// Base: for x, diff = |x - base| mod width; if x >= base the interval is
// [x-diff, x-diff+width), otherwise it is the interval ending just above x.
type Int64Provider struct {
	Width int64
	Base  int64
}

// NewInt64Provider validates width and returns a ready provider.
func NewInt64Provider(width, base int64) (*Int64Provider, error) {
	if width <= 0 {
		return nil, fmt.Errorf("interval: width must be positive, got %d", width)
	}
	return &Int64Provider{Width: width, Base: base}, nil
}

// GetInterval returns the half-open [lower, upper) interval containing x.
func (p *Int64Provider) GetInterval(x int64) Interval {
	d := x - p.Base
	if d < 0 {
		d = -d
	}
	diff := d % p.Width

	if x >= p.Base {
		lower := x - diff
		return Interval{Lower: lower, Upper: lower + p.Width}
	}

	var upper int64
	if diff == 0 {
		upper = x + p.Width
	} else {
		upper = x + diff
	}
	return Interval{Lower: upper - p.Width, Upper: upper}
}

// NextInterval advances factor widths beyond current's lower bound.
func (p *Int64Provider) NextInterval(current Interval, factor int64) Interval {
	return p.GetInterval(current.Lower + factor*p.Width)
}

// GetName renders an interval's lower bound in decimal; it is the interval's
// canonical key, used as the shard file's base name.
func (p *Int64Provider) GetName(iv Interval) string {
	return strconv.FormatInt(iv.Lower, 10)
}

// GetIntervalByName parses name and re-derives the canonical interval
// through GetInterval, so that a name produced for one interval always maps
// back to an equal interval even for negative bounds.
func (p *Int64Provider) GetIntervalByName(name string) (Interval, bool) {
	lower, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return Interval{}, false
	}
	return p.GetInterval(lower), true
}

// Less orders intervals by lower bound.
func (p *Int64Provider) Less(a, b Interval) bool {
	return a.Lower < b.Lower
}
