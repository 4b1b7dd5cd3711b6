package logic

import (
	"math"
	"reflect"
	"time"
)

// ChannelView is a point-in-time copy of one channel's filter state.
type ChannelView struct {
	Name             string
	Phase            Phase
	StableValue      float64
	HasStable        bool
	LastReading      float64
	HasLast          bool
	LastReadingValid bool
	WindowElapsed    time.Duration
}

// Channel is a named, type-erased handle on one StabilityFilter, so a single
// Monitor can drive integer and float signals side by side.
type Channel interface {
	Name() string
	// Feed converts v to the filter's scalar type and updates the filter.
	Feed(v float64, now time.Time)
	Phase() Phase
	View(now time.Time) ChannelView
	Reset()
}

type channel[T Number] struct {
	name   string
	filter *StabilityFilter[T]
	lo, hi float64 // samples must satisfy lo <= v < hi to convert to T
}

// NewChannel wraps filter under name. Integer filters truncate fractional samples.
func NewChannel[T Number](name string, filter *StabilityFilter[T]) Channel {
	lo, hi := convertible[T]()
	return &channel[T]{name: name, filter: filter, lo: lo, hi: hi}
}

// convertible returns the half-open float64 interval that converts to T
// without overflow.
func convertible[T Number]() (lo, hi float64) {
	t := reflect.TypeFor[T]()
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		limit := math.Ldexp(1, t.Bits()-1)
		return -limit, limit
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return 0, math.Ldexp(1, t.Bits())
	case reflect.Float32:
		return -math.MaxFloat32, math.Nextafter(math.MaxFloat32, math.Inf(1))
	}
	return -math.MaxFloat64, math.Inf(1)
}

func (c *channel[T]) Name() string { return c.name }

// Feed treats a sample that T cannot hold (NaN, infinite, or out of T's
// range) as "no signal" and resets the filter.
func (c *channel[T]) Feed(v float64, now time.Time) {
	if math.IsNaN(v) || v < c.lo || v >= c.hi {
		c.filter.Reset()
		return
	}
	c.filter.Update(T(v), now)
}

func (c *channel[T]) Phase() Phase { return c.filter.Phase() }

func (c *channel[T]) Reset() { c.filter.Reset() }

func (c *channel[T]) View(now time.Time) ChannelView {
	v := ChannelView{
		Name:             c.name,
		Phase:            c.filter.Phase(),
		LastReadingValid: c.filter.LastReadingValid(),
		WindowElapsed:    c.filter.WindowElapsed(now),
	}
	if s, ok := c.filter.StableValue(); ok {
		v.StableValue = float64(s)
		v.HasStable = true
	}
	if l, ok := c.filter.LastReading(); ok {
		v.LastReading = float64(l)
		v.HasLast = true
	}
	return v
}
