package logic

import "time"

// StabilityFilter decides when a noisy, periodically sampled signal has
// settled. Readings must stay within Tolerance of their immediate predecessor
// for at least StabilityDuration before the signal is reported stable.
//
// Tolerance is step-to-step, not window-relative: a slow drift whose
// individual steps stay within tolerance keeps the signal stable and walks
// the stable value along with it.
//
// A StabilityFilter is not safe for concurrent use. Each monitored signal
// gets its own instance, mutated by a single loop.
type StabilityFilter[T Number] struct {
	cfg FilterConfig[T]

	lastReading      T
	stableValue      T
	windowStart      time.Time
	lastSampleTime   time.Time
	stable           bool
	hasReading       bool
	lastReadingValid bool
}

// NewStabilityFilter creates a filter, rejecting configurations that could
// only produce wrong stability decisions.
func NewStabilityFilter[T Number](cfg FilterConfig[T]) (*StabilityFilter[T], error) {
	if cfg.Tolerance < 0 {
		return nil, ErrNegativeTolerance
	}
	if cfg.StabilityDuration < 0 {
		return nil, ErrNegativeDuration
	}
	if cfg.SampleInterval < 0 {
		return nil, ErrNegativeInterval
	}
	if cfg.ValidRange != nil {
		if cfg.ValidRange.Min > cfg.ValidRange.Max {
			return nil, ErrInvalidRange
		}
		r := *cfg.ValidRange
		cfg.ValidRange = &r
	}
	return &StabilityFilter[T]{cfg: cfg}, nil
}

// MustStabilityFilter is like NewStabilityFilter but panics on a bad config.
// Intended for compiled-in constants.
func MustStabilityFilter[T Number](cfg FilterConfig[T]) *StabilityFilter[T] {
	f, err := NewStabilityFilter(cfg)
	if err != nil {
		panic(err)
	}
	return f
}

// Update feeds one reading taken at now. Timestamps must be non-decreasing.
func (f *StabilityFilter[T]) Update(reading T, now time.Time) {
	// Too soon after the last accepted sample: drop it entirely.
	if f.hasReading && now.Sub(f.lastSampleTime) < f.cfg.SampleInterval {
		return
	}

	// Out of range means "no signal", which is stronger than a tolerance break.
	if f.cfg.ValidRange != nil && !f.cfg.ValidRange.Contains(reading) {
		f.Reset()
		return
	}
	f.lastReadingValid = true
	f.lastSampleTime = now

	if !f.hasReading {
		f.lastReading = reading
		f.windowStart = now
		f.hasReading = true
		f.stable = false
		return
	}

	if withinTolerance(reading, f.lastReading, f.cfg.Tolerance) {
		if now.Sub(f.windowStart) >= f.cfg.StabilityDuration {
			f.stable = true
			f.stableValue = reading
		}
	} else {
		f.windowStart = now
		f.stable = false
	}
	f.lastReading = reading
}

// withinTolerance subtracts the smaller from the larger so unsigned T cannot
// go below zero. A signed difference that overflows wraps negative and is
// treated as out of tolerance.
func withinTolerance[T Number](a, b, tolerance T) bool {
	d := a - b
	if a < b {
		d = b - a
	}
	return d >= 0 && d <= tolerance
}

// IsStable reports whether the signal is currently stable.
func (f *StabilityFilter[T]) IsStable() bool {
	return f.stable
}

// StableValue returns the trusted value. ok is false while the signal is not
// stable; the raw reading is never returned in its place.
func (f *StabilityFilter[T]) StableValue() (v T, ok bool) {
	if !f.stable {
		return v, false
	}
	return f.stableValue, true
}

// LastReading returns the last accepted raw reading regardless of stability.
func (f *StabilityFilter[T]) LastReading() (v T, ok bool) {
	if !f.hasReading {
		return v, false
	}
	return f.lastReading, true
}

// HasValidReading reports whether any reading was accepted since the last reset.
func (f *StabilityFilter[T]) HasValidReading() bool {
	return f.hasReading
}

// LastReadingValid reports whether the most recent reading that got past the
// rate gate was inside the valid range.
func (f *StabilityFilter[T]) LastReadingValid() bool {
	return f.lastReadingValid
}

// Phase returns the current state machine phase.
func (f *StabilityFilter[T]) Phase() Phase {
	switch {
	case f.stable:
		return PhaseStable
	case f.hasReading:
		return PhaseSettling
	default:
		return PhaseEmpty
	}
}

// WindowElapsed returns how long the current run of mutually tolerant
// readings has lasted as of now. Zero when there is no reading.
func (f *StabilityFilter[T]) WindowElapsed(now time.Time) time.Duration {
	if !f.hasReading {
		return 0
	}
	if d := now.Sub(f.windowStart); d > 0 {
		return d
	}
	return 0
}

// Reset returns the filter to its just-constructed state.
func (f *StabilityFilter[T]) Reset() {
	var zero T
	f.lastReading = zero
	f.stableValue = zero
	f.windowStart = time.Time{}
	f.lastSampleTime = time.Time{}
	f.stable = false
	f.hasReading = false
	f.lastReadingValid = false
}

// Tolerance returns the configured tolerance.
func (f *StabilityFilter[T]) Tolerance() T { return f.cfg.Tolerance }

// StabilityDuration returns the configured stability duration.
func (f *StabilityFilter[T]) StabilityDuration() time.Duration { return f.cfg.StabilityDuration }

// SampleInterval returns the configured sample interval.
func (f *StabilityFilter[T]) SampleInterval() time.Duration { return f.cfg.SampleInterval }

// ValidRange returns the configured validity band, if any.
func (f *StabilityFilter[T]) ValidRange() (Range[T], bool) {
	if f.cfg.ValidRange == nil {
		return Range[T]{}, false
	}
	return *f.cfg.ValidRange, true
}
