package logic

import (
	"errors"
	"math"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// at returns epoch + ms milliseconds.
func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func newIntFilter(t *testing.T, tolerance int, stability, interval time.Duration) *StabilityFilter[int] {
	t.Helper()
	f, err := NewStabilityFilter(FilterConfig[int]{
		Tolerance:         tolerance,
		StabilityDuration: stability,
		SampleInterval:    interval,
	})
	if err != nil {
		t.Fatalf("NewStabilityFilter: %v", err)
	}
	return f
}

func newRangedFilter[T Number](t *testing.T, tolerance T, stability, interval time.Duration, lo, hi T) *StabilityFilter[T] {
	t.Helper()
	f, err := NewStabilityFilter(FilterConfig[T]{
		Tolerance:         tolerance,
		StabilityDuration: stability,
		SampleInterval:    interval,
		ValidRange:        &Range[T]{Min: lo, Max: hi},
	})
	if err != nil {
		t.Fatalf("NewStabilityFilter: %v", err)
	}
	return f
}

// feed sends v at each of the given millisecond offsets.
func feed[T Number](f *StabilityFilter[T], v T, ms ...int) {
	for _, m := range ms {
		f.Update(v, at(m))
	}
}

func TestNewStabilityFilterConfig(t *testing.T) {
	f := newIntFilter(t, 5, 2000*time.Millisecond, 50*time.Millisecond)

	if f.Tolerance() != 5 {
		t.Errorf("expected tolerance 5, got %d", f.Tolerance())
	}
	if f.StabilityDuration() != 2*time.Second {
		t.Errorf("expected stability duration 2s, got %v", f.StabilityDuration())
	}
	if f.SampleInterval() != 50*time.Millisecond {
		t.Errorf("expected sample interval 50ms, got %v", f.SampleInterval())
	}
	if _, ok := f.ValidRange(); ok {
		t.Error("expected no valid range")
	}
}

func TestNewStabilityFilterRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  FilterConfig[int]
		want error
	}{
		{"negative tolerance", FilterConfig[int]{Tolerance: -1}, ErrNegativeTolerance},
		{"negative duration", FilterConfig[int]{StabilityDuration: -time.Millisecond}, ErrNegativeDuration},
		{"negative interval", FilterConfig[int]{SampleInterval: -time.Millisecond}, ErrNegativeInterval},
		{"inverted range", FilterConfig[int]{ValidRange: &Range[int]{Min: 100, Max: 50}}, ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewStabilityFilter(tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if f != nil {
				t.Error("expected nil filter on error")
			}
		})
	}
}

func TestNewStabilityFilterCopiesRange(t *testing.T) {
	r := &Range[int]{Min: 50, Max: 100}
	f, err := NewStabilityFilter(FilterConfig[int]{ValidRange: r})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Max = 10

	got, ok := f.ValidRange()
	if !ok || got.Max != 100 {
		t.Errorf("expected range max 100 after caller mutation, got %+v (ok=%v)", got, ok)
	}
}

func TestMustStabilityFilterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for negative tolerance")
		}
	}()
	MustStabilityFilter(FilterConfig[float64]{Tolerance: -0.5})
}

func TestInitialState(t *testing.T) {
	f := newIntFilter(t, 2, 3*time.Second, 100*time.Millisecond)

	if f.IsStable() {
		t.Error("new filter should not be stable")
	}
	if f.HasValidReading() {
		t.Error("new filter should have no reading")
	}
	if _, ok := f.StableValue(); ok {
		t.Error("expected no stable value")
	}
	if _, ok := f.LastReading(); ok {
		t.Error("expected no last reading")
	}
	if f.Phase() != PhaseEmpty {
		t.Errorf("expected phase EMPTY, got %s", f.Phase())
	}
}

func TestFirstReadingNotStable(t *testing.T) {
	f := newIntFilter(t, 2, 0, 100*time.Millisecond)

	f.Update(100, at(0))

	if f.IsStable() {
		t.Error("a single reading must never be stable, even with zero duration")
	}
	if v, ok := f.LastReading(); !ok || v != 100 {
		t.Errorf("expected last reading 100, got %d (ok=%v)", v, ok)
	}
	if _, ok := f.StableValue(); ok {
		t.Error("stable value must not expose the raw reading")
	}
	if f.Phase() != PhaseSettling {
		t.Errorf("expected phase SETTLING, got %s", f.Phase())
	}
}

func TestStableAtExactDuration(t *testing.T) {
	f := newIntFilter(t, 2, 1000*time.Millisecond, 100*time.Millisecond)

	for _, ms := range []int{0, 200, 400, 600, 800} {
		f.Update(100, at(ms))
		if f.IsStable() {
			t.Fatalf("t=%dms: should not be stable before duration", ms)
		}
	}

	f.Update(100, at(1000))
	if !f.IsStable() {
		t.Fatal("should be stable at exactly the stability duration")
	}
	if v, ok := f.StableValue(); !ok || v != 100 {
		t.Errorf("expected stable value 100, got %d (ok=%v)", v, ok)
	}
	if f.Phase() != PhaseStable {
		t.Errorf("expected phase STABLE, got %s", f.Phase())
	}
}

func TestReadingsWithinToleranceStabilize(t *testing.T) {
	f := newIntFilter(t, 3, 1000*time.Millisecond, 100*time.Millisecond)

	f.Update(100, at(0))
	f.Update(101, at(200))
	f.Update(99, at(400))
	f.Update(102, at(600))
	f.Update(100, at(800))
	f.Update(101, at(1000))

	if !f.IsStable() {
		t.Error("expected stable with all steps within tolerance")
	}
	if v, _ := f.StableValue(); v != 101 {
		t.Errorf("expected stable value 101, got %d", v)
	}
}

func TestToleranceBoundaryInclusive(t *testing.T) {
	f := newIntFilter(t, 5, 500*time.Millisecond, 100*time.Millisecond)

	f.Update(100, at(0))
	f.Update(105, at(200)) // +5
	f.Update(100, at(400)) // -5
	f.Update(105, at(600)) // +5

	if !f.IsStable() {
		t.Error("a step of exactly tolerance should not break the run")
	}
}

func TestJustOutsideToleranceBreaksRun(t *testing.T) {
	f := newIntFilter(t, 5, 500*time.Millisecond, 100*time.Millisecond)

	feed(f, 100, 0, 200, 400)
	f.Update(106, at(600)) // +6

	if f.IsStable() {
		t.Error("a step of tolerance+1 should break the run")
	}
	if got := f.WindowElapsed(at(600)); got != 0 {
		t.Errorf("expected window restarted at 600ms, elapsed %v", got)
	}
}

func TestOutOfToleranceResetsWindow(t *testing.T) {
	f := newIntFilter(t, 2, 1000*time.Millisecond, 100*time.Millisecond)

	feed(f, 100, 0, 200, 400, 600, 800)
	f.Update(110, at(900)) // outside tolerance

	if f.IsStable() {
		t.Error("expected not stable after large step")
	}
	if v, _ := f.LastReading(); v != 110 {
		t.Errorf("expected new reading to become last reading, got %d", v)
	}

	feed(f, 110, 1100, 1500)
	if f.IsStable() {
		t.Error("expected a full duration from the break before stability")
	}

	f.Update(110, at(1900))
	if !f.IsStable() {
		t.Error("expected stable one duration after the break")
	}
	if v, _ := f.StableValue(); v != 110 {
		t.Errorf("expected stable value 110, got %d", v)
	}
}

func TestBreakComparesAgainstNewReading(t *testing.T) {
	f := newIntFilter(t, 2, 500*time.Millisecond, 100*time.Millisecond)

	f.Update(100, at(0))
	f.Update(110, at(100)) // break
	f.Update(111, at(200)) // within tolerance of 110, not of 100

	if f.WindowElapsed(at(200)) != 100*time.Millisecond {
		t.Errorf("expected window to continue from 100ms, elapsed %v", f.WindowElapsed(at(200)))
	}
}

func TestStableValueTracksLatest(t *testing.T) {
	f := newIntFilter(t, 2, 500*time.Millisecond, 100*time.Millisecond)

	feed(f, 100, 0, 200, 400, 600)
	if v, _ := f.StableValue(); v != 100 {
		t.Fatalf("expected stable value 100, got %d", v)
	}

	f.Update(101, at(800))
	if !f.IsStable() {
		t.Error("expected to remain stable")
	}
	if v, _ := f.StableValue(); v != 101 {
		t.Errorf("expected stable value 101, got %d", v)
	}

	f.Update(99, at(1000))
	if !f.IsStable() {
		t.Error("expected to remain stable")
	}
	if v, _ := f.StableValue(); v != 99 {
		t.Errorf("expected stable value to track latest (99), got %d", v)
	}
}

func TestDriftWithinToleranceWalksStableValue(t *testing.T) {
	f := newIntFilter(t, 2, 500*time.Millisecond, 100*time.Millisecond)

	// Each step is exactly tolerance; the total drift far exceeds it.
	v := 100
	for ms := 0; ms <= 1000; ms += 100 {
		f.Update(v, at(ms))
		v += 2
	}

	if !f.IsStable() {
		t.Fatal("step-to-step drift within tolerance should stay stable")
	}
	if got, _ := f.StableValue(); got != 120 {
		t.Errorf("expected stable value to walk to 120, got %d", got)
	}
}

func TestNeverStabilizingSequence(t *testing.T) {
	f := newIntFilter(t, 2, 1000*time.Millisecond, 100*time.Millisecond)

	values := []int{100, 110, 95, 105, 90, 100, 85}
	for i, v := range values {
		f.Update(v, at(i*200))
	}
	// Keep alternating for a long time.
	for i := 0; i < 100; i++ {
		v := 100
		if i%2 == 0 {
			v = 120
		}
		f.Update(v, at(2000+i*500))
		if f.IsStable() {
			t.Fatalf("iteration %d: should never stabilize", i)
		}
	}
}

func TestSampleIntervalRespected(t *testing.T) {
	f := newIntFilter(t, 2, 500*time.Millisecond, 100*time.Millisecond)

	f.Update(100, at(0))
	f.Update(100, at(50)) // too soon
	f.Update(100, at(80)) // too soon
	if f.IsStable() {
		t.Error("only one accepted sample so far")
	}

	feed(f, 100, 100, 200, 300, 400)
	if f.IsStable() {
		t.Error("should not be stable before 500ms")
	}
	f.Update(100, at(500))
	if !f.IsStable() {
		t.Error("expected stable at 500ms")
	}
}

func TestRateLimitedSampleLeavesStateUnchanged(t *testing.T) {
	f := newRangedFilter(t, 2, 500*time.Millisecond, 200*time.Millisecond, 50, 100)

	f.Update(98, at(0))
	f.Update(60, at(100))  // in range, out of tolerance, but too soon
	f.Update(0, at(150))   // invalid, but too soon

	if v, _ := f.LastReading(); v != 98 {
		t.Errorf("expected last reading 98, got %d", v)
	}
	if !f.HasValidReading() {
		t.Error("expected reading to survive rate-limited invalid sample")
	}
	if !f.LastReadingValid() {
		t.Error("a dropped sample must not touch LastReadingValid")
	}
	if f.WindowElapsed(at(200)) != 200*time.Millisecond {
		t.Errorf("expected window to start at 0, elapsed %v", f.WindowElapsed(at(200)))
	}
}

func TestZeroSampleIntervalAcceptsEverySample(t *testing.T) {
	f := newIntFilter(t, 1, 0, 0)

	f.Update(5, at(0))
	f.Update(5, at(0))

	if !f.IsStable() {
		t.Error("expected stable on second sample with zero duration and interval")
	}
}

func TestZeroReadingWithoutRange(t *testing.T) {
	f := newIntFilter(t, 2, 500*time.Millisecond, 100*time.Millisecond)

	feed(f, 0, 0, 200, 400, 600)

	if !f.IsStable() {
		t.Error("zero is a valid reading when no range is configured")
	}
	if v, ok := f.StableValue(); !ok || v != 0 {
		t.Errorf("expected stable value 0, got %d (ok=%v)", v, ok)
	}
}

func TestInvalidReadingBelowRange(t *testing.T) {
	f := newRangedFilter[float64](t, 5, time.Second, 100*time.Millisecond, 40, 200)

	f.Update(0, at(0))
	if f.HasValidReading() {
		t.Error("expected no valid reading for 0 bpm")
	}
	if f.LastReadingValid() {
		t.Error("expected last reading invalid")
	}

	f.Update(30, at(200))
	if f.HasValidReading() {
		t.Error("expected no valid reading for 30 bpm")
	}
}

func TestInvalidReadingAboveRange(t *testing.T) {
	f := newRangedFilter[float64](t, 5, time.Second, 100*time.Millisecond, 40, 200)

	f.Update(250, at(0))

	if f.HasValidReading() || f.LastReadingValid() {
		t.Error("expected 250 bpm to be invalid")
	}
}

func TestRangeBoundsInclusive(t *testing.T) {
	f := newRangedFilter(t, 2, 500*time.Millisecond, 100*time.Millisecond, 50, 100)

	f.Update(50, at(0))
	if !f.HasValidReading() || !f.LastReadingValid() {
		t.Error("lower bound should be valid")
	}

	f.Reset()
	f.Update(100, at(0))
	if !f.HasValidReading() || !f.LastReadingValid() {
		t.Error("upper bound should be valid")
	}
}

func TestInvalidReadingHardResets(t *testing.T) {
	f := newRangedFilter[float32](t, 5, 1000*time.Millisecond, 100*time.Millisecond, 40, 200)

	feed[float32](f, 72, 0, 200, 400, 600, 800, 1000)
	if !f.IsStable() {
		t.Fatal("expected stable before finger removal")
	}

	f.Update(0, at(1200))
	if f.IsStable() {
		t.Error("expected not stable after invalid reading")
	}
	if f.HasValidReading() {
		t.Error("expected no valid reading after invalid reading")
	}
	if _, ok := f.LastReading(); ok {
		t.Error("expected last reading cleared")
	}
	if f.Phase() != PhaseEmpty {
		t.Errorf("expected phase EMPTY, got %s", f.Phase())
	}

	// Re-stabilizing needs a fresh full duration from the next valid reading.
	f.Update(72, at(1300))
	feed[float32](f, 72, 1500, 1700, 1900, 2100)
	if f.IsStable() {
		t.Error("should not be stable before a fresh duration elapses")
	}
	f.Update(72, at(2300))
	if !f.IsStable() {
		t.Error("expected stable after a fresh duration")
	}
}

func TestFluctuatingBPMResetsStability(t *testing.T) {
	f := newRangedFilter(t, 5.0, 1000*time.Millisecond, 100*time.Millisecond, 40.0, 200.0)

	f.Update(72, at(0))
	f.Update(73, at(200))
	f.Update(74, at(400))
	f.Update(90, at(600)) // big jump
	if f.IsStable() {
		t.Error("expected not stable after jump")
	}

	f.Update(90, at(800))
	f.Update(91, at(1000))
	f.Update(89, at(1200))
	f.Update(90, at(1400))
	f.Update(90, at(1600))
	if !f.IsStable() {
		t.Fatal("expected stable a full duration after the jump")
	}
	if v, _ := f.StableValue(); v != 90 {
		t.Errorf("expected stable value 90, got %v", v)
	}
}

func TestUnsignedReadingsDoNotWrap(t *testing.T) {
	f, err := NewStabilityFilter(FilterConfig[uint8]{
		Tolerance:         2,
		StabilityDuration: 200 * time.Millisecond,
		SampleInterval:    100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.Update(12, at(0))
	f.Update(10, at(100))
	f.Update(9, at(200)) // -1, within tolerance
	if !f.IsStable() {
		t.Error("expected stable with small downward steps")
	}

	f.Update(3, at(300)) // -6
	if f.IsStable() {
		t.Error("expected large downward step to break the run")
	}
}

func TestSignedStepBeyondTypeRangeBreaksRun(t *testing.T) {
	f := MustStabilityFilter(FilterConfig[int8]{Tolerance: 5, StabilityDuration: 100 * time.Millisecond})

	f.Update(100, at(0))
	f.Update(-100, at(100)) // true step 200 does not fit in int8
	if f.IsStable() {
		t.Fatal("expected a 200 step to break the run")
	}
	if v, _ := f.LastReading(); v != -100 {
		t.Errorf("LastReading: got %d, want -100", v)
	}

	f.Update(-98, at(200))
	if !f.IsStable() {
		t.Error("expected the new run to stabilize")
	}
}

func TestIntStepNearLimitsBreaksRun(t *testing.T) {
	const big = math.MaxInt/2 + 1
	tests := []struct {
		name     string
		from, to int
	}{
		{"down", big, -big},
		{"up", -big, big},
		{"max to min", math.MaxInt, math.MinInt},
		{"min to max", math.MinInt, math.MaxInt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := MustStabilityFilter(FilterConfig[int]{Tolerance: 5, StabilityDuration: 100 * time.Millisecond})
			f.Update(tt.from, at(0))
			f.Update(tt.to, at(100))
			if f.IsStable() {
				t.Errorf("%d -> %d: expected the run to break", tt.from, tt.to)
			}
		})
	}
}

func TestIntToleranceAtLimits(t *testing.T) {
	f := MustStabilityFilter(FilterConfig[int]{Tolerance: 5, StabilityDuration: 100 * time.Millisecond})
	f.Update(math.MaxInt-5, at(0))
	f.Update(math.MaxInt, at(100))
	if !f.IsStable() {
		t.Error("expected a step of exactly tolerance at MaxInt to stay in the run")
	}
}

func TestResetClearsState(t *testing.T) {
	f := newRangedFilter(t, 2, 500*time.Millisecond, 200*time.Millisecond, 50, 100)

	feed(f, 98, 0, 200, 400, 600)
	if !f.IsStable() {
		t.Fatal("expected stable before reset")
	}

	f.Reset()

	if f.IsStable() {
		t.Error("expected not stable after reset")
	}
	if f.HasValidReading() {
		t.Error("expected no valid reading after reset")
	}
	if f.LastReadingValid() {
		t.Error("expected last reading invalid after reset")
	}
	if _, ok := f.LastReading(); ok {
		t.Error("expected no last reading after reset")
	}
	if _, ok := f.StableValue(); ok {
		t.Error("expected no stable value after reset")
	}
	if f.WindowElapsed(at(5000)) != 0 {
		t.Error("expected zero window after reset")
	}

	// No rate limiting against pre-reset samples.
	f.Update(98, at(610))
	if !f.HasValidReading() {
		t.Error("expected first sample after reset to be accepted")
	}
}

func TestReadsAreIdempotent(t *testing.T) {
	f := newIntFilter(t, 2, 500*time.Millisecond, 100*time.Millisecond)
	feed(f, 100, 0, 200, 400, 600)

	for i := 0; i < 5; i++ {
		if !f.IsStable() {
			t.Fatalf("read %d: stability changed", i)
		}
		if v, ok := f.LastReading(); !ok || v != 100 {
			t.Fatalf("read %d: last reading changed to %d", i, v)
		}
		if v, ok := f.StableValue(); !ok || v != 100 {
			t.Fatalf("read %d: stable value changed to %d", i, v)
		}
		if !f.HasValidReading() {
			t.Fatalf("read %d: valid reading flag changed", i)
		}
	}
}

func TestWindowElapsed(t *testing.T) {
	f := newIntFilter(t, 2, time.Second, 100*time.Millisecond)

	if f.WindowElapsed(at(100)) != 0 {
		t.Error("expected zero elapsed before any reading")
	}

	f.Update(100, at(0))
	if got := f.WindowElapsed(at(300)); got != 300*time.Millisecond {
		t.Errorf("expected 300ms elapsed, got %v", got)
	}

	f.Update(120, at(600)) // break
	if got := f.WindowElapsed(at(700)); got != 100*time.Millisecond {
		t.Errorf("expected 100ms elapsed after break, got %v", got)
	}

	// A clock earlier than the window start reports zero, not negative.
	if got := f.WindowElapsed(at(500)); got != 0 {
		t.Errorf("expected zero for earlier clock, got %v", got)
	}
}

func TestRangeContains(t *testing.T) {
	r := Range[float64]{Min: 40, Max: 200}

	tests := []struct {
		v    float64
		want bool
	}{
		{39.9, false},
		{40, true},
		{72.5, true},
		{200, true},
		{200.1, false},
	}
	for _, tt := range tests {
		if got := r.Contains(tt.v); got != tt.want {
			t.Errorf("Contains(%v): got %v, want %v", tt.v, got, tt.want)
		}
	}
}
