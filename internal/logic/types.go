// Package logic contains the pure stability logic for sensor signals.
// This package has NO hardware dependencies (no GPIO, serial, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"time"

	"golang.org/x/exp/constraints"
)

// Number is any scalar a sensor can report.
type Number interface {
	constraints.Integer | constraints.Float
}

// Range is an inclusive [Min, Max] validity band.
type Range[T Number] struct {
	Min T
	Max T
}

// Contains reports whether v lies within the range, bounds included.
func (r Range[T]) Contains(v T) bool {
	return v >= r.Min && v <= r.Max
}

// FilterConfig is the immutable configuration of a StabilityFilter.
type FilterConfig[T Number] struct {
	// Tolerance is the largest step between consecutive accepted readings
	// that still counts as "the same" signal.
	Tolerance T
	// StabilityDuration is how long the signal must stay within tolerance.
	StabilityDuration time.Duration
	// SampleInterval is the minimum spacing between accepted samples.
	// Samples arriving sooner are dropped.
	SampleInterval time.Duration
	// ValidRange, if non-nil, bounds the readings considered at all.
	// nil means every value is valid.
	ValidRange *Range[T]
}

// Configuration errors returned by NewStabilityFilter.
var (
	ErrNegativeTolerance = errors.New("logic: tolerance must not be negative")
	ErrNegativeDuration  = errors.New("logic: stability duration must not be negative")
	ErrNegativeInterval  = errors.New("logic: sample interval must not be negative")
	ErrInvalidRange      = errors.New("logic: valid range min exceeds max")
)

// ErrUnknownSignal is returned by Monitor.Process for a signal it does not own.
var ErrUnknownSignal = errors.New("logic: unknown signal")

// Phase is the state of a filter's state machine.
type Phase string

const (
	PhaseEmpty    Phase = "EMPTY"
	PhaseSettling Phase = "SETTLING"
	PhaseStable   Phase = "STABLE"
)

// EventType represents a phase transition event.
type EventType string

const (
	EventAcquired EventType = "ACQUIRED" // Empty -> Settling
	EventStable   EventType = "STABLE"   // Settling -> Stable
	EventUnstable EventType = "UNSTABLE" // Stable -> Settling
	EventLost     EventType = "LOST"     // Settling/Stable -> Empty
)

// Event represents a signal transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Signal    string
	Phase     Phase
	// Value is the stable value for STABLE events and the last accepted
	// reading otherwise. HasValue is false for LOST.
	Value    float64
	HasValue bool
}

// Input represents a single raw sample for one signal.
type Input struct {
	Signal string
	Value  float64
	Time   time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Acquired int
	Stable   int
	Unstable int
	Lost     int
}

// Total returns the sum of all counts.
func (c EventCounts) Total() int {
	return c.Acquired + c.Stable + c.Unstable + c.Lost
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    map[string]EventCounts
}
