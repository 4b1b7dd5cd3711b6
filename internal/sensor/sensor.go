// Package sensor provides instrument readers with hardware abstraction.
// The real implementations use the Linux GPIO character device (ultrasonic
// ranger) and a serial port (pulse oximeter bridge).
// The fake implementation allows testing without hardware.
package sensor

import (
	"errors"
	"time"
)

// Reading is one raw sample for a named signal.
type Reading struct {
	Signal string
	Value  float64
}

// Reader reads instrument samples.
type Reader interface {
	// Read returns the current raw readings. A reader may return several
	// signals at once (e.g. heart rate and SpO2 from one device).
	Read() ([]Reading, error)

	// Close releases hardware resources.
	Close() error
}

// ErrNoData is returned when a reader has not produced any sample yet.
var ErrNoData = errors.New("sensor: no data yet")

// Default HC-SR04 wiring (BCM numbering) and range.
const (
	DefaultTriggerPin    = 3
	DefaultEchoPin       = 2
	DefaultMaxDistanceCm = 200
)

// SonarConfig describes an HC-SR04 style ultrasonic ranger.
type SonarConfig struct {
	Chip          string // e.g. "gpiochip0"
	TriggerPin    int
	EchoPin       int
	MaxDistanceCm int
	Signal        string // signal name reported by Read
}

// usRoundTripCm is the echo time in microseconds for one centimetre of distance.
const usRoundTripCm = 58

// EchoToCm converts an echo pulse width to whole centimetres, rounded.
// Any echo yields at least 1 cm. Zero means no object: no echo, or an echo
// beyond maxDistanceCm.
func EchoToCm(width time.Duration, maxDistanceCm int) int {
	us := width.Microseconds()
	if us <= 0 {
		return 0
	}
	cm := int((us + usRoundTripCm/2) / usRoundTripCm)
	if cm < 1 {
		cm = 1
	}
	if maxDistanceCm > 0 && cm > maxDistanceCm {
		return 0
	}
	return cm
}
