//go:build linux

package sensor

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Sonar reads distance from an HC-SR04 ranger using the Linux GPIO character device.
// Echo pulse width is measured from kernel edge event timestamps, so it does
// not depend on userspace scheduling latency.
type Sonar struct {
	chip    *gpiocdev.Chip
	trigger *gpiocdev.Line
	echo    *gpiocdev.Line
	events  chan gpiocdev.LineEvent
	cfg     SonarConfig
}

// echoTimeout bounds the wait for each echo edge. Sound covers the 2x400 cm
// maximum HC-SR04 round trip in about 24 ms.
const echoTimeout = 30 * time.Millisecond

// NewSonar requests the trigger and echo lines.
func NewSonar(cfg SonarConfig) (*Sonar, error) {
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	if cfg.Signal == "" {
		cfg.Signal = "height"
	}

	chip, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	s := &Sonar{
		chip:   chip,
		events: make(chan gpiocdev.LineEvent, 8),
		cfg:    cfg,
	}

	trigger, err := chip.RequestLine(cfg.TriggerPin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request trigger pin %d: %w", cfg.TriggerPin, err)
	}

	echo, err := chip.RequestLine(cfg.EchoPin,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(s.handleEdge))
	if err != nil {
		trigger.Close()
		chip.Close()
		return nil, fmt.Errorf("request echo pin %d: %w", cfg.EchoPin, err)
	}

	s.trigger = trigger
	s.echo = echo
	return s, nil
}

// handleEdge runs on the gpiocdev event goroutine. Events are dropped when
// nobody is pinging.
func (s *Sonar) handleEdge(evt gpiocdev.LineEvent) {
	select {
	case s.events <- evt:
	default:
	}
}

// Read fires one ping and returns the distance in cm. A missing echo is
// reported as 0 (no object), not as an error.
func (s *Sonar) Read() ([]Reading, error) {
	width, err := s.ping()
	if err != nil {
		return nil, err
	}
	cm := EchoToCm(width, s.cfg.MaxDistanceCm)
	return []Reading{{Signal: s.cfg.Signal, Value: float64(cm)}}, nil
}

func (s *Sonar) ping() (time.Duration, error) {
	// Drop stale edges from a previous, timed-out ping.
	for len(s.events) > 0 {
		<-s.events
	}

	if err := s.trigger.SetValue(1); err != nil {
		return 0, fmt.Errorf("set trigger high: %w", err)
	}
	time.Sleep(10 * time.Microsecond)
	if err := s.trigger.SetValue(0); err != nil {
		return 0, fmt.Errorf("set trigger low: %w", err)
	}

	rise, ok := s.waitEdge(gpiocdev.LineEventRisingEdge)
	if !ok {
		return 0, nil
	}
	fall, ok := s.waitEdge(gpiocdev.LineEventFallingEdge)
	if !ok {
		return 0, nil
	}
	return fall.Timestamp - rise.Timestamp, nil
}

func (s *Sonar) waitEdge(want gpiocdev.LineEventType) (gpiocdev.LineEvent, bool) {
	timeout := time.NewTimer(echoTimeout)
	defer timeout.Stop()
	for {
		select {
		case evt := <-s.events:
			if evt.Type == want {
				return evt, true
			}
		case <-timeout.C:
			return gpiocdev.LineEvent{}, false
		}
	}
}

// Close releases GPIO resources.
// Reconfigures the trigger pin to input with pull-down (matching Pi boot
// defaults) before closing.
func (s *Sonar) Close() error {
	var errs []error

	if s.trigger != nil {
		if err := s.trigger.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure trigger pin: %w", err))
		}
		if err := s.trigger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trigger pin: %w", err))
		}
	}
	if s.echo != nil {
		if err := s.echo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close echo pin: %w", err))
		}
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
