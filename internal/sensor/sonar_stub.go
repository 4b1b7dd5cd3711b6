//go:build !linux

package sensor

import "errors"

// Sonar is not available on non-Linux platforms.
type Sonar struct{}

// NewSonar returns an error on non-Linux platforms.
func NewSonar(cfg SonarConfig) (*Sonar, error) {
	return nil, errors.New("sensor: sonar not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (s *Sonar) Read() ([]Reading, error) {
	return nil, errors.New("sensor: sonar not supported")
}

// Close is not implemented on non-Linux platforms.
func (s *Sonar) Close() error {
	return nil
}
