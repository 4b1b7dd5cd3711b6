package sensor

import (
	"errors"
	"fmt"
)

// Multi reads from several readers in order, as one Reader.
type Multi []Reader

// Read collects readings from every reader. Readings from healthy readers
// are returned even when another reader fails; the failures are joined into
// the returned error.
func (m Multi) Read() ([]Reading, error) {
	var out []Reading
	var errs []error
	for i, r := range m {
		readings, err := r.Read()
		if err != nil {
			errs = append(errs, fmt.Errorf("reader %d: %w", i, err))
			continue
		}
		out = append(out, readings...)
	}
	return out, errors.Join(errs...)
}

// Close closes every reader.
func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
