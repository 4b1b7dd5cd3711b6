package sensor

import "errors"

// FakeReader is a test double that returns scripted readings.
type FakeReader struct {
	// Samples contains scripted reading sets to return.
	// Each call to Read() consumes the next sample.
	Samples [][]Reading

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples [][]Reading) *FakeReader {
	return &FakeReader{Samples: samples}
}

// NewFakeSignal creates a FakeReader that reports a single signal, one value per Read.
func NewFakeSignal(signal string, values ...float64) *FakeReader {
	samples := make([][]Reading, len(values))
	for i, v := range values {
		samples[i] = []Reading{{Signal: signal, Value: v}}
	}
	return NewFakeReader(samples)
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() ([]Reading, error) {
	if f.ReadError != nil {
		return nil, f.ReadError
	}

	if len(f.Samples) == 0 {
		return nil, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	out := make([]Reading, len(sample))
	copy(out, sample)
	return out, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = 0
	f.Closed = false
}
