package sensor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// ErrNonFinite is returned by ParseLine for NaN or infinite values.
var ErrNonFinite = errors.New("sensor: non-finite value")

// DefaultBaudRate matches the oximeter bridge firmware on ESP32/ESP8266.
const DefaultBaudRate = 115200

// SerialConfig describes a serial-attached instrument bridge.
type SerialConfig struct {
	Port     string
	BaudRate int
	// Aliases maps keys as printed by the firmware (lower-cased) to signal
	// names, e.g. "o2" -> "spo2". Unmapped keys are used as-is.
	Aliases map[string]string
}

// SerialReader parses text lines streamed by an instrument bridge, such as
// "bpm=72.5 spo2=98" or "BPM:72.00(OK) O2:98(...)", and keeps the newest
// value per signal.
type SerialReader struct {
	rc      io.ReadCloser
	aliases map[string]string

	mu      sync.Mutex
	latest  map[string]float64
	order   []string
	fresh   bool
	seen    bool
	readErr error
	done    chan struct{}
}

// OpenSerial opens the port and starts the line parser.
func OpenSerial(cfg SerialConfig) (*SerialReader, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}
	return NewSerialReader(port, cfg.Aliases), nil
}

// NewSerialReader starts parsing lines from rc in a background goroutine.
func NewSerialReader(rc io.ReadCloser, aliases map[string]string) *SerialReader {
	r := &SerialReader{
		rc:      rc,
		aliases: aliases,
		latest:  make(map[string]float64),
		done:    make(chan struct{}),
	}
	go r.scan()
	return r
}

func (r *SerialReader) scan() {
	defer close(r.done)

	sc := bufio.NewScanner(r.rc)
	for sc.Scan() {
		readings, err := ParseLine(sc.Text())
		if err != nil {
			log.Printf("serial: %v", err)
			continue
		}
		if len(readings) == 0 {
			continue
		}
		r.store(readings)
	}

	r.mu.Lock()
	r.readErr = sc.Err()
	if r.readErr == nil {
		r.readErr = io.EOF
	}
	r.mu.Unlock()
}

func (r *SerialReader) store(readings []Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rd := range readings {
		name := rd.Signal
		if alias, ok := r.aliases[name]; ok {
			name = alias
		}
		if _, known := r.latest[name]; !known {
			r.order = append(r.order, name)
		}
		r.latest[name] = rd.Value
	}
	r.fresh = true
	r.seen = true
}

// Read returns the newest value of every signal if a line arrived since the
// previous Read, and an empty slice otherwise. Before the first line it
// returns ErrNoData; once the stream has ended it returns the stream error.
func (r *SerialReader) Read() ([]Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.readErr != nil && !r.fresh {
		return nil, fmt.Errorf("serial stream ended: %w", r.readErr)
	}
	if !r.seen {
		return nil, ErrNoData
	}
	if !r.fresh {
		return []Reading{}, nil
	}
	r.fresh = false

	out := make([]Reading, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, Reading{Signal: name, Value: r.latest[name]})
	}
	return out, nil
}

// Close closes the port and waits for the parser to stop.
func (r *SerialReader) Close() error {
	err := r.rc.Close()
	<-r.done
	return err
}

// ParseLine extracts key/value readings from one line of bridge output.
// Tokens are separated by whitespace, commas or semicolons and take the form
// key=value or key:value; a trailing "(...)" status marker on the value is
// ignored. Tokens without a separator (e.g. "Beat!!!") are skipped. Keys are
// lower-cased.
func ParseLine(line string) ([]Reading, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ',' || r == ';' || r == '\r'
	})

	var out []Reading
	for _, f := range fields {
		i := strings.IndexAny(f, "=:")
		if i <= 0 {
			continue
		}
		key := strings.ToLower(f[:i])
		raw := f[i+1:]
		if p := strings.IndexByte(raw, '('); p >= 0 {
			raw = raw[:p]
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q in line %q: %w", key, line, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("parse %q in line %q: %w", key, line, ErrNonFinite)
		}
		out = append(out, Reading{Signal: key, Value: v})
	}
	return out, nil
}
