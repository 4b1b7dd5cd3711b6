// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/checkup-sensor/internal/display"
	"github.com/sweeney/checkup-sensor/internal/logic"
)

// Signal scalar types.
const (
	TypeInt   = "int"
	TypeFloat = "float"
)

// Source kinds.
const (
	SourceSonar  = "sonar"
	SourceSerial = "serial"
	SourceFake   = "fake"
)

// Payload encodings.
const (
	PayloadJSON = "json"
	PayloadCBOR = "cbor"
)

// Profiles selectable without a config file.
const (
	ProfileHeight   = "height"
	ProfileOximeter = "oximeter"
)

// Config represents the daemon configuration.
type Config struct {
	Poll         time.Duration  `yaml:"poll"`
	Heartbeat    time.Duration  `yaml:"heartbeat"`
	ReportPeriod time.Duration  `yaml:"report_period"` // console status line period (0 disables)
	Broker       string         `yaml:"broker"`
	Payload      string         `yaml:"payload"`
	HTTP         string         `yaml:"http"`
	MDNS         bool           `yaml:"mdns"`
	Panel        string         `yaml:"panel"`
	Signals      []SignalConfig `yaml:"signals"`
	Sources      []SourceConfig `yaml:"sources"`
}

// SignalConfig describes one monitored signal and its stability filter.
type SignalConfig struct {
	Name              string        `yaml:"name"`
	Label             string        `yaml:"label"`
	Unit              string        `yaml:"unit"`
	Type              string        `yaml:"type"`
	Tolerance         float64       `yaml:"tolerance"`
	StabilityDuration time.Duration `yaml:"stability_duration"`
	SampleInterval    time.Duration `yaml:"sample_interval"`
	ValidRange        *RangeConfig  `yaml:"valid_range,omitempty"`
	Decimals          int           `yaml:"decimals"`
}

// RangeConfig is an inclusive validity band.
type RangeConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// SourceConfig describes one instrument reader.
type SourceConfig struct {
	Kind string `yaml:"kind"`

	// sonar
	Chip          string `yaml:"chip,omitempty"`
	TriggerPin    int    `yaml:"trigger_pin,omitempty"`
	EchoPin       int    `yaml:"echo_pin,omitempty"`
	MaxDistanceCm int    `yaml:"max_distance_cm,omitempty"`

	// serial
	Port    string            `yaml:"port,omitempty"`
	Baud    int               `yaml:"baud,omitempty"`
	Aliases map[string]string `yaml:"aliases,omitempty"`

	// sonar and fake
	Signal string `yaml:"signal,omitempty"`

	// fake
	Values []float64 `yaml:"values,omitempty"`
}

// HeightMeter returns the ultrasonic height meter profile.
func HeightMeter() *Config {
	return &Config{
		Poll:         100 * time.Millisecond,
		Heartbeat:    15 * time.Minute,
		ReportPeriod: 0,
		Broker:       "tcp://192.168.1.200:1883",
		Payload:      PayloadJSON,
		HTTP:         ":80",
		MDNS:         true,
		Panel:        display.PanelHeight,
		Signals: []SignalConfig{
			{
				Name:              "height",
				Label:             "Height",
				Unit:              "cm",
				Type:              TypeInt,
				Tolerance:         2,
				StabilityDuration: 3000 * time.Millisecond,
				SampleInterval:    100 * time.Millisecond,
			},
		},
		Sources: []SourceConfig{
			{
				Kind:          SourceSonar,
				Chip:          "gpiochip0",
				TriggerPin:    3,
				EchoPin:       2,
				MaxDistanceCm: 200,
				Signal:        "height",
			},
		},
	}
}

// PulseOximeter returns the pulse oximeter profile.
func PulseOximeter() *Config {
	return &Config{
		Poll:         100 * time.Millisecond,
		Heartbeat:    15 * time.Minute,
		ReportPeriod: time.Second,
		Broker:       "tcp://192.168.1.200:1883",
		Payload:      PayloadJSON,
		HTTP:         ":80",
		MDNS:         true,
		Panel:        display.PanelOximeter,
		Signals: []SignalConfig{
			{
				Name:              "bpm",
				Label:             "BPM",
				Type:              TypeFloat,
				Tolerance:         5,
				StabilityDuration: 3000 * time.Millisecond,
				SampleInterval:    100 * time.Millisecond,
				ValidRange:        &RangeConfig{Min: 40, Max: 200},
			},
			{
				Name:              "spo2",
				Label:             "O2",
				Unit:              "%",
				Type:              TypeInt,
				Tolerance:         2,
				StabilityDuration: 3000 * time.Millisecond,
				SampleInterval:    100 * time.Millisecond,
				ValidRange:        &RangeConfig{Min: 50, Max: 100},
			},
		},
		Sources: []SourceConfig{
			{
				Kind:    SourceSerial,
				Port:    "/dev/ttyUSB0",
				Baud:    115200,
				Aliases: map[string]string{"o2": "spo2"},
			},
		},
	}
}

// Default returns the height meter profile.
func Default() *Config {
	return HeightMeter()
}

// Profile returns the named built-in profile.
func Profile(name string) (*Config, error) {
	switch name {
	case "", ProfileHeight:
		return HeightMeter(), nil
	case ProfileOximeter:
		return PulseOximeter(), nil
	}
	return nil, fmt.Errorf("unknown profile %q", name)
}

// Load loads configuration from a YAML file on top of base. If the file
// doesn't exist, base is returned unchanged. Signals and sources in the
// file replace the base lists entirely.
func Load(filename string, base *Config) (*Config, error) {
	if base == nil {
		base = Default()
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := *base
	cfg.Signals = nil
	cfg.Sources = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = base.Signals
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = base.Sources
	}

	cfg.ensureDefaults()
	return &cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills per-signal fields a file may leave empty.
func (c *Config) ensureDefaults() {
	if c.Payload == "" {
		c.Payload = PayloadJSON
	}
	if c.Panel == "" {
		c.Panel = display.PanelGeneric
	}
	for i := range c.Signals {
		if c.Signals[i].Type == "" {
			c.Signals[i].Type = TypeFloat
		}
		if c.Signals[i].Label == "" {
			c.Signals[i].Label = c.Signals[i].Name
		}
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Poll <= 0 {
		errs = append(errs, fmt.Errorf("poll must be positive, got %v", c.Poll))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat))
	}
	if c.ReportPeriod < 0 {
		errs = append(errs, fmt.Errorf("report_period must not be negative, got %v", c.ReportPeriod))
	}
	switch c.Payload {
	case PayloadJSON, PayloadCBOR:
	default:
		errs = append(errs, fmt.Errorf("unknown payload encoding %q", c.Payload))
	}
	switch c.Panel {
	case display.PanelHeight, display.PanelOximeter, display.PanelGeneric:
	default:
		errs = append(errs, fmt.Errorf("unknown panel %q", c.Panel))
	}

	if len(c.Signals) == 0 {
		errs = append(errs, errors.New("no signals configured"))
	}
	names := make(map[string]bool, len(c.Signals))
	for _, s := range c.Signals {
		if s.Name == "" {
			errs = append(errs, errors.New("signal with empty name"))
			continue
		}
		if names[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate signal %q", s.Name))
		}
		names[s.Name] = true
		if err := s.validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("no sources configured"))
	}
	for i, src := range c.Sources {
		switch src.Kind {
		case SourceSonar, SourceFake:
			if !names[src.Signal] {
				errs = append(errs, fmt.Errorf("source %d (%s): unknown signal %q", i, src.Kind, src.Signal))
			}
			if src.Kind == SourceFake && len(src.Values) == 0 {
				errs = append(errs, fmt.Errorf("source %d (fake): no values", i))
			}
		case SourceSerial:
			if src.Port == "" {
				errs = append(errs, fmt.Errorf("source %d (serial): no port", i))
			}
		default:
			errs = append(errs, fmt.Errorf("source %d: unknown kind %q", i, src.Kind))
		}
	}

	return errors.Join(errs...)
}

func (s SignalConfig) validate() error {
	var errs []error
	if s.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("signal %q: tolerance must not be negative", s.Name))
	}
	if s.StabilityDuration < 0 {
		errs = append(errs, fmt.Errorf("signal %q: stability_duration must not be negative", s.Name))
	}
	if s.SampleInterval < 0 {
		errs = append(errs, fmt.Errorf("signal %q: sample_interval must not be negative", s.Name))
	}
	if s.Decimals < 0 {
		errs = append(errs, fmt.Errorf("signal %q: decimals must not be negative", s.Name))
	}
	if s.ValidRange != nil && s.ValidRange.Min > s.ValidRange.Max {
		errs = append(errs, fmt.Errorf("signal %q: valid_range min %v exceeds max %v", s.Name, s.ValidRange.Min, s.ValidRange.Max))
	}
	switch s.Type {
	case TypeFloat:
	case TypeInt:
		if !integral(s.Tolerance) {
			errs = append(errs, fmt.Errorf("signal %q: int tolerance %v is not a whole number", s.Name, s.Tolerance))
		}
		if s.ValidRange != nil && (!integral(s.ValidRange.Min) || !integral(s.ValidRange.Max)) {
			errs = append(errs, fmt.Errorf("signal %q: int valid_range bounds must be whole numbers", s.Name))
		}
	default:
		errs = append(errs, fmt.Errorf("signal %q: unknown type %q", s.Name, s.Type))
	}
	return errors.Join(errs...)
}

func integral(v float64) bool {
	return v == math.Trunc(v)
}

// Channel builds the stability filter for this signal.
func (s SignalConfig) Channel() (logic.Channel, error) {
	switch s.Type {
	case TypeInt:
		cfg := logic.FilterConfig[int]{
			Tolerance:         int(s.Tolerance),
			StabilityDuration: s.StabilityDuration,
			SampleInterval:    s.SampleInterval,
		}
		if s.ValidRange != nil {
			cfg.ValidRange = &logic.Range[int]{Min: int(s.ValidRange.Min), Max: int(s.ValidRange.Max)}
		}
		f, err := logic.NewStabilityFilter(cfg)
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", s.Name, err)
		}
		return logic.NewChannel(s.Name, f), nil
	case TypeFloat, "":
		cfg := logic.FilterConfig[float64]{
			Tolerance:         s.Tolerance,
			StabilityDuration: s.StabilityDuration,
			SampleInterval:    s.SampleInterval,
		}
		if s.ValidRange != nil {
			cfg.ValidRange = &logic.Range[float64]{Min: s.ValidRange.Min, Max: s.ValidRange.Max}
		}
		f, err := logic.NewStabilityFilter(cfg)
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", s.Name, err)
		}
		return logic.NewChannel(s.Name, f), nil
	}
	return nil, fmt.Errorf("signal %q: unknown type %q", s.Name, s.Type)
}

// Channels builds every signal's filter, in order.
func (c *Config) Channels() ([]logic.Channel, error) {
	out := make([]logic.Channel, 0, len(c.Signals))
	for _, s := range c.Signals {
		ch, err := s.Channel()
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// DisplaySpecs returns how each signal is rendered.
func (c *Config) DisplaySpecs() map[string]display.Spec {
	out := make(map[string]display.Spec, len(c.Signals))
	for _, s := range c.Signals {
		out[s.Name] = display.Spec{Label: s.Label, Unit: s.Unit, Decimals: s.Decimals}
	}
	return out
}

// SignalNames returns the configured signal names in order.
func (c *Config) SignalNames() []string {
	out := make([]string, len(c.Signals))
	for i, s := range c.Signals {
		out[i] = s.Name
	}
	return out
}
