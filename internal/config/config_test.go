package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/checkup-sensor/internal/display"
	"github.com/sweeney/checkup-sensor/internal/logic"
)

func TestProfiles(t *testing.T) {
	h := HeightMeter()
	require.NoError(t, h.Validate())
	require.Len(t, h.Signals, 1)
	assert.Equal(t, "height", h.Signals[0].Name)
	assert.Equal(t, TypeInt, h.Signals[0].Type)
	assert.Equal(t, 2.0, h.Signals[0].Tolerance)
	assert.Equal(t, 3*time.Second, h.Signals[0].StabilityDuration)
	assert.Equal(t, 100*time.Millisecond, h.Signals[0].SampleInterval)
	assert.Nil(t, h.Signals[0].ValidRange)
	assert.Equal(t, 200, h.Sources[0].MaxDistanceCm)

	o := PulseOximeter()
	require.NoError(t, o.Validate())
	require.Len(t, o.Signals, 2)
	assert.Equal(t, &RangeConfig{Min: 40, Max: 200}, o.Signals[0].ValidRange)
	assert.Equal(t, &RangeConfig{Min: 50, Max: 100}, o.Signals[1].ValidRange)
	assert.Equal(t, display.PanelOximeter, o.Panel)
}

func TestProfile(t *testing.T) {
	cfg, err := Profile("")
	require.NoError(t, err)
	assert.Equal(t, display.PanelHeight, cfg.Panel)

	cfg, err = Profile(ProfileOximeter)
	require.NoError(t, err)
	assert.Equal(t, display.PanelOximeter, cfg.Panel)

	_, err = Profile("barometer")
	assert.Error(t, err)
}

func TestLoadMissingFileReturnsBase(t *testing.T) {
	base := PulseOximeter()
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), base)
	require.NoError(t, err)
	assert.Same(t, base, cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
poll: 50ms
payload: cbor
panel: generic
signals:
  - name: temp
    unit: C
    tolerance: 0.5
    stability_duration: 2s
    sample_interval: 0s
    valid_range: {min: -40, max: 85}
    decimals: 1
sources:
  - kind: fake
    signal: temp
    values: [21.0, 21.2, 21.1]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50*time.Millisecond, cfg.Poll)
	assert.Equal(t, 15*time.Minute, cfg.Heartbeat, "unset fields keep the base value")
	assert.Equal(t, PayloadCBOR, cfg.Payload)
	require.Len(t, cfg.Signals, 1)

	s := cfg.Signals[0]
	assert.Equal(t, "temp", s.Label, "label defaults to name")
	assert.Equal(t, TypeFloat, s.Type, "type defaults to float")
	assert.Equal(t, 2*time.Second, s.StabilityDuration)
	assert.Equal(t, &RangeConfig{Min: -40, Max: 85}, s.ValidRange)
	assert.Equal(t, []float64{21.0, 21.2, 21.1}, cfg.Sources[0].Values)
}

func TestLoadKeepsBaseSignalsWhenOmitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker: tcp://broker:1883\n"), 0644))

	cfg, err := Load(path, PulseOximeter())
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, []string{"bpm", "spo2"}, cfg.SignalNames())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signals: [unclosed"), 0644))

	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	orig := PulseOximeter()
	require.NoError(t, orig.Save(path))

	loaded, err := Load(path, HeightMeter())
	require.NoError(t, err)
	assert.Equal(t, orig, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero poll", func(c *Config) { c.Poll = 0 }},
		{"negative heartbeat", func(c *Config) { c.Heartbeat = -time.Second }},
		{"bad payload", func(c *Config) { c.Payload = "xml" }},
		{"bad panel", func(c *Config) { c.Panel = "vfd" }},
		{"no signals", func(c *Config) { c.Signals = nil }},
		{"duplicate signal", func(c *Config) { c.Signals = append(c.Signals, c.Signals[0]) }},
		{"empty name", func(c *Config) { c.Signals[0].Name = "" }},
		{"negative tolerance", func(c *Config) { c.Signals[0].Tolerance = -1 }},
		{"negative duration", func(c *Config) { c.Signals[0].StabilityDuration = -time.Second }},
		{"negative interval", func(c *Config) { c.Signals[0].SampleInterval = -time.Millisecond }},
		{"inverted range", func(c *Config) { c.Signals[0].ValidRange = &RangeConfig{Min: 200, Max: 40} }},
		{"fractional int tolerance", func(c *Config) { c.Signals[1].Tolerance = 1.5 }},
		{"unknown type", func(c *Config) { c.Signals[0].Type = "complex" }},
		{"no sources", func(c *Config) { c.Sources = nil }},
		{"serial without port", func(c *Config) { c.Sources[0].Port = "" }},
		{"unknown source", func(c *Config) { c.Sources[0].Kind = "bluetooth" }},
		{"fake unknown signal", func(c *Config) {
			c.Sources = append(c.Sources, SourceConfig{Kind: SourceFake, Signal: "temp", Values: []float64{1}})
		}},
		{"fake without values", func(c *Config) {
			c.Sources = append(c.Sources, SourceConfig{Kind: SourceFake, Signal: "bpm"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := PulseOximeter()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestChannelsBuildFilters(t *testing.T) {
	cfg := PulseOximeter()
	channels, err := cfg.Channels()
	require.NoError(t, err)
	require.Len(t, channels, 2)

	start := time.Unix(1700000000, 0)
	bpm := channels[0]
	assert.Equal(t, "bpm", bpm.Name())

	bpm.Feed(20, start) // below 40
	assert.Equal(t, logic.PhaseEmpty, bpm.Phase())

	bpm.Feed(72, start.Add(time.Second))
	bpm.Feed(74, start.Add(4*time.Second))
	assert.Equal(t, logic.PhaseStable, bpm.Phase())
	assert.Equal(t, 74.0, bpm.View(start.Add(4*time.Second)).StableValue)
}

func TestIntChannelTruncates(t *testing.T) {
	ch, err := SignalConfig{Name: "spo2", Type: TypeInt, Tolerance: 2}.Channel()
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	ch.Feed(97.9, now)
	v := ch.View(now)
	assert.True(t, v.HasLast)
	assert.Equal(t, 97.0, v.LastReading)
}

func TestChannelRejectsNegativeTolerance(t *testing.T) {
	_, err := SignalConfig{Name: "x", Type: TypeFloat, Tolerance: -1}.Channel()
	assert.ErrorIs(t, err, logic.ErrNegativeTolerance)
}

func TestDisplaySpecs(t *testing.T) {
	specs := PulseOximeter().DisplaySpecs()
	assert.Equal(t, display.Spec{Label: "BPM"}, specs["bpm"])
	assert.Equal(t, display.Spec{Label: "O2", Unit: "%"}, specs["spo2"])
}
