// Package status provides a thread-safe status tracker for the checkup-sensor daemon.
// It is read by the HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/sweeney/checkup-sensor/internal/logic"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// SignalSettings is one signal's filter configuration, for display.
type SignalSettings struct {
	Name        string
	Label       string
	Unit        string
	Decimals    int
	Type        string
	Tolerance   float64
	StabilityMs int64
	IntervalMs  int64
	Min         *float64
	Max         *float64
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	Encoding    string
	Panel       string
	WSBroker    string // Websocket broker URL for browser MQTT (empty = disabled)
	Signals     []SignalSettings
}

// SignalStats summarises the trusted values a signal has settled on.
type SignalStats struct {
	Count int64
	P50   float64
	P90   float64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Views         []logic.ChannelView
	Panel         []string
	AllStable     bool
	Counts        map[string]logic.EventCounts
	Stats         map[string]SignalStats
	SessionID     string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether any signal has produced a reading yet.
func (s Snapshot) Ready() bool {
	for _, v := range s.Views {
		if v.HasLast {
			return true
		}
	}
	return false
}

type digest struct {
	td    *tdigest.TDigest
	count int64
}

// Tracker holds mutable daemon state behind a mutex.
type Tracker struct {
	mu      sync.Mutex
	snap    Snapshot
	digests map[string]*digest
}

// NewTracker creates a Tracker with the given start time, config and session id.
func NewTracker(startTime time.Time, cfg Config, sessionID string) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			SessionID: sessionID,
		},
		digests: make(map[string]*digest),
	}
}

// Update sets channel views, the rendered panel, and event counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(views []logic.ChannelView, panel []string, counts map[string]logic.EventCounts) {
	v := append([]logic.ChannelView(nil), views...)
	p := append([]string(nil), panel...)
	c := make(map[string]logic.EventCounts, len(counts))
	for k, n := range counts {
		c[k] = n
	}

	allStable := len(v) > 0
	for _, cv := range v {
		if cv.Phase != logic.PhaseStable {
			allStable = false
		}
	}

	t.mu.Lock()
	t.snap.Views = v
	t.snap.Panel = p
	t.snap.Counts = c
	t.snap.AllStable = allStable
	t.mu.Unlock()
}

// RecordStable adds a settled value to the signal's distribution.
func (t *Tracker) RecordStable(signal string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.digests[signal]
	if !ok {
		d = &digest{td: tdigest.NewWithCompression(50)}
		t.digests[signal] = d
	}
	d.td.Add(value, 1)
	d.count++
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	// Quantile compresses the digest, so this needs the write lock.
	t.mu.Lock()
	s := t.snap
	s.Stats = make(map[string]SignalStats, len(t.digests))
	for name, d := range t.digests {
		s.Stats[name] = SignalStats{
			Count: d.count,
			P50:   d.td.Quantile(0.5),
			P90:   d.td.Quantile(0.9),
		}
	}
	t.mu.Unlock()
	s.Now = time.Now()
	return s
}
