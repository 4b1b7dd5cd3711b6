package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/checkup-sensor/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Ready         bool         `json:"ready"`
	AllStable     bool         `json:"all_stable"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	SessionID     string       `json:"session_id,omitempty"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Signals       []SignalJSON `json:"signals"`
	Panel         []string     `json:"panel,omitempty"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// SignalJSON is the JSON representation of one signal.
type SignalJSON struct {
	Name             string     `json:"name"`
	Phase            string     `json:"phase"`
	StableValue      *float64   `json:"stable_value,omitempty"`
	LastReading      *float64   `json:"last_reading,omitempty"`
	LastReadingValid bool       `json:"last_reading_valid"`
	WindowMs         int64      `json:"window_ms"`
	Counts           CountsJSON `json:"event_counts"`
	Stats            *StatsJSON `json:"stats,omitempty"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Acquired int `json:"acquired"`
	Stable   int `json:"stable"`
	Unstable int `json:"unstable"`
	Lost     int `json:"lost"`
}

// StatsJSON is the JSON representation of a signal's settled-value distribution.
type StatsJSON struct {
	Count int64   `json:"count"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64              `json:"poll_ms"`
	HeartbeatMs int64              `json:"heartbeat_ms"`
	Broker      string             `json:"broker"`
	HTTPPort    string             `json:"http_port"`
	Encoding    string             `json:"encoding,omitempty"`
	Panel       string             `json:"panel,omitempty"`
	WSBroker    string             `json:"ws_broker,omitempty"`
	Signals     []SignalConfigJSON `json:"signals,omitempty"`
}

// SignalConfigJSON is the JSON representation of one signal's filter settings.
type SignalConfigJSON struct {
	Name        string   `json:"name"`
	Type        string   `json:"type,omitempty"`
	Tolerance   float64  `json:"tolerance"`
	StabilityMs int64    `json:"stability_ms"`
	IntervalMs  int64    `json:"interval_ms"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
}

func ptr(v float64) *float64 { return &v }

func buildSignal(v logic.ChannelView, counts logic.EventCounts, stats SignalStats, hasStats bool) SignalJSON {
	s := SignalJSON{
		Name:             v.Name,
		Phase:            string(v.Phase),
		LastReadingValid: v.LastReadingValid,
		WindowMs:         v.WindowElapsed.Milliseconds(),
		Counts: CountsJSON{
			Acquired: counts.Acquired,
			Stable:   counts.Stable,
			Unstable: counts.Unstable,
			Lost:     counts.Lost,
		},
	}
	if s.Phase == "" {
		s.Phase = string(logic.PhaseEmpty)
	}
	if v.HasStable {
		s.StableValue = ptr(v.StableValue)
	}
	if v.HasLast {
		s.LastReading = ptr(v.LastReading)
	}
	if hasStats {
		s.Stats = &StatsJSON{Count: stats.Count, P50: stats.P50, P90: stats.P90}
	}
	return s
}

func buildInner(snap Snapshot) StatusInner {
	signals := make([]SignalJSON, 0, len(snap.Views))
	for _, v := range snap.Views {
		st, ok := snap.Stats[v.Name]
		signals = append(signals, buildSignal(v, snap.Counts[v.Name], st, ok))
	}

	cfgSignals := make([]SignalConfigJSON, 0, len(snap.Config.Signals))
	for _, s := range snap.Config.Signals {
		cfgSignals = append(cfgSignals, SignalConfigJSON{
			Name:        s.Name,
			Type:        s.Type,
			Tolerance:   s.Tolerance,
			StabilityMs: s.StabilityMs,
			IntervalMs:  s.IntervalMs,
			Min:         s.Min,
			Max:         s.Max,
		})
	}

	return StatusInner{
		Ready:         snap.Ready(),
		AllStable:     snap.AllStable,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		SessionID:     snap.SessionID,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Signals:       signals,
		Panel:         snap.Panel,
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			Encoding:    snap.Config.Encoding,
			Panel:       snap.Config.Panel,
			WSBroker:    snap.Config.WSBroker,
			Signals:     cfgSignals,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// Build returns the status envelope for the web endpoint (no event/reason).
func Build(snap Snapshot) StatusJSON {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)
	return StatusJSON{Status: inner}
}

// BuildEvent returns the status envelope for an MQTT system event.
func BuildEvent(snap Snapshot, event, reason string) StatusJSON {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)
	return StatusJSON{Status: inner}
}

// BuildSignal returns the JSON view of one signal. ok is false if the
// snapshot has no signal by that name.
func BuildSignal(snap Snapshot, name string) (s SignalJSON, ok bool) {
	for _, v := range snap.Views {
		if v.Name == name {
			st, hasStats := snap.Stats[name]
			return buildSignal(v, snap.Counts[name], st, hasStats), true
		}
	}
	return s, false
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Build(snap), "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	data, _ := json.Marshal(BuildEvent(snap, event, reason))
	return data
}
