package logic

import (
	"fmt"
	"time"
)

// Monitor drives a fixed set of channels and reports phase transitions.
type Monitor struct {
	channels      []Channel
	index         map[string]Channel
	startTime     time.Time
	eventCounts   map[string]EventCounts
	lastHeartbeat time.Time
}

// NewMonitor creates a monitor over the given channels. Channel order is
// preserved in Views. The startTime is used for uptime in heartbeat events.
func NewMonitor(startTime time.Time, channels ...Channel) (*Monitor, error) {
	m := &Monitor{
		index:         make(map[string]Channel, len(channels)),
		startTime:     startTime,
		eventCounts:   make(map[string]EventCounts, len(channels)),
		lastHeartbeat: startTime,
	}
	for _, ch := range channels {
		if _, dup := m.index[ch.Name()]; dup {
			return nil, fmt.Errorf("logic: duplicate signal %q", ch.Name())
		}
		m.channels = append(m.channels, ch)
		m.index[ch.Name()] = ch
		m.eventCounts[ch.Name()] = EventCounts{}
	}
	return m, nil
}

// Process feeds one sample and returns any transition events it caused.
// Stable-to-stable value tracking emits nothing.
func (m *Monitor) Process(in Input) ([]Event, error) {
	ch, ok := m.index[in.Signal]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, in.Signal)
	}

	before := ch.Phase()
	ch.Feed(in.Value, in.Time)
	return m.emit(ch, before, in.Time), nil
}

// emit returns the event for ch moving from before to its current phase,
// if any, and counts it.
func (m *Monitor) emit(ch Channel, before Phase, now time.Time) []Event {
	after := ch.Phase()
	eventType, changed := transition(before, after)
	if !changed {
		return nil
	}

	view := ch.View(now)
	event := Event{
		Timestamp: now,
		Type:      eventType,
		Signal:    ch.Name(),
		Phase:     after,
	}
	switch {
	case view.HasStable:
		event.Value, event.HasValue = view.StableValue, true
	case view.HasLast:
		event.Value, event.HasValue = view.LastReading, true
	}

	counts := m.eventCounts[ch.Name()]
	switch eventType {
	case EventAcquired:
		counts.Acquired++
	case EventStable:
		counts.Stable++
	case EventUnstable:
		counts.Unstable++
	case EventLost:
		counts.Lost++
	}
	m.eventCounts[ch.Name()] = counts

	return []Event{event}
}

// transition maps a phase change to the event that reports it.
func transition(from, to Phase) (EventType, bool) {
	if from == to {
		return "", false
	}
	switch to {
	case PhaseEmpty:
		return EventLost, true
	case PhaseStable:
		return EventStable, true
	}
	// to == PhaseSettling
	if from == PhaseEmpty {
		return EventAcquired, true
	}
	return EventUnstable, true
}

// ResetAll resets every channel, e.g. after the sensor stream fails, and
// returns a LOST event for each channel that had a reading.
func (m *Monitor) ResetAll(now time.Time) []Event {
	var events []Event
	for _, ch := range m.channels {
		before := ch.Phase()
		ch.Reset()
		events = append(events, m.emit(ch, before, now)...)
	}
	return events
}

// Signals returns the channel names in order.
func (m *Monitor) Signals() []string {
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name()
	}
	return names
}

// Views returns snapshots of every channel in order.
func (m *Monitor) Views(now time.Time) []ChannelView {
	views := make([]ChannelView, len(m.channels))
	for i, ch := range m.channels {
		views[i] = ch.View(now)
	}
	return views
}

// AllStable reports whether every channel is stable. False with no channels.
func (m *Monitor) AllStable() bool {
	if len(m.channels) == 0 {
		return false
	}
	for _, ch := range m.channels {
		if ch.Phase() != PhaseStable {
			return false
		}
	}
	return true
}

// EventCountsSnapshot returns a copy of the per-signal event counts.
func (m *Monitor) EventCountsSnapshot() map[string]EventCounts {
	out := make(map[string]EventCounts, len(m.eventCounts))
	for k, v := range m.eventCounts {
		out[k] = v
	}
	return out
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (m *Monitor) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(m.lastHeartbeat) < interval {
		return nil
	}
	m.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(m.startTime),
		Counts:    m.EventCountsSnapshot(),
	}
}
