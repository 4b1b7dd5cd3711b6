// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sweeney/checkup-sensor/internal/logic"
)

// Topic is the MQTT topic for signal transition events.
const Topic = "checkup/sensor/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "checkup/sensor/system"

// Encoding selects the wire format of published payloads.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// ParseEncoding returns the Encoding named by s.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case EncodingJSON, "":
		return EncodingJSON, nil
	case EncodingCBOR:
		return EncodingCBOR, nil
	}
	return "", fmt.Errorf("mqtt: unknown encoding %q", s)
}

// cborEncMode emits deterministic CBOR so identical events produce
// identical payloads.
var cborEncMode cbor.EncMode

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339,
	}
	cborEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}
}

// Marshal encodes v in the given encoding. Struct json tags are honoured
// by both encoders.
func (e Encoding) Marshal(v any) ([]byte, error) {
	if e == EncodingCBOR {
		return cborEncMode.Marshal(v)
	}
	return json.Marshal(v)
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a signal transition event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp time.Time
	Event     string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason    string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	Body      any    // Full payload (e.g. a status snapshot); if set, it is encoded instead of the short form
	Retained  bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Signal SignalPayload `json:"signal"`
}

// SignalPayload contains the transition event details.
type SignalPayload struct {
	Timestamp string   `json:"timestamp"`
	Event     string   `json:"event"`
	Name      string   `json:"name"`
	Phase     string   `json:"phase"`
	Value     *float64 `json:"value,omitempty"`
}

func buildPayload(event logic.Event) Payload {
	p := Payload{
		Signal: SignalPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Name:      event.Signal,
			Phase:     string(event.Phase),
		},
	}
	if event.HasValue {
		v := event.Value
		p.Signal.Value = &v
	}
	return p
}

// FormatPayload creates the JSON payload for a transition event.
func FormatPayload(event logic.Event) ([]byte, error) {
	return FormatPayloadAs(EncodingJSON, event)
}

// FormatPayloadAs creates the payload for a transition event in enc.
func FormatPayloadAs(enc Encoding, event logic.Event) ([]byte, error) {
	return enc.Marshal(buildPayload(event))
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	return FormatSystemPayloadAs(EncodingJSON, event)
}

// FormatSystemPayloadAs creates the payload for a system event in enc.
// If event.Body is set, it is encoded as the whole payload.
func FormatSystemPayloadAs(enc Encoding, event SystemEvent) ([]byte, error) {
	if event.Body != nil {
		return enc.Marshal(event.Body)
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return enc.Marshal(payload)
}
