package mqtt

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sweeney/checkup-sensor/internal/logic"
)

// DefaultBufferSize is how many messages are kept while the broker is unreachable.
const DefaultBufferSize = 100

// ErrNotConnected is returned when a message was buffered instead of sent.
var ErrNotConnected = errors.New("mqtt: not connected, message buffered")

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string   // empty = NewClientID()
	Encoding   Encoding // empty = JSON
	BufferSize int      // <= 0 = DefaultBufferSize
}

// NewClientID returns a client ID unique to this process, so two daemons on
// the same broker don't kick each other off.
func NewClientID() string {
	return "checkup-sensor-" + uuid.NewString()[:8]
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client   paho.Client
	topic    string
	encoding Encoding

	mu            sync.Mutex
	outbox        *outbox
	connected     bool // set by onConnect, cleared when the connection drops
	everConnected bool
}

// NewRealPublisher creates a publisher connected to the given broker.
// The broker holds a retained OFFLINE message that it publishes on our
// behalf if the connection drops uncleanly.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = NewClientID()
	}
	if opts.Encoding == "" {
		opts.Encoding = EncodingJSON
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	will, err := FormatSystemPayloadAs(opts.Encoding, SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	p := &RealPublisher{
		topic:    Topic,
		encoding: opts.Encoding,
		outbox:   newOutbox(opts.BufferSize),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	client := paho.NewClient(clientOpts)
	p.client = client

	// With ConnectRetry the token only completes once a connection is made,
	// so a timeout here means paho keeps retrying in the background while
	// publishes are buffered.
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, retrying every 5s", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect runs on every (re)connection. After a reconnect, anything queued
// while offline is replayed in order, then RECONNECTED is announced.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.everConnected
	p.everConnected = true
	p.connected = true
	pending, dropped := p.outbox.drain()
	p.mu.Unlock()

	if dropped > 0 {
		log.Printf("mqtt: %d messages dropped while offline", dropped)
	}
	if len(pending) > 0 {
		log.Printf("mqtt: replaying %d buffered messages", len(pending))
	}
	for _, msg := range pending {
		if err := p.send(msg); err != nil {
			log.Printf("mqtt: replay failed: %v", err)
		}
	}

	if reconnect || len(pending) > 0 {
		payload, err := FormatSystemPayloadAs(p.encoding, SystemEvent{
			Timestamp: time.Now(),
			Event:     "RECONNECTED",
		})
		if err != nil {
			log.Printf("mqtt: format reconnected payload: %v", err)
			return
		}
		if err := p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1}); err != nil {
			log.Printf("mqtt: publish reconnected: %v", err)
		}
	}
}

func (p *RealPublisher) onConnectionLost(c paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.Printf("mqtt: connection lost: %v", err)
}

// Publish sends a signal transition event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayloadAs(p.encoding, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: p.topic, payload: payload, qos: 0})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayloadAs(p.encoding, event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// publish sends msg now, or queues it for replay if the connection is down.
// The check and the push share mu with onConnect's drain, so a message is
// either drained by the next connect or sent directly.
func (p *RealPublisher) publish(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		p.outbox.push(msg)
		p.mu.Unlock()
		return ErrNotConnected
	}
	p.mu.Unlock()
	return p.send(msg)
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a reconnect.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
