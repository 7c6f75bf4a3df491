// Package mqtt provides a publish.Sink that delivers sound events to an
// MQTT broker.
//
// Events are published as JSON to <topic_prefix>/<event_type> (e.g.
// "soundsentry/start"), matching what home-automation platforms expect from
// a sound profiler. The client auto-reconnects in the background; while the
// broker is unreachable, Publish fails fast instead of queueing, keeping the
// source workers' pipelines unblocked.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/soundsentry/soundsentry/pkg/publish"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
	defaultTopicPrefix    = "soundsentry"
)

// ErrNotConnected is returned by Publish while the client is disconnected
// from the broker.
var ErrNotConnected = errors.New("mqtt: not connected")

// Compile-time assertion that Sink satisfies publish.Sink.
var _ publish.Sink = (*Sink)(nil)

// Config holds broker connection settings for a [Sink].
type Config struct {
	// BrokerURL is the broker address, e.g. "tcp://mqtt.local:1883".
	BrokerURL string

	// ClientID identifies this client to the broker. A random suffix is
	// appended so that restarts and multiple instances do not steal each
	// other's session. Defaults to "soundsentry".
	ClientID string

	// Username and Password are optional broker credentials.
	Username string
	Password string

	// TopicPrefix is prepended to the per-event-type topic.
	// Defaults to "soundsentry".
	TopicPrefix string

	// PublishTimeout bounds a single publish attempt. Defaults to 2 s.
	PublishTimeout time.Duration

	// QoS is the MQTT quality-of-service level for event messages (0–2).
	QoS byte
}

// Sink publishes events to an MQTT broker.
type Sink struct {
	client      pahomqtt.Client
	topicPrefix string
	timeout     time.Duration
	qos         byte
}

// New connects to the broker and returns a ready Sink. The initial
// connection attempt is bounded; after it succeeds, the paho client keeps
// the connection alive and re-establishes it on loss.
func New(cfg Config) (*Sink, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt: broker URL must not be empty")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultTopicPrefix
	}
	clientID = fmt.Sprintf("%s-%s", clientID, uuid.NewString()[:8])

	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(false)

	opts.OnConnect = func(pahomqtt.Client) {
		slog.Info("mqtt connected", "broker", cfg.BrokerURL, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		slog.Warn("mqtt connection lost, auto-reconnecting", "broker", cfg.BrokerURL, "err", err)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s: timeout", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.BrokerURL, err)
	}

	return &Sink{
		client:      client,
		topicPrefix: prefix,
		timeout:     timeout,
		qos:         cfg.QoS,
	}, nil
}

// Connected reports whether the broker connection is currently up.
func (s *Sink) Connected() bool {
	return s.client.IsConnected()
}

// Publish implements publish.Sink. The attempt is bounded by the configured
// publish timeout and by ctx, whichever ends first.
func (s *Sink) Publish(ctx context.Context, ev publish.Event) error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("mqtt: marshal event: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", s.topicPrefix, ev.Type)
	token := s.client.Publish(topic, s.qos, false, payload)

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt: publish to %s: timeout after %s", topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}

	slog.Debug("event published", "topic", topic, "source", ev.Source, "group", ev.Group)
	return nil
}

// Close disconnects from the broker, allowing a short grace period for
// in-flight messages.
func (s *Sink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}
