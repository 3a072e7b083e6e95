// v1
// internal/producer/mqtt.go
package producer

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds the options for publishing over MQTT with mutual TLS.
type MQTTConfig struct {
	// Broker is host:port; the ssl:// scheme is added when missing.
	Broker         string
	ClientID       string
	Topic          string
	QoS            byte
	TLS            *tls.Config
	ConnectTimeout time.Duration
}

// mqttClient mirrors the subset of mqtt.Client used by the producer.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// envelope carries both documents in one MQTT payload, since MQTT 3.1.1
// has no message key.
type envelope struct {
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
}

// MQTT publishes envelopes to a single topic.
type MQTT struct {
	cfg    MQTTConfig
	log    *slog.Logger
	client mqttClient

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewMQTT connects to the broker and returns once the session is up.
func NewMQTT(ctx context.Context, cfg MQTTConfig, log *slog.Logger) (*MQTT, error) {
	if log == nil {
		return nil, errNilLogger
	}
	if cfg.TLS == nil {
		return nil, errNilTLS
	}
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errNoBrokers
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("topic must not be empty")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	brokerURL := cfg.Broker
	if !strings.Contains(brokerURL, "://") {
		brokerURL = "ssl://" + brokerURL
	}
	tlsCfg := cfg.TLS.Clone()
	if tlsCfg.ServerName == "" {
		host := brokerURL[strings.Index(brokerURL, "://")+3:]
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		tlsCfg.ServerName = host
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(cfg.ClientID).
		SetTLSConfig(tlsCfg).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectRetry(false).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt_connection_lost", "err", err)
		})
	c := mqtt.NewClient(opts)
	if err := connectMQTT(ctx, c, cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", brokerURL, err)
	}
	log.Info("mqtt_connected", "broker", brokerURL, "clientId", cfg.ClientID)
	return newMQTTWithClient(cfg, log, c), nil
}

type mqttConnector interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
}

// connectMQTT waits for the connect token. The client bounds the attempt by
// its connect timeout; on cancellation the attempt is still drained so no
// connect goroutine outlives the call.
func connectMQTT(ctx context.Context, c mqttConnector, timeout time.Duration) error {
	tok := c.Connect()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
	}
	c.Disconnect(0)
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("%w: connect attempt still pending after %s", ctx.Err(), timeout)
	}
	return ctx.Err()
}

// newMQTTWithClient wires an already connected client. It is used in tests.
func newMQTTWithClient(cfg MQTTConfig, log *slog.Logger, c mqttClient) *MQTT {
	return &MQTT{cfg: cfg, log: log, client: c}
}

// Send publishes the key and value wrapped in one envelope.
func (m *MQTT) Send(_ context.Context, key, value []byte) (*Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	payload, err := json.Marshal(envelope{Key: key, Value: value})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	d := NewDelivery(key)
	tok := m.client.Publish(m.cfg.Topic, m.cfg.QoS, false, payload)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-tok.Done()
		d.Resolve(tok.Error())
	}()
	return d, nil
}

// Close waits for in-flight publishes and disconnects.
func (m *MQTT) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.ConnectTimeout):
		m.log.Warn("mqtt_pending_publishes_abandoned")
	}
	m.client.Disconnect(250)
	m.log.Info("mqtt_disconnected", "topic", m.cfg.Topic)
	return nil
}
