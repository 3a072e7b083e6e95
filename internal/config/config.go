// v1
// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"

	"nrgchamp/room-events/internal/circuitbreaker"
	"nrgchamp/room-events/internal/producer"
	"nrgchamp/room-events/internal/publisher"
	"nrgchamp/room-events/internal/tlsconfig"
)

// Config captures the static settings of the room-events producer. All
// values come from a Java-style properties file; the credential paths are
// resolved relative to the working directory.
type Config struct {
	// PropertiesPath records where the values were loaded from.
	PropertiesPath string

	// Brokers lists the bootstrap servers (host:port).
	Brokers []string
	// SecurityProtocol is always SSL; anything else is rejected.
	SecurityProtocol string
	Keystore         Store
	// KeyPassword unlocks the private key inside the keystore.
	KeyPassword string
	Truststore  Store

	Topic     string
	Transport string

	Interval    time.Duration
	Locations   []string
	TempMin     int
	TempMax     int
	HumidityMin int
	HumidityMax int
	Seed        uint64
	MaxEvents   int

	DeliveryPolicy publisher.Policy
	Acks           int
	Partitioner    string
	DialTimeout    time.Duration

	MQTTClientID string
	MQTTQoS      int

	Breaker circuitbreaker.Settings

	LogFile  string
	LogLevel string
}

// Store locates a keystore or truststore on disk.
type Store = tlsconfig.Store

const (
	DefaultPropertiesPath = "resources/producer.properties"

	defaultTopic          = "room-events"
	defaultKeystorePath   = "resources/client.keystore.p12"
	defaultTruststorePath = "resources/client.truststore.jks"
	defaultInterval       = 1000 * time.Millisecond
	defaultLocations      = "kitchen,living,dining"
	defaultLogFile        = "logs/room-events.log"
)

// Transports.
const (
	TransportKafka = "kafka"
	TransportMQTT  = "mqtt"
)

var errMissingBrokers = errors.New("bootstrap.servers must list at least one broker")

// Load reads DefaultPropertiesPath under the working directory. The process
// reads no environment variables.
func Load() (Config, error) {
	return LoadFile(DefaultPropertiesPath)
}

// LoadFile parses and validates the properties file at path.
func LoadFile(path string) (Config, error) {
	loader := properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot load properties file: %w", err)
	}
	cfg, err := FromProperties(p)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.PropertiesPath = path
	return cfg, nil
}

// FromProperties applies defaults, reads every known key and validates the result.
func FromProperties(p *properties.Properties) (Config, error) {
	r := reader{p: p}
	cfg := Config{
		Brokers:          splitCSV(r.str("bootstrap.servers", "")),
		SecurityProtocol: strings.ToUpper(r.str("security.protocol", "SSL")),
		Keystore: Store{
			Type:     strings.ToUpper(r.str("ssl.keystore.type", tlsconfig.TypePKCS12)),
			Location: filepath.Clean(r.str("ssl.keystore.location", defaultKeystorePath)),
			Password: r.raw("ssl.keystore.password"),
		},
		Truststore: Store{
			Type:     strings.ToUpper(r.str("ssl.truststore.type", tlsconfig.TypeJKS)),
			Location: filepath.Clean(r.str("ssl.truststore.location", defaultTruststorePath)),
			Password: r.raw("ssl.truststore.password"),
		},
		Topic:          r.str("topic", defaultTopic),
		Transport:      strings.ToLower(r.str("transport", TransportKafka)),
		Interval:       r.getDuration("producer.interval", defaultInterval),
		Locations:      splitCSV(r.str("producer.locations", defaultLocations)),
		TempMin:        r.getInt("producer.temperature.min", 50),
		TempMax:        r.getInt("producer.temperature.max", 80),
		HumidityMin:    r.getInt("producer.humidity.min", 20),
		HumidityMax:    r.getInt("producer.humidity.max", 40),
		Seed:           r.getUint64("producer.seed", 0),
		MaxEvents:      r.getInt("producer.max.events", 0),
		DeliveryPolicy: publisher.Policy(strings.ToLower(r.str("delivery.policy", string(publisher.PolicyLog)))),
		Acks:           r.getInt("acks", -1),
		Partitioner:    strings.ToLower(r.str("partitioner", "hash")),
		DialTimeout:    r.getDuration("connect.timeout", 10*time.Second),
		MQTTClientID:   r.str("mqtt.client.id", "room-events-producer"),
		MQTTQoS:        r.getInt("mqtt.qos", 1),
		Breaker: circuitbreaker.Settings{
			Enabled:          r.getBool("breaker.enabled", false),
			MaxFailures:      r.getInt("breaker.max.failures", 5),
			SuccessesToClose: r.getInt("breaker.successes.to.close", 2),
			ResetTimeout:     r.getDuration("breaker.reset.timeout", 30*time.Second),
			AttemptTimeout:   r.getDuration("breaker.attempt.timeout", 3*time.Second),
			Backoff:          r.getDuration("breaker.backoff", 200*time.Millisecond),
		},
		LogFile:  r.raw("log.file"),
		LogLevel: r.str("log.level", "info"),
	}
	if _, ok := p.Get("log.file"); !ok {
		cfg.LogFile = defaultLogFile
	}
	cfg.KeyPassword = cfg.Keystore.Password
	if v, ok := p.Get("ssl.key.password"); ok {
		cfg.KeyPassword = v
	}
	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the configuration is internally consistent before use.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errMissingBrokers
	}
	if c.SecurityProtocol != "SSL" {
		return fmt.Errorf("unsupported security.protocol %q: only SSL is allowed", c.SecurityProtocol)
	}
	if err := tlsconfig.ValidateKeystore(c.Keystore); err != nil {
		return fmt.Errorf("ssl.keystore.%w", err)
	}
	if err := tlsconfig.ValidateTruststore(c.Truststore); err != nil {
		return fmt.Errorf("ssl.truststore.%w", err)
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("topic must not be empty")
	}
	switch c.Transport {
	case TransportKafka, TransportMQTT:
	default:
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("producer.interval must be > 0: %s", c.Interval)
	}
	if len(c.Locations) == 0 {
		return errors.New("producer.locations must list at least one location")
	}
	if c.TempMin >= c.TempMax {
		return fmt.Errorf("producer.temperature range [%d, %d) is empty", c.TempMin, c.TempMax)
	}
	if c.HumidityMin >= c.HumidityMax {
		return fmt.Errorf("producer.humidity range [%d, %d) is empty", c.HumidityMin, c.HumidityMax)
	}
	if c.MaxEvents < 0 {
		return fmt.Errorf("producer.max.events must be >= 0: %d", c.MaxEvents)
	}
	if err := c.DeliveryPolicy.Validate(); err != nil {
		return fmt.Errorf("delivery.policy: %w", err)
	}
	if c.Acks != -1 && c.Acks != 0 && c.Acks != 1 {
		return fmt.Errorf("acks must be -1, 0, or 1: %d", c.Acks)
	}
	if err := producer.ValidatePartitioner(c.Partitioner); err != nil {
		return fmt.Errorf("partitioner: %w", err)
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1, or 2: %d", c.MQTTQoS)
	}
	if err := c.Breaker.Validate(); err != nil {
		return fmt.Errorf("breaker.%w", err)
	}
	return nil
}

// reader collects parse errors instead of silently falling back to defaults.
type reader struct {
	p    *properties.Properties
	errs []error
}

func (r *reader) raw(key string) string {
	v, _ := r.p.Get(key)
	return v
}

func (r *reader) str(key, def string) string {
	if v, ok := r.p.Get(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) getInt(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) getUint64(key string, def uint64) uint64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) getBool(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	r.errs = append(r.errs, fmt.Errorf("invalid %s: %q is not a boolean", key, v))
	return def
}

// getDuration accepts Go duration strings or a bare number of milliseconds.
func (r *reader) getDuration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) lookup(key string) (string, bool) {
	v, ok := r.p.Get(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
