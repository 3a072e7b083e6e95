// v2
// internal/producer/kafka.go
package producer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"nrgchamp/room-events/internal/circuitbreaker"
)

const (
	kafkaClientID    = "room-events-producer"
	kafkaBreakerName = "room-events-writer"
)

// KafkaConfig encapsulates the options required to publish to a Kafka topic over TLS.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Acks        int
	Partitioner string
	TLS         *tls.Config
	DialTimeout time.Duration
	Breaker     circuitbreaker.Settings
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka publishes through a kafka.Writer. Without a breaker the writer runs
// asynchronously and deliveries resolve from its completion callback; with
// the breaker enabled each Send blocks until the write succeeds or gives up.
type Kafka struct {
	cfg    KafkaConfig
	log    *slog.Logger
	writer kafkaMessageWriter
	closer io.Closer
	async  bool

	mu     sync.Mutex
	closed bool
}

// NewKafka verifies that a broker accepts a TLS connection and returns a
// producer bound to cfg.Topic. An unreachable broker or a failed handshake
// is returned as an error.
func NewKafka(ctx context.Context, cfg KafkaConfig, log *slog.Logger) (*Kafka, error) {
	if log == nil {
		return nil, errNilLogger
	}
	if cfg.TLS == nil {
		return nil, errNilTLS
	}
	if len(cfg.Brokers) == 0 {
		return nil, errNoBrokers
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("topic must not be empty")
	}
	balancer, err := resolveBalancer(cfg.Partitioner)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	dialer := &kafka.Dialer{
		ClientID:  kafkaClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
		TLS:       cfg.TLS,
	}
	probe := func(ctx context.Context) error { return probeBrokers(ctx, dialer, cfg.Brokers) }
	if err := probe(ctx); err != nil {
		return nil, fmt.Errorf("connect to brokers: %w", err)
	}
	log.Info("kafka_broker_reachable", "brokers", cfg.Brokers)

	breaker, err := circuitbreaker.NewKafkaBreaker(kafkaBreakerName, cfg.Breaker, probe, log)
	if err != nil {
		return nil, err
	}
	if breaker.Enabled() {
		log.Info("kafka_writer_cb_enabled", "name", kafkaBreakerName)
	}

	k := &Kafka{cfg: cfg, log: log, async: !breaker.Enabled()}
	base := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               balancer,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  k.async,
		Completion:             k.complete,
		Transport: &kafka.Transport{
			ClientID:    kafkaClientID,
			DialTimeout: cfg.DialTimeout,
			TLS:         cfg.TLS,
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Debug("kafka_client_error", "detail", fmt.Sprintf(msg, args...))
		}),
	}
	k.writer = circuitbreaker.NewCBKafkaWriter(base, breaker)
	k.closer = base
	return k, nil
}

// newKafkaWithWriter wires the provided writer into the producer. It is used in tests.
func newKafkaWithWriter(cfg KafkaConfig, log *slog.Logger, writer kafkaMessageWriter, closer io.Closer, async bool) (*Kafka, error) {
	if log == nil {
		return nil, errNilLogger
	}
	if writer == nil {
		return nil, errors.New("producer requires a writer")
	}
	return &Kafka{cfg: cfg, log: log, writer: writer, closer: closer, async: async}, nil
}

// Send hands one keyed message to the writer.
func (k *Kafka) Send(ctx context.Context, key, value []byte) (*Delivery, error) {
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return nil, errClosed
	}
	d := NewDelivery(key)
	msg := kafka.Message{Key: key, Value: value, WriterData: d}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		d.Resolve(err)
		return nil, fmt.Errorf("kafka write: %w", err)
	}
	if !k.async {
		d.Resolve(nil)
	}
	return d, nil
}

// complete is the writer's completion callback. In synchronous mode Send
// resolves deliveries itself, since a failed attempt may still be retried.
func (k *Kafka) complete(msgs []kafka.Message, err error) {
	if !k.async {
		return
	}
	for _, m := range msgs {
		if d, ok := m.WriterData.(*Delivery); ok {
			d.Resolve(err)
		}
	}
}

// Close flushes pending asynchronous writes and releases the connections.
func (k *Kafka) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()
	if k.closer == nil {
		return nil
	}
	if err := k.closer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	k.log.Info("kafka_writer_closed", "topic", k.cfg.Topic)
	return nil
}

func probeBrokers(ctx context.Context, dialer *kafka.Dialer, brokers []string) error {
	var errs []error
	for _, b := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", b)
		if err != nil {
			errs = append(errs, fmt.Errorf("dial %s: %w", b, err))
			continue
		}
		_ = conn.Close()
		return nil
	}
	return errors.Join(errs...)
}

// ValidatePartitioner reports whether name selects a known balancer.
func ValidatePartitioner(name string) error {
	_, err := resolveBalancer(name)
	return err
}

func resolveBalancer(partitioner string) (kafka.Balancer, error) {
	switch partitioner {
	case "", "hash":
		// Same key hashing as the Java client's default partitioner.
		return &kafka.Murmur2Balancer{}, nil
	case "roundrobin":
		return &kafka.RoundRobin{}, nil
	case "leastbytes":
		return &kafka.LeastBytes{}, nil
	default:
		return nil, fmt.Errorf("unsupported partitioner: %s", partitioner)
	}
}
