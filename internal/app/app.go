// v0
// internal/app/app.go
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"nrgchamp/room-events/internal/config"
	"nrgchamp/room-events/internal/event"
	"nrgchamp/room-events/internal/logging"
	"nrgchamp/room-events/internal/producer"
	"nrgchamp/room-events/internal/publisher"
	"nrgchamp/room-events/internal/tlsconfig"
)

// State is a lifecycle phase. Transitions only move forward.
type State string

const (
	StateStarting     State = "starting"
	StateConnected    State = "connected"
	StateShuttingDown State = "shutting_down"
	StateTerminated   State = "terminated"
)

// ProducerFactory opens the broker connection for cfg.Transport.
type ProducerFactory func(ctx context.Context, cfg config.Config, tlsCfg *tls.Config, log *slog.Logger) (producer.Producer, error)

// Application owns the logger, the broker connection and the produce loop.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	logFile io.Closer
	open    ProducerFactory
	clock   publisher.Clock

	mu    sync.Mutex
	state State
}

// Option customises an Application.
type Option func(*Application)

// WithProducerFactory replaces the transport selection.
func WithProducerFactory(f ProducerFactory) Option {
	return func(a *Application) {
		if f != nil {
			a.open = f
		}
	}
}

// WithLogger uses l instead of opening the configured log file.
func WithLogger(l *slog.Logger) Option {
	return func(a *Application) { a.logger = l }
}

// WithClock replaces the pacing clock.
func WithClock(c publisher.Clock) Option {
	return func(a *Application) { a.clock = c }
}

// New prepares an application for cfg. Nothing touches the network or the
// credential files until Run.
func New(cfg config.Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a := &Application{cfg: cfg, open: OpenProducer, state: StateStarting}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger, a.logFile = logging.New(cfg.LogFile, cfg.LogLevel)
	}
	return a, nil
}

// Logger exposes the configured logger.
func (a *Application) Logger() *slog.Logger { return a.logger }

// State reports the current lifecycle phase.
func (a *Application) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Close releases the log file.
func (a *Application) Close() error {
	if a.logFile == nil {
		return nil
	}
	return a.logFile.Close()
}

// Run loads credentials, opens the connection and publishes until ctx is
// cancelled. The connection is closed on every path that opened it.
func (a *Application) Run(ctx context.Context) (err error) {
	a.setState(StateStarting)
	defer a.setState(StateTerminated)

	tlsCfg, err := tlsconfig.Load(tlsconfig.Material{
		Keystore:    a.cfg.Keystore,
		KeyPassword: a.cfg.KeyPassword,
		Truststore:  a.cfg.Truststore,
	})
	if err != nil {
		a.setState(StateShuttingDown)
		return fmt.Errorf("load credentials: %w", err)
	}
	a.logger.Info("credentials_loaded",
		slog.String("keystore", a.cfg.Keystore.Location),
		slog.String("truststore", a.cfg.Truststore.Location),
	)

	gen, err := event.NewGenerator(event.Settings{
		Locations:   a.cfg.Locations,
		Temperature: event.Range{Min: a.cfg.TempMin, Max: a.cfg.TempMax},
		Humidity:    event.Range{Min: a.cfg.HumidityMin, Max: a.cfg.HumidityMax},
	}, event.NewSource(a.cfg.Seed))
	if err != nil {
		a.setState(StateShuttingDown)
		return fmt.Errorf("generator init: %w", err)
	}

	p, err := a.open(ctx, a.cfg, tlsCfg, a.logger.With(slog.String("component", "producer")))
	if err != nil {
		a.setState(StateShuttingDown)
		return fmt.Errorf("open %s producer: %w", a.cfg.Transport, err)
	}
	defer func() {
		a.setState(StateShuttingDown)
		if cerr := p.Close(); cerr != nil {
			a.logger.Error("producer_close_failed", slog.Any("err", cerr))
			err = errors.Join(err, cerr)
		}
	}()
	a.setState(StateConnected)

	var opts []publisher.Option
	if a.clock != nil {
		opts = append(opts, publisher.WithClock(a.clock))
	}
	loop, err := publisher.New(publisher.Config{
		Interval:  a.cfg.Interval,
		MaxEvents: a.cfg.MaxEvents,
		Policy:    a.cfg.DeliveryPolicy,
	}, gen, p, a.logger.With(slog.String("component", "publisher")), opts...)
	if err != nil {
		return fmt.Errorf("publisher init: %w", err)
	}
	return loop.Run(ctx)
}

func (a *Application) setState(next State) {
	a.mu.Lock()
	prev := a.state
	if prev == next || prev == StateTerminated {
		a.mu.Unlock()
		return
	}
	a.state = next
	a.mu.Unlock()
	a.logger.Info("state_change", slog.String("from", string(prev)), slog.String("to", string(next)))
}

// OpenProducer connects the transport named by cfg.Transport.
func OpenProducer(ctx context.Context, cfg config.Config, tlsCfg *tls.Config, log *slog.Logger) (producer.Producer, error) {
	switch cfg.Transport {
	case config.TransportKafka:
		return producer.NewKafka(ctx, producer.KafkaConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			Acks:        cfg.Acks,
			Partitioner: cfg.Partitioner,
			TLS:         tlsCfg,
			DialTimeout: cfg.DialTimeout,
			Breaker:     cfg.Breaker,
		}, log)
	case config.TransportMQTT:
		return producer.NewMQTT(ctx, producer.MQTTConfig{
			Broker:         strings.TrimSpace(cfg.Brokers[0]),
			ClientID:       cfg.MQTTClientID,
			Topic:          cfg.Topic,
			QoS:            byte(cfg.MQTTQoS),
			TLS:            tlsCfg,
			ConnectTimeout: cfg.DialTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
