// v0
// internal/publisher/loop.go
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"nrgchamp/room-events/internal/event"
	"nrgchamp/room-events/internal/producer"
)

// Policy selects what the loop does with a delivery future.
type Policy string

const (
	// PolicyIgnore drops the future; delivery is fire-and-forget.
	PolicyIgnore Policy = "ignore"
	// PolicyLog logs the outcome from a completion callback.
	PolicyLog Policy = "log"
	// PolicyAwait blocks the loop until the broker answers.
	PolicyAwait Policy = "await"
)

// Validate rejects unknown policies.
func (p Policy) Validate() error {
	switch p {
	case PolicyIgnore, PolicyLog, PolicyAwait:
		return nil
	default:
		return fmt.Errorf("unsupported delivery policy %q", string(p))
	}
}

// DefaultInterval is the pause between two publishes.
const DefaultInterval = 1000 * time.Millisecond

// Clock abstracts time for pacing.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Sender is the part of a producer the loop needs.
type Sender interface {
	Send(ctx context.Context, key, value []byte) (*producer.Delivery, error)
}

// Config controls pacing and delivery handling.
type Config struct {
	Interval  time.Duration
	MaxEvents int
	Policy    Policy
}

// Stats counts loop outcomes. Delivered and Failed only move for the log
// and await policies.
type Stats struct {
	Sent      int64
	Delivered int64
	Failed    int64
}

// Loop builds, serializes and publishes one reading per interval.
type Loop struct {
	cfg    Config
	gen    *event.Generator
	sender Sender
	clock  Clock
	log    *slog.Logger

	sent      atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// Option customises a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock used for pacing.
func WithClock(c Clock) Option {
	return func(l *Loop) {
		if c != nil {
			l.clock = c
		}
	}
}

// New validates cfg and returns a loop ready to Run.
func New(cfg Config, gen *event.Generator, sender Sender, log *slog.Logger, opts ...Option) (*Loop, error) {
	if gen == nil {
		return nil, errors.New("publisher requires a generator")
	}
	if sender == nil {
		return nil, errors.New("publisher requires a sender")
	}
	if log == nil {
		return nil, errors.New("publisher requires a logger")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("interval must not be negative, got %s", cfg.Interval)
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxEvents < 0 {
		return nil, fmt.Errorf("max events must not be negative, got %d", cfg.MaxEvents)
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyLog
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	l := &Loop{cfg: cfg, gen: gen, sender: sender, clock: RealClock(), log: log}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run publishes until ctx is cancelled or MaxEvents readings were sent.
// Cancellation is a clean stop and returns nil. A send error before the
// first accepted message is returned; later send errors are logged and the
// loop keeps its pace.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("producer_started", "interval", l.cfg.Interval.String(), "policy", string(l.cfg.Policy), "maxEvents", l.cfg.MaxEvents)
	for n := 1; ; n++ {
		if ctx.Err() != nil {
			l.log.Info("producer_stopped", "sent", l.sent.Load())
			return nil
		}
		if err := l.publishOne(ctx); err != nil {
			if ctx.Err() != nil {
				l.log.Info("producer_stopped", "sent", l.sent.Load())
				return nil
			}
			if l.sent.Load() == 0 {
				return fmt.Errorf("first publish: %w", err)
			}
			l.log.Warn("publish_failed", "err", err)
		}
		if l.cfg.MaxEvents > 0 && n >= l.cfg.MaxEvents {
			l.log.Info("producer_batch_complete", "sent", l.sent.Load())
			return nil
		}
		select {
		case <-ctx.Done():
			l.log.Info("producer_stopped", "sent", l.sent.Load())
			return nil
		case <-l.clock.After(l.cfg.Interval):
		}
	}
}

// Stats returns a snapshot of the counters.
func (l *Loop) Stats() Stats {
	return Stats{Sent: l.sent.Load(), Delivered: l.delivered.Load(), Failed: l.failed.Load()}
}

func (l *Loop) publishOne(ctx context.Context) error {
	ev := l.gen.Event()
	key, err := l.gen.Key()
	if err != nil {
		return err
	}
	k, v, err := event.Encode(key, ev)
	if err != nil {
		return err
	}
	d, err := l.sender.Send(ctx, k, v)
	if err != nil {
		return err
	}
	l.sent.Add(1)
	l.log.Debug("event_published", "key", key.Key, "id", ev.ID, "time", ev.Time,
		"temperature", ev.Temperature, "humidity", ev.Humidity)

	switch l.cfg.Policy {
	case PolicyLog:
		d.OnComplete(func(d *producer.Delivery) { l.record(key.Key, d.Err()) })
	case PolicyAwait:
		if err := d.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.record(key.Key, err)
			return nil
		}
		l.record(key.Key, nil)
	}
	return nil
}

func (l *Loop) record(key string, err error) {
	if err != nil {
		l.failed.Add(1)
		l.log.Warn("delivery_failed", "key", key, "err", err)
		return
	}
	l.delivered.Add(1)
	l.log.Debug("event_delivered", "key", key)
}
