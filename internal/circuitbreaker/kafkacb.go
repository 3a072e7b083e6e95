// v3
// internal/circuitbreaker/kafkacb.go
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// kafkaMessageWriter mirrors the subset of kafka.Writer used by the breaker wrapper.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// minOpenWait bounds the retry rate while an open breaker has no cooldown left.
const minOpenWait = 10 * time.Millisecond

// Settings are the runtime tunables of a KafkaBreaker.
type Settings struct {
	Enabled          bool
	MaxFailures      int
	SuccessesToClose int
	ResetTimeout     time.Duration
	AttemptTimeout   time.Duration
	Backoff          time.Duration
}

// Validate checks the tunables of an enabled breaker. Disabled settings are
// always valid.
func (s Settings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.MaxFailures < 1 {
		return fmt.Errorf("max.failures must be >= 1: %d", s.MaxFailures)
	}
	if s.SuccessesToClose < 1 {
		return fmt.Errorf("successes.to.close must be >= 1: %d", s.SuccessesToClose)
	}
	if s.ResetTimeout <= 0 {
		return fmt.Errorf("reset.timeout must be > 0: %s", s.ResetTimeout)
	}
	if s.AttemptTimeout < 0 {
		return fmt.Errorf("attempt.timeout must be >= 0: %s", s.AttemptTimeout)
	}
	if s.Backoff < 0 {
		return fmt.Errorf("backoff must be >= 0: %s", s.Backoff)
	}
	return nil
}

// KafkaBreaker contains the runtime tunables for the Kafka writer wrapper.
type KafkaBreaker struct {
	enabled          bool
	failureThreshold int
	timeout          time.Duration
	backoff          time.Duration
	breaker          *Breaker
}

// Enabled reports whether breaker protections are active.
func (k *KafkaBreaker) Enabled() bool {
	return k != nil && k.enabled && k.breaker != nil
}

// Breaker exposes the underlying breaker for inspection and testing.
func (k *KafkaBreaker) Breaker() *Breaker {
	if k == nil {
		return nil
	}
	return k.breaker
}

// NewKafkaBreaker validates s and builds a KafkaBreaker. A disabled breaker
// is returned as a pass-through value rather than nil.
func NewKafkaBreaker(name string, s Settings, probe func(ctx context.Context) error, logger *slog.Logger) (*KafkaBreaker, error) {
	if !s.Enabled {
		return &KafkaBreaker{}, nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	cfg := Config{
		MaxFailures:      s.MaxFailures,
		ResetTimeout:     s.ResetTimeout,
		SuccessesToClose: s.SuccessesToClose,
	}
	return &KafkaBreaker{
		enabled:          true,
		failureThreshold: s.MaxFailures,
		timeout:          s.AttemptTimeout,
		backoff:          s.Backoff,
		breaker:          New(name, cfg, probe, logger),
	}, nil
}

// CBKafkaWriter wraps a kafka.Writer with circuit-breaker protection.
type CBKafkaWriter struct {
	breaker *KafkaBreaker
	writer  kafkaMessageWriter
}

// NewCBKafkaWriter wires breaker protections around the provided kafka writer.
func NewCBKafkaWriter(writer kafkaMessageWriter, breaker *KafkaBreaker) *CBKafkaWriter {
	return &CBKafkaWriter{writer: writer, breaker: breaker}
}

// WriteMessages publishes messages with retry/back-off driven by the breaker policy.
func (w *CBKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w == nil || w.writer == nil {
		return errors.New("nil kafka writer")
	}
	if !w.breaker.Enabled() {
		return w.writer.WriteMessages(ctx, msgs...)
	}
	return w.breaker.do(ctx, func(execCtx context.Context) error {
		return w.writer.WriteMessages(execCtx, msgs...)
	})
}

func (k *KafkaBreaker) do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempts++
		attemptCtx, cancel := k.withAttemptContext(ctx)
		err := k.breaker.Execute(attemptCtx, op)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrOpen) {
			if waitErr := k.waitOpen(ctx); waitErr != nil {
				return waitErr
			}
			continue
		}
		if attempts >= k.failureThreshold {
			return err
		}
		if waitErr := k.waitBackoff(ctx); waitErr != nil {
			return waitErr
		}
	}
}

func (k *KafkaBreaker) withAttemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if k.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, k.timeout)
}

// waitOpen pauses while the breaker is open. Without a backoff it sleeps
// until the breaker is due for its next probe.
func (k *KafkaBreaker) waitOpen(ctx context.Context) error {
	d := k.backoff
	if d <= 0 {
		d = k.breaker.Cooldown()
	}
	if d <= 0 {
		d = minOpenWait
	}
	return sleepCtx(ctx, d)
}

func (k *KafkaBreaker) waitBackoff(ctx context.Context) error {
	if k.backoff <= 0 {
		return nil
	}
	return sleepCtx(ctx, k.backoff)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
