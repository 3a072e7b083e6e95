// v0
// internal/producer/producer.go
package producer

import (
	"context"
	"errors"
)

// Producer hands serialized messages to a broker client. Send returns once
// the client has accepted the message; the broker outcome arrives later on
// the returned Delivery.
type Producer interface {
	Send(ctx context.Context, key, value []byte) (*Delivery, error)
	Close() error
}

var (
	errNilLogger = errors.New("producer requires a logger")
	errNilTLS    = errors.New("producer requires a TLS configuration")
	errNoBrokers = errors.New("at least one broker is required")
	errClosed    = errors.New("producer closed")
)
