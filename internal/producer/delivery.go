// v0
// internal/producer/delivery.go
package producer

import (
	"context"
	"sync"
)

// Delivery is resolved once the broker acknowledges or rejects a message.
// It is safe for concurrent use.
type Delivery struct {
	key string

	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	err       error
	callbacks []func(*Delivery)
}

// NewDelivery returns a pending delivery for the given serialized key.
func NewDelivery(key []byte) *Delivery {
	return &Delivery{key: string(key), done: make(chan struct{})}
}

// Key returns the serialized routing key the delivery belongs to.
func (d *Delivery) Key() string { return d.key }

// Done is closed when the outcome is known.
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Err returns the delivery error. It is nil until Done is closed.
func (d *Delivery) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Wait blocks until the delivery resolves or ctx ends.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnComplete registers fn to run once the outcome is known. If the delivery
// has already resolved, fn runs immediately on the caller's goroutine.
func (d *Delivery) OnComplete(fn func(*Delivery)) {
	d.mu.Lock()
	if d.resolved {
		d.mu.Unlock()
		fn(d)
		return
	}
	d.callbacks = append(d.callbacks, fn)
	d.mu.Unlock()
}

// Resolve records the outcome; only the first call has an effect. Producers
// call it from their client callbacks.
func (d *Delivery) Resolve(err error) {
	d.mu.Lock()
	if d.resolved {
		d.mu.Unlock()
		return
	}
	d.resolved = true
	d.err = err
	callbacks := d.callbacks
	d.callbacks = nil
	close(d.done)
	d.mu.Unlock()
	for _, fn := range callbacks {
		fn(d)
	}
}
