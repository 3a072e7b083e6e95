// v0
// internal/producer/delivery_test.go
package producer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDeliveryResolvesOnce(t *testing.T) {
	d := NewDelivery([]byte(`{"key":"k"}`))
	first := errors.New("first")
	d.Resolve(first)
	d.Resolve(nil)

	select {
	case <-d.Done():
	default:
		t.Fatalf("expected Done to be closed")
	}
	if !errors.Is(d.Err(), first) {
		t.Fatalf("expected first outcome to win, got %v", d.Err())
	}
	if d.Key() != `{"key":"k"}` {
		t.Fatalf("unexpected key %q", d.Key())
	}
}

func TestDeliveryOnCompleteBeforeAndAfterResolve(t *testing.T) {
	d := NewDelivery(nil)
	var calls []string
	d.OnComplete(func(*Delivery) { calls = append(calls, "early") })
	if len(calls) != 0 {
		t.Fatalf("callback must not run before resolve")
	}
	d.Resolve(nil)
	d.OnComplete(func(*Delivery) { calls = append(calls, "late") })

	if len(calls) != 2 || calls[0] != "early" || calls[1] != "late" {
		t.Fatalf("unexpected callback order: %v", calls)
	}
}

func TestDeliveryWait(t *testing.T) {
	d := NewDelivery(nil)
	want := errors.New("rejected")
	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Resolve(want)
	}()
	if err := d.Wait(context.Background()); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}

	pending := NewDelivery(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pending.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
