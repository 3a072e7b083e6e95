// v0
// internal/publisher/loop_test.go
package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"nrgchamp/room-events/internal/event"
	"nrgchamp/room-events/internal/producer"
)

type fakeClock struct {
	mu         sync.Mutex
	now        time.Time
	timers     []fakeTimer
	afterCalls chan time.Duration
}

type fakeTimer struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start, afterCalls: make(chan time.Duration, 16)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.timers = append(c.timers, fakeTimer{at: c.now.Add(d), ch: ch})
	c.mu.Unlock()
	c.afterCalls <- d
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.timers[:0]
	for _, tm := range c.timers {
		if !tm.at.After(c.now) {
			tm.ch <- c.now
			continue
		}
		kept = append(kept, tm)
	}
	c.timers = kept
}

type sentMessage struct {
	at    time.Time
	key   []byte
	value []byte
}

// fakeSender records messages and hands back deliveries the test resolves.
type fakeSender struct {
	mu         sync.Mutex
	clock      Clock
	messages   []sentMessage
	deliveries []*producer.Delivery
	err        error
	// autoResolve resolves every delivery right away with this outcome.
	autoResolve bool
	outcome     error
}

func (s *fakeSender) Send(_ context.Context, key, value []byte) (*producer.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var at time.Time
	if s.clock != nil {
		at = s.clock.Now()
	}
	s.messages = append(s.messages, sentMessage{at: at, key: key, value: value})
	d := producer.NewDelivery(key)
	if s.autoResolve {
		d.Resolve(s.outcome)
	}
	s.deliveries = append(s.deliveries, d)
	return d, nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type scriptedSource struct{ values []int }

func (s *scriptedSource) IntN(n int) int {
	v := s.values[0]
	s.values = append(s.values[1:], v)
	return v % n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGenerator(t *testing.T, now func() time.Time) *event.Generator {
	t.Helper()
	g, err := event.NewGenerator(event.DefaultSettings(), event.NewSource(7), event.WithClock(now))
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	return g
}

func TestLoopPacesAtInterval(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local))
	sender := &fakeSender{clock: clock, autoResolve: true}
	loop, err := New(Config{Interval: 1000 * time.Millisecond, MaxEvents: 3, Policy: PolicyLog},
		newGenerator(t, clock.Now), sender, discardLogger(), WithClock(clock))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	for i := 0; i < 2; i++ {
		select {
		case d := <-clock.afterCalls:
			if d != time.Second {
				t.Fatalf("expected 1000ms delay, got %s", d)
			}
			clock.Advance(d)
		case <-time.After(2 * time.Second):
			t.Fatalf("loop did not wait for the interval")
		}
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop after MaxEvents")
	}

	if len(sender.messages) != 3 {
		t.Fatalf("expected 3 publishes, got %d", len(sender.messages))
	}
	for i := 1; i < len(sender.messages); i++ {
		if gap := sender.messages[i].at.Sub(sender.messages[i-1].at); gap != time.Second {
			t.Fatalf("publish %d: expected 1s gap, got %s", i, gap)
		}
	}
	if st := loop.Stats(); st.Sent != 3 || st.Delivered != 3 || st.Failed != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestLoopInterruptDuringDelay(t *testing.T) {
	clock := newFakeClock(time.Now())
	sender := &fakeSender{clock: clock}
	loop, err := New(Config{Policy: PolicyIgnore}, newGenerator(t, clock.Now), sender, discardLogger(), WithClock(clock))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case d := <-clock.afterCalls:
		if d != DefaultInterval {
			t.Fatalf("expected default interval, got %s", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop never reached the delay")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("interrupt must be a clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not exit on cancel")
	}
	clock.Advance(time.Hour)
	if n := sender.count(); n != 1 {
		t.Fatalf("expected exactly one publish, got %d", n)
	}
}

func TestLoopPublishesExactPayload(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 45, 0, time.Local)
	gen, err := event.NewGenerator(event.DefaultSettings(), &scriptedSource{values: []int{1, 15, 10}},
		event.WithClock(func() time.Time { return ts }))
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	sender := &fakeSender{}
	loop, err := New(Config{MaxEvents: 1, Policy: PolicyIgnore}, gen, sender, discardLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := `{"id":"living","time":"2024-03-01T12:30:45","humidity":30,"temperature":65}`
	if got := string(sender.messages[0].value); got != want {
		t.Fatalf("unexpected value:\n got %s\nwant %s", got, want)
	}
	if len(sender.messages[0].key) == 0 {
		t.Fatalf("expected a key")
	}
}

func TestLoopLogPolicyCountsOutcomes(t *testing.T) {
	sender := &fakeSender{}
	loop, err := New(Config{MaxEvents: 2, Interval: time.Millisecond, Policy: PolicyLog},
		newGenerator(t, time.Now), sender, discardLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st := loop.Stats(); st.Delivered != 0 || st.Failed != 0 {
		t.Fatalf("log policy must not block on deliveries, got %+v", st)
	}
	sender.deliveries[0].Resolve(nil)
	sender.deliveries[1].Resolve(errors.New("leader not available"))
	if st := loop.Stats(); st.Sent != 2 || st.Delivered != 1 || st.Failed != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestLoopAwaitPolicyContinuesAfterFailure(t *testing.T) {
	sender := &fakeSender{autoResolve: true, outcome: errors.New("record too large")}
	loop, err := New(Config{MaxEvents: 3, Interval: time.Millisecond, Policy: PolicyAwait},
		newGenerator(t, time.Now), sender, discardLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st := loop.Stats(); st.Sent != 3 || st.Failed != 3 {
		t.Fatalf("expected every failure to be recorded, got %+v", st)
	}
}

func TestLoopAwaitPolicyBlocksUntilResolved(t *testing.T) {
	sender := &fakeSender{}
	loop, err := New(Config{MaxEvents: 1, Policy: PolicyAwait}, newGenerator(t, time.Now), sender, discardLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for sender.count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("loop never published")
		case <-time.After(time.Millisecond):
		}
	}
	select {
	case <-done:
		t.Fatalf("await policy returned before the delivery resolved")
	case <-time.After(20 * time.Millisecond):
	}
	sender.mu.Lock()
	d := sender.deliveries[0]
	sender.mu.Unlock()
	d.Resolve(nil)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if st := loop.Stats(); st.Delivered != 1 {
		t.Fatalf("expected one delivery, got %+v", st)
	}
}

func TestLoopFirstSendErrorIsFatal(t *testing.T) {
	sender := &fakeSender{err: errors.New("broker unreachable")}
	loop, err := New(Config{}, newGenerator(t, time.Now), sender, discardLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := loop.Run(context.Background()); err == nil {
		t.Fatalf("expected first send error to be returned")
	}
}

func TestLoopLaterSendErrorsAreLogged(t *testing.T) {
	sender := &flakySender{failAfter: 1}
	loop, err := New(Config{MaxEvents: 3, Interval: time.Millisecond, Policy: PolicyIgnore},
		newGenerator(t, time.Now), sender, discardLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("later failures must not stop the loop: %v", err)
	}
	if sender.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sender.calls)
	}
	if st := loop.Stats(); st.Sent != 1 {
		t.Fatalf("expected one accepted send, got %+v", st)
	}
}

type flakySender struct {
	calls     int
	failAfter int
}

func (s *flakySender) Send(_ context.Context, key, _ []byte) (*producer.Delivery, error) {
	s.calls++
	if s.calls > s.failAfter {
		return nil, errors.New("queue full")
	}
	d := producer.NewDelivery(key)
	d.Resolve(nil)
	return d, nil
}

func TestNewValidates(t *testing.T) {
	gen := newGenerator(t, time.Now)
	cases := []struct {
		name   string
		cfg    Config
		sender Sender
	}{
		{"nil sender", Config{}, nil},
		{"negative interval", Config{Interval: -time.Second}, &fakeSender{}},
		{"negative max", Config{MaxEvents: -1}, &fakeSender{}},
		{"bad policy", Config{Policy: "retry"}, &fakeSender{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg, gen, tc.sender, discardLogger()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
