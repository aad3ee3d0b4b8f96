package sessions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/siemens/linux-entra-sso/broker"
	"github.com/siemens/linux-entra-sso/broker/mockbroker"
)

func startWatcher(t *testing.T, mb *mockbroker.Broker, s *Session) (*Watcher, <-chan bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	states := make(chan bool, 8)
	w := NewWatcher(s, mb)
	w.OnStateChanged(func(online bool) { states <- online })
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return w, states
}

func expectState(t *testing.T, states <-chan bool, want bool) {
	t.Helper()
	select {
	case got := <-states:
		if got != want {
			t.Fatalf("callback online=%v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no state callback (want online=%v)", want)
	}
}

func TestWatcherDisappearInvalidates(t *testing.T) {
	mb := mockbroker.New()
	s := newTestSession(t, mb)
	_, states := startWatcher(t, mb, s)

	if err := s.EnsureConnected(context.Background(), ConnectBlocking); err != nil {
		t.Fatal(err)
	}

	mb.SetOnline(false)
	expectState(t, states, false)
	if s.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", s.State())
	}
}

func TestWatcherAppearReconnects(t *testing.T) {
	mb := mockbroker.New(mockbroker.Offline())
	bus := &countingBus{Bus: mb}
	s := newTestSession(t, bus)
	_, states := startWatcher(t, mb, s)

	mb.SetOnline(true)
	expectState(t, states, true)
	if !s.Online() {
		t.Fatalf("state = %s, want connected", s.State())
	}
	if n := bus.attempts.Load(); n != 1 {
		t.Fatalf("expected one best-effort attempt, got %d", n)
	}

	// The eager connect is reused by the next call.
	if _, err := s.GetAccounts(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := bus.attempts.Load(); n != 1 {
		t.Fatalf("call reconnected although a handle was held (%d attempts)", n)
	}
}

// slowStartBus answers Connect with ErrNotReady until ready is called and
// the configured delay has passed, like a broker that owns its name before
// it exports its object.
type slowStartBus struct {
	broker.Bus
	delay time.Duration

	mu      sync.Mutex
	readyAt time.Time
}

func (b *slowStartBus) ready() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readyAt = time.Now().Add(b.delay)
}

func (b *slowStartBus) Connect(ctx context.Context) (broker.Handle, error) {
	b.mu.Lock()
	at := b.readyAt
	b.mu.Unlock()
	if at.IsZero() || time.Now().Before(at) {
		return nil, fmt.Errorf("%w: object not exported yet", broker.ErrNotReady)
	}
	return b.Bus.Connect(ctx)
}

func TestWatcherAppearWhileBrokerStartingReportsOnline(t *testing.T) {
	mb := mockbroker.New(mockbroker.Offline())
	bus := &slowStartBus{Bus: mb, delay: 30 * time.Millisecond}
	s := newTestSession(t, bus)
	_, states := startWatcher(t, mb, s)

	bus.ready()
	mb.SetOnline(true)
	expectState(t, states, true)

	if _, err := s.GetAccounts(context.Background()); err != nil {
		t.Fatalf("call after appear: %v", err)
	}
	select {
	case got := <-states:
		t.Fatalf("unexpected state callback online=%v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcherAppearBeyondConnectTimeoutStillOnline(t *testing.T) {
	mb := mockbroker.New(mockbroker.Offline())
	bus := &slowStartBus{Bus: mb, delay: time.Hour}
	s := newTestSession(t, bus, WithConnectTimeout(30*time.Millisecond))
	_, states := startWatcher(t, mb, s)

	bus.ready()
	mb.SetOnline(true)
	expectState(t, states, true)
	if s.State() != StateDisconnected {
		t.Fatalf("state = %s, want %s", s.State(), StateDisconnected)
	}
}

func TestWatcherAppearHardFailureReportsOffline(t *testing.T) {
	mb := mockbroker.New(mockbroker.Offline())
	bus := &countingBus{Bus: mb, connectErr: fmt.Errorf("%w: access denied", broker.ErrUnavailable)}
	s := newTestSession(t, bus)
	_, states := startWatcher(t, mb, s)

	mb.SetOnline(true)
	expectState(t, states, false)
}

func TestWatcherRestartReplacesStaleHandle(t *testing.T) {
	mb := mockbroker.New()
	s := newTestSession(t, mb)
	_, states := startWatcher(t, mb, s)

	if _, err := s.GetAccounts(context.Background()); err != nil {
		t.Fatal(err)
	}
	mb.SetOnline(false)
	expectState(t, states, false)
	mb.SetOnline(true)
	expectState(t, states, true)

	if _, err := s.GetAccounts(context.Background()); err != nil {
		t.Fatalf("call after restart: %v", err)
	}
}

func TestWatcherStopsWhenSubscriptionEnds(t *testing.T) {
	mb := mockbroker.New()
	s := newTestSession(t, mb)
	w, _ := startWatcher(t, mb, s)

	_ = mb.Close()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after the bus closed")
	}
}

func TestWatcherStartTwice(t *testing.T) {
	mb := mockbroker.New()
	w, _ := startWatcher(t, mb, newTestSession(t, mb))
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error on second Start")
	}
}

func TestWatcherWaitWithoutStart(t *testing.T) {
	w := NewWatcher(newTestSession(t, mockbroker.New()), mockbroker.New())
	w.Wait()
}
