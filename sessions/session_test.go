package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/siemens/linux-entra-sso/broker"
	"github.com/siemens/linux-entra-sso/broker/mockbroker"
)

// countingBus counts Connect attempts and can replace their outcome.
type countingBus struct {
	broker.Bus
	attempts   atomic.Int32
	connectErr error
}

func (b *countingBus) Connect(ctx context.Context) (broker.Handle, error) {
	b.attempts.Add(1)
	if b.connectErr != nil {
		return nil, b.connectErr
	}
	return b.Bus.Connect(ctx)
}

func newTestSession(t *testing.T, bus broker.Bus, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{
		WithConnectTimeout(200 * time.Millisecond),
		WithRetryInterval(10 * time.Millisecond),
	}, opts...)
	return New(bus, opts...)
}

func TestSessionID(t *testing.T) {
	s := New(mockbroker.New())
	if _, err := uuid.Parse(s.ID()); err != nil {
		t.Fatalf("session id %q is not a UUID: %v", s.ID(), err)
	}
	if s.ID() != s.ID() {
		t.Fatal("session id changed")
	}
	if New(mockbroker.New(), WithID("fixed")).ID() != "fixed" {
		t.Fatal("WithID ignored")
	}
	if s.State() != StateUnconnected {
		t.Fatalf("initial state = %s", s.State())
	}
}

func TestGetAccountsPassesThrough(t *testing.T) {
	mb := mockbroker.New()
	s := newTestSession(t, mb)

	got, err := s.GetAccounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want, _ := json.Marshal(broker.AccountsResponse{Accounts: mockbroker.Accounts()})
	if string(got) != string(want) {
		t.Fatalf("accounts = %s, want %s", got, want)
	}
	if !s.Online() {
		t.Fatalf("state after call = %s", s.State())
	}

	calls := mb.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].SessionID != s.ID() {
		t.Fatalf("call session id = %q, want %q", calls[0].SessionID, s.ID())
	}
	var ctxReq broker.AccountsContext
	if err := json.Unmarshal(calls[0].Request, &ctxReq); err != nil {
		t.Fatal(err)
	}
	if ctxReq.ClientID != broker.EdgeBrowserClientID || ctxReq.RedirectURI != s.ID() {
		t.Fatalf("unexpected accounts context %+v", ctxReq)
	}
}

func TestGetAccountsWithoutBrokerIsUnavailable(t *testing.T) {
	mb := mockbroker.New(mockbroker.Offline())
	s := newTestSession(t, mb, WithConnectTimeout(50*time.Millisecond))

	_, err := s.GetAccounts(context.Background())
	if !errors.Is(err, broker.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %s, want %s", s.State(), StateDisconnected)
	}
	if len(mb.Calls()) != 0 {
		t.Fatal("broker must not be called without a connection")
	}
}

func TestBlockingConnectWaitsForBroker(t *testing.T) {
	mb := mockbroker.New(mockbroker.Offline())
	bus := &countingBus{Bus: mb}
	s := newTestSession(t, bus, WithConnectTimeout(2*time.Second))

	go func() {
		time.Sleep(50 * time.Millisecond)
		mb.SetOnline(true)
	}()

	if err := s.EnsureConnected(context.Background(), ConnectBlocking); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	if n := bus.attempts.Load(); n < 2 {
		t.Fatalf("expected retries, got %d attempts", n)
	}
}

func TestBestEffortRetriesWithoutFailing(t *testing.T) {
	bus := &countingBus{Bus: mockbroker.New(mockbroker.Offline())}
	s := newTestSession(t, bus, WithConnectTimeout(50*time.Millisecond))

	if err := s.EnsureConnected(context.Background(), ConnectBestEffort); err != nil {
		t.Fatalf("best-effort connect to a starting broker failed: %v", err)
	}
	if n := bus.attempts.Load(); n < 2 {
		t.Fatalf("expected retries, got %d attempts", n)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %s, want %s", s.State(), StateDisconnected)
	}
}

func TestBestEffortReportsHardFailure(t *testing.T) {
	bus := &countingBus{Bus: mockbroker.New(), connectErr: errors.New("access denied")}
	s := newTestSession(t, bus)

	err := s.EnsureConnected(context.Background(), ConnectBestEffort)
	if !errors.Is(err, broker.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if n := bus.attempts.Load(); n != 1 {
		t.Fatalf("expected 1 attempt, got %d", n)
	}
}

// gatedBus holds every Connect until release is closed.
type gatedBus struct {
	broker.Bus
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBus) Connect(ctx context.Context) (broker.Handle, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.Bus.Connect(ctx)
}

func TestInvalidateDuringConnectDiscardsHandle(t *testing.T) {
	bus := &gatedBus{
		Bus:     mockbroker.New(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := newTestSession(t, bus, WithConnectTimeout(2*time.Second))

	done := make(chan error, 1)
	go func() { done <- s.EnsureConnected(context.Background(), ConnectBlocking) }()

	select {
	case <-bus.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("connect never started")
	}
	if s.State() != StateConnecting {
		t.Fatalf("state = %s, want %s", s.State(), StateConnecting)
	}
	s.Invalidate()
	close(bus.release)

	select {
	case err := <-done:
		if !errors.Is(err, broker.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("EnsureConnected did not return")
	}
	if s.Online() {
		t.Fatal("handle from before Invalidate was installed")
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %s, want %s", s.State(), StateDisconnected)
	}

	// The next call starts over and connects.
	if err := s.EnsureConnected(context.Background(), ConnectBlocking); err != nil {
		t.Fatal(err)
	}
	if !s.Online() {
		t.Fatalf("state = %s, want connected", s.State())
	}
}

func TestNonTransientConnectErrorIsNotRetried(t *testing.T) {
	bus := &countingBus{Bus: mockbroker.New(), connectErr: errors.New("access denied")}
	s := newTestSession(t, bus, WithConnectTimeout(time.Second))

	start := time.Now()
	err := s.EnsureConnected(context.Background(), ConnectBlocking)
	if !errors.Is(err, broker.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if n := bus.attempts.Load(); n != 1 {
		t.Fatalf("expected 1 attempt, got %d", n)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("non-transient failure waited for the timeout")
	}
}

func TestConnectHonoursCallerCancellation(t *testing.T) {
	s := newTestSession(t, mockbroker.New(mockbroker.Offline()), WithConnectTimeout(5*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := s.EnsureConnected(ctx, ConnectBlocking)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
}

func TestConcurrentEnsureConnectsOnce(t *testing.T) {
	bus := &countingBus{Bus: mockbroker.New()}
	s := newTestSession(t, bus)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.EnsureConnected(context.Background(), ConnectBlocking); err != nil {
				t.Errorf("EnsureConnected: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := bus.attempts.Load(); n != 1 {
		t.Fatalf("expected a single connect, got %d", n)
	}
}

func TestUnavailableCallDropsHandle(t *testing.T) {
	mb := mockbroker.New()
	s := newTestSession(t, mb, WithConnectTimeout(30*time.Millisecond))
	ctx := context.Background()

	if _, err := s.GetAccounts(ctx); err != nil {
		t.Fatal(err)
	}

	// Broker restarts behind our back: the held handle is stale.
	mb.SetOnline(false)
	mb.SetOnline(true)
	h := s.current()
	if _, err := h.Call(ctx, broker.MethodGetAccounts, s.ID(), []byte(`{}`)); !errors.Is(err, broker.ErrUnavailable) {
		t.Fatalf("precondition: stale handle call returned %v", err)
	}

	_, err := s.GetAccounts(ctx)
	if !errors.Is(err, broker.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from stale handle, got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", s.State())
	}

	if _, err := s.GetAccounts(ctx); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
}

func TestInvalidateForcesReconnect(t *testing.T) {
	bus := &countingBus{Bus: mockbroker.New()}
	s := newTestSession(t, bus)
	ctx := context.Background()

	if _, err := s.GetAccounts(ctx); err != nil {
		t.Fatal(err)
	}
	s.Invalidate()
	if s.Online() {
		t.Fatal("still online after Invalidate")
	}
	if _, err := s.GetAccounts(ctx); err != nil {
		t.Fatal(err)
	}
	if n := bus.attempts.Load(); n != 2 {
		t.Fatalf("expected 2 connects, got %d", n)
	}
}

func TestBrokerErrorPassesThrough(t *testing.T) {
	mb := mockbroker.New()
	mb.Fail(broker.MethodAcquireTokenSilently, errors.New("boom"))
	s := newTestSession(t, mb)

	_, err := s.AcquireTokenSilently(context.Background(), mockbroker.Accounts()[0], nil)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
	if !s.Online() {
		t.Fatal("a broker-reported error must not drop the connection")
	}
}

func TestAcquirePrtSsoCookie(t *testing.T) {
	mb := mockbroker.New()
	s := newTestSession(t, mb)
	acc := mockbroker.Accounts()[0]

	if _, err := s.AcquirePrtSsoCookie(context.Background(), acc, "", nil); !errors.Is(err, ErrMissingSsoURL) {
		t.Fatalf("expected ErrMissingSsoURL, got %v", err)
	}
	if _, err := s.AcquirePrtSsoCookie(context.Background(), broker.Account{}, broker.DefaultSsoURL, nil); !errors.Is(err, ErrMissingAccount) {
		t.Fatalf("expected ErrMissingAccount, got %v", err)
	}
	if len(mb.Calls()) != 0 {
		t.Fatal("invalid requests reached the broker")
	}

	if _, err := s.AcquirePrtSsoCookie(context.Background(), acc, "https://example.com/", nil); err != nil {
		t.Fatal(err)
	}
	var req struct {
		SsoURL         string                `json:"ssoUrl"`
		AuthParameters broker.AuthParameters `json:"authParameters"`
	}
	if err := json.Unmarshal(mb.Calls()[0].Request, &req); err != nil {
		t.Fatal(err)
	}
	if req.SsoURL != "https://example.com/" {
		t.Fatalf("ssoUrl = %q", req.SsoURL)
	}
	if req.AuthParameters.Username != acc.Username() {
		t.Fatalf("username = %q", req.AuthParameters.Username)
	}
}

func TestAcquireTokenSilentlyDefaultScopes(t *testing.T) {
	mb := mockbroker.New()
	s := newTestSession(t, mb)

	if _, err := s.AcquireTokenSilently(context.Background(), mockbroker.Accounts()[1], nil); err != nil {
		t.Fatal(err)
	}
	var req broker.TokenRequest
	if err := json.Unmarshal(mb.Calls()[0].Request, &req); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(req.AuthParameters.RequestedScopes, broker.GraphScopes) {
		t.Fatalf("requestedScopes = %v", req.AuthParameters.RequestedScopes)
	}
}

func TestGetBrokerVersionMergesNative(t *testing.T) {
	mb := mockbroker.New()
	s := newTestSession(t, mb, WithNativeVersion("1.2.3"))

	got, err := s.GetBrokerVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"linuxBrokerVersion":"2.0.1-mock","native":"1.2.3"}` {
		t.Fatalf("version = %s", got)
	}
	var params broker.VersionParams
	if err := json.Unmarshal(mb.Calls()[0].Request, &params); err != nil {
		t.Fatal(err)
	}
	if params.MsalCppVersion != "1.2.3" {
		t.Fatalf("msalCppVersion = %q", params.MsalCppVersion)
	}
}
