package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	"github.com/google/uuid"
	"github.com/siemens/linux-entra-sso/broker"
	"github.com/siemens/linux-entra-sso/internal/logctx"
	"github.com/siemens/linux-entra-sso/internal/version"
)

var (
	ErrMissingAccount = errors.New("account is required")
	ErrMissingSsoURL  = errors.New("ssoUrl is required")
)

// Session owns the connection to the broker and the identifier sent with
// every call. It is safe for concurrent use; at most one connect attempt is
// in flight at a time.
type Session struct {
	id  string
	bus broker.Bus
	l   *slog.Logger

	connectTimeout time.Duration
	retryInterval  time.Duration
	callTimeout    time.Duration
	nativeVersion  string

	// connectMu serializes connect attempts. It is never held while mu is
	// needed by Invalidate, so the watcher can always flip state.
	connectMu sync.Mutex

	mu     sync.Mutex
	state  State
	handle broker.Handle
	// gen counts invalidations. A connect that started under an older
	// generation must not install its handle.
	gen uint64
}

// New creates a session talking to bus. Nothing is connected until the
// first operation or an explicit EnsureConnected.
func New(bus broker.Bus, opts ...Option) *Session {
	s := &Session{
		id:             uuid.NewString(),
		bus:            bus,
		l:              slog.Default(),
		connectTimeout: DefaultConnectTimeout,
		retryInterval:  DefaultRetryInterval,
		callTimeout:    DefaultCallTimeout,
		nativeVersion:  version.Version,
		state:          StateUnconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Online reports whether a usable broker handle is held.
func (s *Session) Online() bool { return s.State() == StateConnected }

// Invalidate drops the broker handle. The next operation reconnects.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = nil
	s.state = StateDisconnected
	s.gen++
}

func (s *Session) dropHandle(h broker.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == h {
		s.handle = nil
		s.state = StateDisconnected
		s.gen++
	}
}

func (s *Session) current() broker.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnected {
		return s.handle
	}
	return nil
}

func (s *Session) logCtx(ctx context.Context) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: s.id, State: string(s.State())})
}

// EnsureConnected establishes the broker handle unless one is held.
//
// Both modes retry broker.ErrNotReady until the connect timeout. When that
// runs out, ConnectBlocking fails with broker.ErrUnavailable while
// ConnectBestEffort returns nil and leaves the session disconnected.
// Non-transient failures fail in both modes.
func (s *Session) EnsureConnected(ctx context.Context, mode ConnectMode) error {
	_, err := s.ensure(ctx, mode)
	return err
}

func (s *Session) ensure(ctx context.Context, mode ConnectMode) (broker.Handle, error) {
	if h := s.current(); h != nil {
		return h, nil
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	// Another caller may have connected while we waited.
	if h := s.current(); h != nil {
		return h, nil
	}

	s.mu.Lock()
	s.state = StateConnecting
	gen := s.gen
	s.mu.Unlock()

	h, err := s.connect(ctx, mode)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		// Invalidated while connecting; the handle may belong to a
		// broker that has already left the bus.
		s.state = StateDisconnected
		if err != nil || h == nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s left the bus while connecting", broker.ErrUnavailable, broker.BusName)
	}
	if err != nil || h == nil {
		s.handle = nil
		s.state = StateDisconnected
		return nil, err
	}
	s.handle = h
	s.state = StateConnected
	return h, nil
}

func (s *Session) connect(parent context.Context, mode ConnectMode) (broker.Handle, error) {
	ctx, cancel := context.WithTimeout(parent, s.connectTimeout)
	defer cancel()
	lctx := s.logCtx(parent)

	var (
		h       broker.Handle
		lastErr error
	)
	strategies := []strategy.Strategy{
		// Stop on anything but "not ready yet".
		func(attempt uint) bool {
			return attempt == 0 || errors.Is(lastErr, broker.ErrNotReady)
		},
		func(uint) bool { return ctx.Err() == nil },
		wait(ctx, s.retryInterval),
	}

	err := retry.Retry(func(attempt uint) error {
		var err error
		h, err = s.bus.Connect(ctx)
		lastErr = err
		if err != nil {
			s.l.DebugContext(lctx, "broker connect attempt failed",
				slog.Uint64("attempt", uint64(attempt)+1),
				slog.String("mode", mode.String()),
				slog.String("error", err.Error()))
		}
		return err
	}, strategies...)
	if err == nil && h == nil {
		// No attempt was made.
		err = ctx.Err()
	}

	switch {
	case err == nil:
		s.l.DebugContext(lctx, "broker connected")
		return h, nil
	case parent.Err() != nil:
		return nil, parent.Err()
	case errors.Is(err, broker.ErrUnavailable):
		return nil, err
	case errors.Is(err, broker.ErrNotReady), errors.Is(err, context.DeadlineExceeded):
		if mode == ConnectBestEffort {
			s.l.DebugContext(lctx, "broker not ready yet, next call reconnects",
				slog.Duration("timeout", s.connectTimeout))
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s not ready after %s", broker.ErrUnavailable, broker.BusName, s.connectTimeout)
	default:
		return nil, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
}

// wait pauses between attempts and gives up early when ctx ends.
func wait(ctx context.Context, d time.Duration) strategy.Strategy {
	return func(attempt uint) bool {
		if attempt == 0 {
			return true
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return ctx.Err() == nil
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Session) call(ctx context.Context, method broker.Method, req any) (json.RawMessage, error) {
	h, err := s.ensure(ctx, ConnectBlocking)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	s.l.DebugContext(s.logCtx(ctx), "calling broker", slog.String("method", string(method)))
	reply, err := h.Call(ctx, method, s.id, body)
	if err != nil {
		if errors.Is(err, broker.ErrUnavailable) {
			s.dropHandle(h)
		}
		return nil, err
	}
	if !json.Valid(reply) {
		return nil, fmt.Errorf("%s: broker reply is not valid JSON", method)
	}
	return json.RawMessage(reply), nil
}

// GetAccounts lists the accounts known to the broker. The reply is returned
// as received, shaped {"accounts": [...]}.
func (s *Session) GetAccounts(ctx context.Context) (json.RawMessage, error) {
	return s.call(ctx, broker.MethodGetAccounts, broker.AccountsContext{
		ClientID:    broker.EdgeBrowserClientID,
		RedirectURI: s.id,
	})
}

// AcquirePrtSsoCookie requests a PRT SSO cookie for ssoURL. Empty scopes
// select broker.GraphScopes.
func (s *Session) AcquirePrtSsoCookie(ctx context.Context, account broker.Account, ssoURL string, scopes []string) (json.RawMessage, error) {
	if account.IsZero() {
		return nil, ErrMissingAccount
	}
	if ssoURL == "" {
		return nil, ErrMissingSsoURL
	}
	return s.call(ctx, broker.MethodAcquirePrtSsoCookie, broker.PrtSsoCookieRequest{
		Account:        account,
		AuthParameters: broker.NewAuthParameters(account, scopes),
		SsoURL:         ssoURL,
	})
}

// AcquireTokenSilently requests a token without user interaction. Empty
// scopes select broker.GraphScopes.
func (s *Session) AcquireTokenSilently(ctx context.Context, account broker.Account, scopes []string) (json.RawMessage, error) {
	if account.IsZero() {
		return nil, ErrMissingAccount
	}
	return s.call(ctx, broker.MethodAcquireTokenSilently, broker.TokenRequest{
		Account:        account,
		AuthParameters: broker.NewAuthParameters(account, scopes),
	})
}

// GetBrokerVersion returns the broker's version object with the bridge's
// own version added as "native".
func (s *Session) GetBrokerVersion(ctx context.Context) (json.RawMessage, error) {
	reply, err := s.call(ctx, broker.MethodGetVersion, broker.VersionParams{MsalCppVersion: s.nativeVersion})
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(reply, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%s: broker reply is not an object", broker.MethodGetVersion)
	}
	native, _ := json.Marshal(s.nativeVersion)
	fields["native"] = native
	return json.Marshal(fields)
}
