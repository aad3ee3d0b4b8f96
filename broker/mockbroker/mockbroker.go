// Package mockbroker provides an in-process broker.Bus that serves two fixed
// test accounts and fake (unusable) cookies and tokens. It lets the browser
// extension and the bridge be exercised on machines without an identity
// broker.
package mockbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/siemens/linux-entra-sso/broker"
)

// Tenant is the realm of the mock accounts.
const Tenant = "f52f0148-c8bb-4ee1-899b-8f93b0e4d63d"

// Version is reported by getLinuxBrokerVersion.
const Version = "2.0.1-mock"

const (
	cookieName = "x-ms-RefreshTokenCredential"
	signingKey = "secret"
	uniqueName = ":1.42"
)

// Call records one broker invocation.
type Call struct {
	Method    broker.Method
	SessionID string
	Request   json.RawMessage
}

// Broker is a mock broker.Bus. The zero value is not usable; call New.
type Broker struct {
	mu       sync.Mutex
	online   bool
	closed   bool
	gen      uint64
	failures map[broker.Method]error
	calls    []Call
	watchers map[chan broker.OwnerChange]struct{}
	accounts json.RawMessage

	now func() time.Time
	l   *slog.Logger
}

// Option customizes a Broker.
type Option func(*Broker)

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.l = l
		}
	}
}

// Offline starts the broker without an owner, as if it was not running.
func Offline() Option {
	return func(b *Broker) { b.online = false }
}

var _ broker.Bus = (*Broker)(nil)

// New returns a running mock broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		online:   true,
		failures: make(map[broker.Method]error),
		watchers: make(map[chan broker.OwnerChange]struct{}),
		now:      time.Now,
		l:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.accounts = mustJSON(broker.AccountsResponse{Accounts: Accounts()})
	return b
}

// Accounts returns the two mock accounts.
func Accounts() []broker.Account {
	clientInfo := strings.SplitN(sign(jwt.MapClaims{"some": "payload"}), ".", 2)[0]
	mk := func(name, username, localID string) broker.Account {
		acc, err := broker.NewAccount(mustJSON(map[string]string{
			"name":           name,
			"givenName":      name,
			"username":       username,
			"homeAccountId":  Tenant + "-" + localID,
			"localAccountId": localID,
			"clientInfo":     clientInfo,
			"realm":          Tenant,
		}))
		if err != nil {
			panic(err)
		}
		return acc
	}
	return []broker.Account{
		mk("Account, Test (My Org Code)", "test.account@my-org.example.com", "a975168d-a362-458b-af1c-a8982b1e8aac"),
		mk("Account, Admin (My Org Code)", "test.admin@my-org.example.com", "2f205376-88f7-47a4-be93-8aa7cae8e4fa"),
	}
}

// SetOnline simulates the broker appearing on or leaving the bus. Handles
// issued before a transition go stale.
func (b *Broker) SetOnline(online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.online == online {
		return
	}
	b.online = online
	b.gen++

	ev := broker.OwnerChange{Name: broker.BusName}
	if online {
		ev.NewOwner = uniqueName
	} else {
		ev.OldOwner = uniqueName
	}
	for ch := range b.watchers {
		select {
		case ch <- ev:
		default:
			b.l.Warn("mockbroker: dropping owner change for slow watcher")
		}
	}
}

// Fail makes every subsequent call of method return err. A nil err restores
// normal behaviour.
func (b *Broker) Fail(method broker.Method, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, method)
		return
	}
	b.failures[method] = err
}

// Calls returns the invocations received so far.
func (b *Broker) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Watchers reports the number of live presence subscriptions.
func (b *Broker) Watchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

// Connect implements broker.Bus.
func (b *Broker) Connect(ctx context.Context) (broker.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: bus closed", broker.ErrUnavailable)
	}
	if !b.online {
		return nil, fmt.Errorf("%w: %s has no owner", broker.ErrNotReady, broker.BusName)
	}
	return &handle{b: b, gen: b.gen}, nil
}

// WatchPresence implements broker.Bus.
func (b *Broker) WatchPresence(ctx context.Context) (<-chan broker.OwnerChange, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: bus closed", broker.ErrUnavailable)
	}
	ch := make(chan broker.OwnerChange, 64)
	b.watchers[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.watchers[ch]; ok {
			delete(b.watchers, ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Close implements broker.Bus.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.watchers {
		delete(b.watchers, ch)
		close(ch)
	}
	return nil
}

type handle struct {
	b   *Broker
	gen uint64
}

func (h *handle) Call(ctx context.Context, method broker.Method, sessionID string, request []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := h.b
	b.mu.Lock()
	if b.closed || !b.online || b.gen != h.gen {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: stale handle", broker.ErrUnavailable)
	}
	b.calls = append(b.calls, Call{Method: method, SessionID: sessionID, Request: append(json.RawMessage(nil), request...)})
	failure := b.failures[method]
	now := b.now()
	b.mu.Unlock()

	if failure != nil {
		return nil, failure
	}

	switch method {
	case broker.MethodGetAccounts:
		return b.accounts, nil
	case broker.MethodAcquirePrtSsoCookie:
		return cookie(request)
	case broker.MethodAcquireTokenSilently:
		return token(request, now)
	case broker.MethodGetVersion:
		return mustJSON(map[string]string{"linuxBrokerVersion": Version}), nil
	default:
		return nil, &broker.Error{
			Name:    "org.freedesktop.DBus.Error.UnknownMethod",
			Message: fmt.Sprintf("unknown method %q", method),
		}
	}
}

type tokenRequest struct {
	Account        json.RawMessage `json:"account"`
	AuthParameters struct {
		RequestedScopes []string `json:"requestedScopes"`
	} `json:"authParameters"`
}

func decodeRequest(request []byte) (tokenRequest, error) {
	var req tokenRequest
	if err := json.Unmarshal(request, &req); err != nil {
		return req, &broker.Error{Name: "com.microsoft.identity.InvalidRequest", Message: err.Error()}
	}
	if len(req.AuthParameters.RequestedScopes) == 0 {
		req.AuthParameters.RequestedScopes = broker.GraphScopes
	}
	return req, nil
}

func cookie(request []byte) ([]byte, error) {
	req, err := decodeRequest(request)
	if err != nil {
		return nil, err
	}
	scopes := req.AuthParameters.RequestedScopes
	return mustJSON(map[string]any{
		"account":       req.Account,
		"cookieContent": sign(jwt.MapClaims{"scopes": strings.Join(scopes, " ")}),
		"cookieName":    cookieName,
	}), nil
}

func token(request []byte, now time.Time) ([]byte, error) {
	req, err := decodeRequest(request)
	if err != nil {
		return nil, err
	}
	var acc struct {
		ClientInfo string `json:"clientInfo"`
	}
	_ = json.Unmarshal(req.Account, &acc)

	scopes := req.AuthParameters.RequestedScopes
	joined := strings.Join(scopes, " ")
	return mustJSON(map[string]any{
		"brokerTokenResponse": map[string]any{
			"accessToken":       sign(jwt.MapClaims{"scopes": joined}),
			"accessTokenType":   0,
			"idToken":           sign(jwt.MapClaims{"scopes": joined}),
			"account":           req.Account,
			"clientInfo":        acc.ClientInfo,
			"expiresOn":         now.Add(time.Hour).Unix() * 1000,
			"extendedExpiresOn": now.Add(2*time.Hour).Unix() * 1000,
			"grantedScopes":     append(append([]string(nil), scopes...), "profile"),
		},
	}), nil
}

func sign(claims jwt.Claims) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		panic(fmt.Sprintf("mockbroker: sign: %v", err))
	}
	return s
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
