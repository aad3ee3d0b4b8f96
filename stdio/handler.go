package stdio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/siemens/linux-entra-sso/broker"
	"github.com/siemens/linux-entra-sso/internal/logctx"
	"github.com/siemens/linux-entra-sso/nativemsg"
)

// Service executes browser commands against the broker. *sessions.Session
// implements it.
type Service interface {
	GetAccounts(ctx context.Context) (json.RawMessage, error)
	AcquirePrtSsoCookie(ctx context.Context, account broker.Account, ssoURL string, scopes []string) (json.RawMessage, error)
	AcquireTokenSilently(ctx context.Context, account broker.Account, scopes []string) (json.RawMessage, error)
	GetBrokerVersion(ctx context.Context) (json.RawMessage, error)
	Online() bool
}

// Watcher reports broker presence changes. *sessions.Watcher implements it.
type Watcher interface {
	OnStateChanged(cb func(online bool))
	Start(ctx context.Context) error
	Wait()
}

// Handler is the native messaging host loop. It reads framed commands from
// an io.Reader and writes framed responses to an io.Writer; by default these
// are os.Stdin and os.Stdout.
//
// A command is executed and its response written while holding the output
// lock. Presence notifications take the same lock, so they never split a
// command from its response and responses keep the order of the commands.
type Handler struct {
	svc           Service
	watcher       Watcher
	r             io.Reader
	w             io.Writer
	l             *slog.Logger
	defaultSsoURL string

	outMu sync.Mutex
	out   *nativemsg.Writer
	seq   atomic.Uint64
}

// NewHandler constructs a Handler with defaults and applies options.
func NewHandler(svc Service, opts ...Option) *Handler {
	h := &Handler{
		svc:           svc,
		r:             os.Stdin,
		w:             os.Stdout,
		l:             slog.Default(),
		defaultSsoURL: broker.DefaultSsoURL,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.out = nativemsg.NewWriter(h.w)
	return h
}

// Serve announces the current broker state and then processes commands until
// the input ends or ctx is canceled. A clean end of input returns nil. A
// framing error on input or any write error is returned; nothing sensible can
// be sent on such a stream.
//
// Serve must be called at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if h.watcher != nil {
		h.watcher.OnStateChanged(func(online bool) {
			if err := h.notifyState(online); err != nil {
				h.l.ErrorContext(ctx, "failed to send broker state", slog.String("error", err.Error()))
			}
		})
	}

	if err := h.notifyState(h.svc.Online()); err != nil {
		return err
	}

	if h.watcher != nil {
		if err := h.watcher.Start(ctx); err != nil {
			h.l.WarnContext(ctx, "broker presence tracking unavailable", slog.String("error", err.Error()))
		} else {
			defer func() {
				cancel()
				h.watcher.Wait()
			}()
		}
	}

	msgs := make(chan json.RawMessage)
	readErr := make(chan error, 1)
	go func() {
		rd := nativemsg.NewReader(h.r)
		for {
			msg, err := rd.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				h.l.DebugContext(ctx, "input closed")
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		case msg := <-msgs:
			if err := h.dispatch(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (h *Handler) notifyState(online bool) error {
	state := "offline"
	if online {
		state = "online"
	}
	h.outMu.Lock()
	defer h.outMu.Unlock()
	return h.out.WriteMessage(Response{Command: CommandBrokerStateChanged, Message: state})
}

func (h *Handler) dispatch(ctx context.Context, raw json.RawMessage) error {
	var env struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		h.l.DebugContext(ctx, "ignoring malformed message", slog.String("error", err.Error()))
		return nil
	}
	if _, ok := requestSchemas()[env.Command]; !ok {
		h.l.DebugContext(ctx, "ignoring unknown command", slog.String("command", env.Command))
		return nil
	}

	ctx = logctx.WithCommandData(ctx, &logctx.CommandData{Name: env.Command, Seq: h.seq.Add(1)})

	h.outMu.Lock()
	defer h.outMu.Unlock()

	h.l.DebugContext(ctx, "processing command")
	message, err := h.execute(ctx, env.Command, raw)
	if err != nil {
		h.l.WarnContext(ctx, "command failed", slog.String("error", err.Error()))
		return h.writeResponse(ctx, env.Command, NewErrorMessage(err))
	}
	return h.writeResponse(ctx, env.Command, message)
}

// writeResponse must be called with outMu held.
func (h *Handler) writeResponse(ctx context.Context, command string, message any) error {
	frame, err := nativemsg.Encode(Response{Command: command, Message: message})
	if err != nil {
		// An oversized or unencodable reply still gets an answer.
		h.l.WarnContext(ctx, "cannot encode response", slog.String("error", err.Error()))
		frame, err = nativemsg.Encode(Response{Command: command, Message: NewErrorMessage(err)})
		if err != nil {
			return err
		}
	}
	return h.out.WriteFrame(frame)
}

func (h *Handler) execute(ctx context.Context, command string, raw json.RawMessage) (json.RawMessage, error) {
	switch command {
	case CommandGetAccounts:
		return h.svc.GetAccounts(ctx)

	case CommandAcquirePrtSsoCookie:
		var req AcquirePrtSsoCookieRequest
		if err := decodeRequest(command, raw, &req); err != nil {
			return nil, err
		}
		ssoURL := req.SsoURL
		if ssoURL == "" {
			ssoURL = h.defaultSsoURL
		}
		return h.svc.AcquirePrtSsoCookie(ctx, req.Account, ssoURL, nil)

	case CommandAcquireTokenSilently:
		var req AcquireTokenSilentlyRequest
		if err := decodeRequest(command, raw, &req); err != nil {
			return nil, err
		}
		return h.svc.AcquireTokenSilently(ctx, req.Account, req.Scopes)

	case CommandGetVersion:
		return h.svc.GetBrokerVersion(ctx)
	}
	return nil, fmt.Errorf("unsupported command %q", command)
}

// NewErrorMessage converts a command failure into the message sent back in
// place of a result.
func NewErrorMessage(err error) ErrorMessage {
	if errors.Is(err, broker.ErrUnavailable) {
		return ErrorMessage{Error: "Broker not available"}
	}
	return ErrorMessage{Error: "Failure during request processing: " + err.Error()}
}
