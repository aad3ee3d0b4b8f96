package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/siemens/linux-entra-sso/broker"
)

// Watcher follows the broker's presence on the bus and keeps a Session's
// connection state in step with it.
type Watcher struct {
	session *Session
	bus     broker.Bus
	l       *slog.Logger

	mu       sync.Mutex
	callback func(online bool)
	started  bool
	done     chan struct{}
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger overrides the watcher's logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.l = l
		}
	}
}

// NewWatcher creates a watcher for session on bus. It does nothing until
// Start is called.
func NewWatcher(session *Session, bus broker.Bus, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		session: session,
		bus:     bus,
		l:       session.l,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnStateChanged registers the callback invoked after every presence
// transition. A later registration replaces the earlier one.
func (w *Watcher) OnStateChanged(cb func(online bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = cb
}

// Start subscribes to presence changes and processes them in the
// background until ctx is done or the subscription ends.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	events, err := w.bus.WatchPresence(ctx)
	if err != nil {
		close(w.done)
		return err
	}

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					w.l.DebugContext(ctx, "presence subscription ended")
					return
				}
				w.handle(ctx, ev)
			}
		}
	}()
	return nil
}

// Wait blocks until the watcher loop has exited. It returns immediately if
// Start was never called successfully.
func (w *Watcher) Wait() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}
	<-w.done
}

func (w *Watcher) handle(ctx context.Context, ev broker.OwnerChange) {
	lctx := w.session.logCtx(ctx)
	var online bool
	if ev.Online() {
		w.l.InfoContext(lctx, "broker appeared on the bus", slog.String("owner", ev.NewOwner))
		// The old handle, if any, points at the previous owner.
		w.session.Invalidate()
		// A new owner means the broker is up even if it does not answer
		// yet; only a hard failure reports it offline.
		online = true
		if err := w.session.EnsureConnected(ctx, ConnectBestEffort); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.l.WarnContext(lctx, "broker appeared but cannot be reached", slog.String("error", err.Error()))
			online = false
		} else if !w.session.Online() {
			w.l.DebugContext(lctx, "broker not answering yet, next call reconnects")
		}
	} else {
		w.l.InfoContext(lctx, "broker left the bus", slog.String("owner", ev.OldOwner))
		w.session.Invalidate()
	}

	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()
	if cb != nil {
		cb(online)
	}
}
