// Package dbusbroker provides a broker.Bus backed by the D-Bus session bus.
package dbusbroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/siemens/linux-entra-sso/broker"
)

const (
	dbusName      = "org.freedesktop.DBus"
	dbusPath      = dbus.ObjectPath("/org/freedesktop/DBus")
	introspectFn  = "org.freedesktop.DBus.Introspectable.Introspect"
	ownerChanged  = "NameOwnerChanged"
	ownerSigName  = dbusName + "." + ownerChanged
	startReplyNew = uint32(1)
	startReplyRan = uint32(2)
)

// D-Bus error names the bus daemon reports for a missing or vanished peer.
const (
	errServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	errNameHasNoOwner = "org.freedesktop.DBus.Error.NameHasNoOwner"
	errNoReply        = "org.freedesktop.DBus.Error.NoReply"
	errDisconnected   = "org.freedesktop.DBus.Error.Disconnected"
	errUnknownObject  = "org.freedesktop.DBus.Error.UnknownObject"
	errTimeout        = "org.freedesktop.DBus.Error.Timeout"
)

// Bus implements broker.Bus on a D-Bus connection.
type Bus struct {
	conn *dbus.Conn
	l    *slog.Logger
}

// Option customizes a Bus.
type Option func(*Bus)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.l = l
		}
	}
}

var _ broker.Bus = (*Bus)(nil)

// Dial connects to the session bus of the current user.
func Dial(opts ...Option) (*Bus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect session bus: %v", broker.ErrUnavailable, err)
	}
	return New(conn, opts...), nil
}

// New wraps an established connection. The Bus takes ownership of conn.
func New(conn *dbus.Conn, opts ...Option) *Bus {
	b := &Bus{conn: conn, l: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect implements broker.Bus.
func (b *Bus) Connect(ctx context.Context) (broker.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.conn.Connected() {
		return nil, fmt.Errorf("%w: bus connection closed", broker.ErrUnavailable)
	}

	var hasOwner bool
	err := b.conn.BusObject().CallWithContext(ctx, dbusName+".NameHasOwner", 0, broker.BusName).Store(&hasOwner)
	if err != nil {
		return nil, connectError(ctx, "NameHasOwner", err)
	}

	if !hasOwner {
		b.l.DebugContext(ctx, "broker has no owner, requesting activation", slog.String("name", broker.BusName))
		var reply uint32
		err := b.conn.BusObject().CallWithContext(ctx, dbusName+".StartServiceByName", 0, broker.BusName, uint32(0)).Store(&reply)
		if err != nil {
			// ServiceUnknown here means no activatable broker is installed.
			if name, _ := errorName(err); name == errNoReply || name == errTimeout {
				return nil, fmt.Errorf("%w: activation: %v", broker.ErrNotReady, err)
			}
			return nil, connectError(ctx, "StartServiceByName", err)
		}
		if reply != startReplyNew && reply != startReplyRan {
			return nil, fmt.Errorf("%w: unexpected activation reply %d", broker.ErrUnavailable, reply)
		}
	}

	obj := b.conn.Object(broker.BusName, broker.ObjectPath)
	var xml string
	if err := obj.CallWithContext(ctx, introspectFn, 0).Store(&xml); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTransient(err) {
			return nil, fmt.Errorf("%w: %v", broker.ErrNotReady, err)
		}
		return nil, fmt.Errorf("%w: probe %s: %v", broker.ErrUnavailable, broker.ObjectPath, err)
	}
	return &handle{b: b, obj: obj}, nil
}

// WatchPresence implements broker.Bus.
func (b *Bus) WatchPresence(ctx context.Context) (<-chan broker.OwnerChange, error) {
	match := []dbus.MatchOption{
		dbus.WithMatchSender(dbusName),
		dbus.WithMatchObjectPath(dbusPath),
		dbus.WithMatchInterface(dbusName),
		dbus.WithMatchMember(ownerChanged),
		dbus.WithMatchArg(0, broker.BusName),
	}
	if err := b.conn.AddMatchSignalContext(ctx, match...); err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", broker.ErrUnavailable, ownerChanged, err)
	}

	sigs := make(chan *dbus.Signal, 16)
	b.conn.Signal(sigs)

	out := make(chan broker.OwnerChange)
	go func() {
		defer close(out)
		defer func() {
			b.conn.RemoveSignal(sigs)
			if b.conn.Connected() {
				_ = b.conn.RemoveMatchSignal(match...)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigs:
				if !ok {
					return
				}
				ev, ok := parseOwnerChange(sig, broker.BusName)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements broker.Bus.
func (b *Bus) Close() error {
	if !b.conn.Connected() {
		return nil
	}
	return b.conn.Close()
}

type handle struct {
	b   *Bus
	obj dbus.BusObject
}

func (h *handle) Call(ctx context.Context, method broker.Method, sessionID string, request []byte) ([]byte, error) {
	if !h.b.conn.Connected() {
		return nil, fmt.Errorf("%w: bus connection closed", broker.ErrUnavailable)
	}
	var reply string
	err := h.obj.CallWithContext(ctx, broker.InterfaceName+"."+string(method), 0,
		broker.ProtocolVersion, sessionID, string(request)).Store(&reply)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, callError(method, err)
	}
	return []byte(reply), nil
}

func parseOwnerChange(sig *dbus.Signal, name string) (broker.OwnerChange, bool) {
	if sig == nil || sig.Name != ownerSigName || len(sig.Body) != 3 {
		return broker.OwnerChange{}, false
	}
	var fields [3]string
	for i, v := range sig.Body {
		s, ok := v.(string)
		if !ok {
			return broker.OwnerChange{}, false
		}
		fields[i] = s
	}
	if fields[0] != name {
		return broker.OwnerChange{}, false
	}
	return broker.OwnerChange{Name: fields[0], OldOwner: fields[1], NewOwner: fields[2]}, true
}

func errorName(err error) (string, bool) {
	var v dbus.Error
	if errors.As(err, &v) {
		return v.Name, true
	}
	var p *dbus.Error
	if errors.As(err, &p) && p != nil {
		return p.Name, true
	}
	return "", false
}

// isTransient reports errors seen while the broker is still starting up.
func isTransient(err error) bool {
	name, _ := errorName(err)
	switch name {
	case errUnknownObject, errServiceUnknown, errNameHasNoOwner, errNoReply, errTimeout:
		return true
	}
	return false
}

func connectError(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s: %v", broker.ErrUnavailable, step, err)
}

func callError(method broker.Method, err error) error {
	if errors.Is(err, dbus.ErrClosed) {
		return fmt.Errorf("%w: %s: %v", broker.ErrUnavailable, method, err)
	}
	name, ok := errorName(err)
	if !ok {
		return fmt.Errorf("%w: %s: %v", broker.ErrUnavailable, method, err)
	}
	switch name {
	case errServiceUnknown, errNameHasNoOwner, errNoReply, errDisconnected:
		return fmt.Errorf("%w: %s: %v", broker.ErrUnavailable, method, err)
	}
	return &broker.Error{Name: name, Message: dbusMessage(err)}
}

func dbusMessage(err error) string {
	var v dbus.Error
	if errors.As(err, &v) {
		return v.Error()
	}
	var p *dbus.Error
	if errors.As(err, &p) && p != nil {
		return p.Error()
	}
	return err.Error()
}
