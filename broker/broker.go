package broker

import (
	"context"
	"errors"
)

// Well-known coordinates of the identity broker on the session bus.
const (
	BusName       = "com.microsoft.identity.broker1"
	ObjectPath    = "/com/microsoft/identity/broker1"
	InterfaceName = "com.microsoft.identity.Broker1"

	// ProtocolVersion is passed as the first argument of every broker call.
	ProtocolVersion = "0.0"
)

// Method names a broker operation exported on InterfaceName.
type Method string

const (
	MethodGetAccounts          Method = "getAccounts"
	MethodAcquirePrtSsoCookie  Method = "acquirePrtSsoCookie"
	MethodAcquireTokenSilently Method = "acquireTokenSilently"
	MethodGetVersion           Method = "getLinuxBrokerVersion"
)

var (
	// ErrUnavailable means the broker cannot be reached: it is not installed,
	// it could not be started, it did not become ready in time, or it went
	// away while a call was in flight.
	ErrUnavailable = errors.New("broker not available")

	// ErrNotReady is a transient connect failure. The broker name exists (or
	// is being activated) but its object is not exported yet.
	ErrNotReady = errors.New("broker not ready")
)

// Error is a failure reported by the broker itself. Its message is surfaced
// to the browser unchanged.
type Error struct {
	// Name is the transport error name, e.g. a D-Bus error name.
	Name    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Message
}

// Bus locates the broker and reports its presence.
//
// Implementations must be safe for concurrent use.
type Bus interface {
	// Connect resolves the broker, starting it through bus activation when
	// nobody owns BusName, and returns a handle once the broker object
	// answers. A broker that exists but is not exported yet yields an error
	// wrapping ErrNotReady; a broker that cannot exist yields ErrUnavailable.
	Connect(ctx context.Context) (Handle, error)

	// WatchPresence subscribes to ownership changes of BusName. The channel
	// is closed when ctx is done or the underlying connection goes away.
	WatchPresence(ctx context.Context) (<-chan OwnerChange, error)

	// Close releases the bus connection. Handles obtained earlier fail with
	// ErrUnavailable afterwards.
	Close() error
}

// Handle invokes broker methods. A handle goes stale when the broker
// restarts; calls then fail with an error wrapping ErrUnavailable.
type Handle interface {
	// Call invokes method with (ProtocolVersion, sessionID, request) and
	// returns the broker's JSON reply.
	Call(ctx context.Context, method Method, sessionID string, request []byte) ([]byte, error)
}

// OwnerChange is a change of ownership of a bus name.
type OwnerChange struct {
	Name     string
	OldOwner string
	NewOwner string
}

// Online reports whether the name has an owner after the change.
func (c OwnerChange) Online() bool { return c.NewOwner != "" }
