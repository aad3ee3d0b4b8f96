package sessions

// State is the connection lifecycle of a Session.
type State string

const (
	// StateUnconnected: no connect attempt has been made yet.
	StateUnconnected State = "unconnected"
	// StateConnecting: a connect attempt is in flight.
	StateConnecting State = "connecting"
	// StateConnected: the broker handle is usable.
	StateConnected State = "connected"
	// StateDisconnected: the handle was dropped; the next operation reconnects.
	StateDisconnected State = "disconnected"
)

// ConnectMode selects how hard EnsureConnected tries.
type ConnectMode int

const (
	// ConnectBlocking retries transient failures until the connect timeout
	// and then fails with broker.ErrUnavailable.
	ConnectBlocking ConnectMode = iota
	// ConnectBestEffort retries like ConnectBlocking but does not fail when
	// the broker is still not ready at the timeout; the session is left
	// disconnected instead.
	ConnectBestEffort
)

func (m ConnectMode) String() string {
	switch m {
	case ConnectBlocking:
		return "blocking"
	case ConnectBestEffort:
		return "best-effort"
	default:
		return "unknown"
	}
}
