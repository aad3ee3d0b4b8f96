// Package stdio implements the bridge's native messaging host: a
// single-connection loop over stdin/stdout that the browser spawns for the
// extension.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 browser extension
//	Framing          : 4-byte native-endian length + compact JSON (see nativemsg)
//	Commands         : getAccounts, acquirePrtSsoCookie, acquireTokenSilently, getVersion
//	Notifications    : brokerStateChanged ("online" / "offline")
//
// Every response has the shape {"command": <name>, "message": <payload>}. A
// failed command answers with {"error": <description>} as its message and the
// loop carries on; only a broken input or output stream ends it. Unknown
// commands are ignored without a response so that newer extensions keep
// working with older hosts.
//
// Example:
//
//	s := sessions.New(bus)
//	h := stdio.NewHandler(s, stdio.WithWatcher(sessions.NewWatcher(s, bus)))
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
