// Package broker defines how the bridge talks to the Microsoft identity
// broker.
//
// The broker is a session-bus service. A Bus finds (and if necessary starts)
// it and reports when it comes and goes; a Handle invokes its methods with a
// JSON request body and receives a JSON reply. The wire types in this package
// are the request bodies those methods expect.
//
// Implementations:
//
//	dbusbroker : the real broker on the D-Bus session bus
//	mockbroker : an in-process stand-in with two fixed test accounts
//
// brokertest holds a conformance suite that every implementation runs.
package broker
