// Package sessions manages the bridge's single session with the identity
// broker. A Session owns the broker handle and the per-run session
// identifier sent with every call; a Watcher follows the broker's presence
// on the bus and keeps the session's connection state current.
//
// Lifecycle
//
//	unconnected -> connecting -> connected -> disconnected -> connecting -> ...
//
// Every operation starts with a blocking connect: transient "not ready"
// failures are retried at a fixed interval until the connect timeout, after
// which the operation fails with broker.ErrUnavailable. A call failing with
// broker.ErrUnavailable drops the handle so the next operation reconnects.
//
// The Watcher reacts to the broker leaving the bus by dropping the handle
// without any I/O, and to the broker appearing by connecting in best-effort
// mode so the next call does not pay the reconnect latency. A broker that
// owns its name is reported online even if it does not answer yet; only a
// hard connect failure reports it offline.
//
// Example:
//
//	s := sessions.New(bus, sessions.WithLogger(logger))
//	w := sessions.NewWatcher(s, bus)
//	w.OnStateChanged(func(online bool) { log.Printf("broker online: %v", online) })
//	if err := w.Start(ctx); err != nil { return err }
//	accounts, err := s.GetAccounts(ctx)
package sessions
