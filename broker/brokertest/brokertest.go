package brokertest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/siemens/linux-entra-sso/broker"
)

// BusFactory creates a new bus instance for testing. The broker behind it
// must be running.
type BusFactory func(t *testing.T) broker.Bus

// RunBusTests runs the complete bus test suite against the provided factory.
func RunBusTests(t *testing.T, factory BusFactory) {
	t.Run("ConnectAndGetAccounts", func(t *testing.T) {
		testConnectAndGetAccounts(t, factory)
	})
	t.Run("GetVersion", func(t *testing.T) {
		testGetVersion(t, factory)
	})
	t.Run("ConcurrentCalls", func(t *testing.T) {
		testConcurrentCalls(t, factory)
	})
	t.Run("ConnectCancelledContext", func(t *testing.T) {
		testConnectCancelledContext(t, factory)
	})
	t.Run("WatchPresenceClosesOnCancel", func(t *testing.T) {
		testWatchPresenceClosesOnCancel(t, factory)
	})
	t.Run("CloseInvalidatesHandles", func(t *testing.T) {
		testCloseInvalidatesHandles(t, factory)
	})
}

func getAccountsRequest() []byte {
	b, _ := json.Marshal(broker.AccountsContext{
		ClientID:    broker.EdgeBrowserClientID,
		RedirectURI: "brokertest",
	})
	return b
}

func connect(t *testing.T, b broker.Bus) broker.Handle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := b.Connect(ctx)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	return h
}

func testConnectAndGetAccounts(t *testing.T, factory BusFactory) {
	b := factory(t)
	defer closeBus(t, b)

	h := connect(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := h.Call(ctx, broker.MethodGetAccounts, "brokertest-session", getAccountsRequest())
	if err != nil {
		t.Fatalf("getAccounts failed: %v", err)
	}

	var res broker.AccountsResponse
	if err := json.Unmarshal(reply, &res); err != nil {
		t.Fatalf("Failed to decode getAccounts reply %s: %v", reply, err)
	}
	for i, acc := range res.Accounts {
		if acc.IsZero() {
			t.Fatalf("Account %d is empty", i)
		}
	}
}

func testGetVersion(t *testing.T, factory BusFactory) {
	b := factory(t)
	defer closeBus(t, b)

	h := connect(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := json.Marshal(broker.VersionParams{MsalCppVersion: "1.0.0"})
	reply, err := h.Call(ctx, broker.MethodGetVersion, "brokertest-session", req)
	if err != nil {
		t.Fatalf("getLinuxBrokerVersion failed: %v", err)
	}

	var res map[string]any
	if err := json.Unmarshal(reply, &res); err != nil {
		t.Fatalf("Failed to decode version reply %s: %v", reply, err)
	}
	if v, _ := res["linuxBrokerVersion"].(string); v == "" {
		t.Fatalf("Expected linuxBrokerVersion in %s", reply)
	}
}

func testConcurrentCalls(t *testing.T, factory BusFactory) {
	b := factory(t)
	defer closeBus(t, b)

	h := connect(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := h.Call(ctx, broker.MethodGetAccounts, "brokertest-session", getAccountsRequest())
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Concurrent call %d failed: %v", i, err)
		}
	}
}

func testConnectCancelledContext(t *testing.T, factory BusFactory) {
	b := factory(t)
	defer closeBus(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Connect(ctx); err == nil {
		t.Fatal("Expected error connecting with a cancelled context")
	}
}

func testWatchPresenceClosesOnCancel(t *testing.T, factory BusFactory) {
	b := factory(t)
	defer closeBus(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := b.WatchPresence(ctx)
	if err != nil {
		cancel()
		t.Fatalf("Failed to watch presence: %v", err)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Presence channel not closed after cancellation")
		}
	}
}

func testCloseInvalidatesHandles(t *testing.T, factory BusFactory) {
	b := factory(t)
	h := connect(t, b)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := h.Call(ctx, broker.MethodGetAccounts, "brokertest-session", getAccountsRequest())
	if !errors.Is(err, broker.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable after Close, got %v", err)
	}
}

func closeBus(t *testing.T, b broker.Bus) {
	if err := b.Close(); err != nil {
		t.Logf("Warning: failed to close bus: %v", err)
	}
}
