package dbusbroker

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/siemens/linux-entra-sso/broker"
	"github.com/siemens/linux-entra-sso/broker/brokertest"
)

func TestDBusBroker(t *testing.T) {
	if os.Getenv("LINUX_ENTRA_SSO_DBUS_TESTS") != "1" {
		t.Skip("set LINUX_ENTRA_SSO_DBUS_TESTS=1 to run against the session bus broker")
	}

	factory := func(t *testing.T) broker.Bus {
		b, err := Dial()
		if err != nil {
			t.Fatalf("Failed to dial session bus: %v", err)
		}
		return b
	}

	brokertest.RunBusTests(t, factory)
}

func TestParseOwnerChange(t *testing.T) {
	cases := []struct {
		name string
		sig  *dbus.Signal
		want broker.OwnerChange
		ok   bool
	}{
		{
			name: "appeared",
			sig:  &dbus.Signal{Name: ownerSigName, Body: []interface{}{broker.BusName, "", ":1.42"}},
			want: broker.OwnerChange{Name: broker.BusName, NewOwner: ":1.42"},
			ok:   true,
		},
		{
			name: "vanished",
			sig:  &dbus.Signal{Name: ownerSigName, Body: []interface{}{broker.BusName, ":1.42", ""}},
			want: broker.OwnerChange{Name: broker.BusName, OldOwner: ":1.42"},
			ok:   true,
		},
		{
			name: "other name",
			sig:  &dbus.Signal{Name: ownerSigName, Body: []interface{}{"org.example.Other", "", ":1.9"}},
		},
		{
			name: "other signal",
			sig:  &dbus.Signal{Name: "org.freedesktop.DBus.NameAcquired", Body: []interface{}{broker.BusName}},
		},
		{
			name: "bad body",
			sig:  &dbus.Signal{Name: ownerSigName, Body: []interface{}{broker.BusName, 1, ""}},
		},
		{name: "nil"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseOwnerChange(tc.sig, broker.BusName)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("got (%+v, %v), want (%+v, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestCallErrorClassification(t *testing.T) {
	for _, name := range []string{errServiceUnknown, errNameHasNoOwner, errNoReply, errDisconnected} {
		err := callError(broker.MethodGetAccounts, dbus.Error{Name: name})
		if !errors.Is(err, broker.ErrUnavailable) {
			t.Errorf("%s: expected ErrUnavailable, got %v", name, err)
		}
	}

	err := callError(broker.MethodGetAccounts, fmt.Errorf("wrapped: %w", dbus.ErrClosed))
	if !errors.Is(err, broker.ErrUnavailable) {
		t.Fatalf("closed connection: expected ErrUnavailable, got %v", err)
	}

	err = callError(broker.MethodAcquireTokenSilently, &dbus.Error{
		Name: "com.microsoft.identity.Error",
		Body: []interface{}{"boom"},
	})
	var be *broker.Error
	if !errors.As(err, &be) {
		t.Fatalf("expected *broker.Error, got %T %v", err, err)
	}
	if be.Name != "com.microsoft.identity.Error" || be.Error() != "boom" {
		t.Fatalf("unexpected broker error %+v", be)
	}
	if errors.Is(err, broker.ErrUnavailable) {
		t.Fatal("broker error must not read as unavailable")
	}
}

func TestIsTransient(t *testing.T) {
	for _, name := range []string{errUnknownObject, errServiceUnknown, errNameHasNoOwner, errNoReply, errTimeout} {
		if !isTransient(dbus.Error{Name: name}) {
			t.Errorf("%s should be transient", name)
		}
	}
	if isTransient(dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}) {
		t.Error("AccessDenied should not be transient")
	}
	if isTransient(errors.New("plain")) {
		t.Error("non D-Bus error should not be transient")
	}
}
