package broker

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

const testAccount = `{"username":"test.account@my-org.example.com","realm":"f52f0148-c8bb-4ee1-899b-8f93b0e4d63d","extra":{"nested":[1,2]}}`

func TestAccountRoundTripIsVerbatim(t *testing.T) {
	var a Account
	if err := json.Unmarshal([]byte(testAccount), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := a.Username(); got != "test.account@my-org.example.com" {
		t.Fatalf("Username() = %q", got)
	}
	out, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != testAccount {
		t.Fatalf("account re-encoded as %s", out)
	}
}

func TestAccountRejectsNonObjects(t *testing.T) {
	for _, in := range []string{`"x"`, `[]`, `1`, `true`} {
		var a Account
		if err := json.Unmarshal([]byte(in), &a); err == nil {
			t.Errorf("expected error for %s", in)
		}
	}
	var a Account
	if err := json.Unmarshal([]byte(`null`), &a); err != nil || !a.IsZero() {
		t.Fatalf("null: err=%v zero=%v", err, a.IsZero())
	}
	if _, err := NewAccount(json.RawMessage(`"nope"`)); !errors.Is(err, errAccountNotObject) {
		t.Fatalf("NewAccount: %v", err)
	}
}

func TestNewAuthParametersDefaultsToGraphScopes(t *testing.T) {
	acc, err := NewAccount(json.RawMessage(testAccount))
	if err != nil {
		t.Fatal(err)
	}
	p := NewAuthParameters(acc, nil)
	if !reflect.DeepEqual(p.RequestedScopes, GraphScopes) {
		t.Fatalf("RequestedScopes = %v", p.RequestedScopes)
	}
	if p.Username != "test.account@my-org.example.com" {
		t.Fatalf("Username = %q", p.Username)
	}

	p.RequestedScopes[0] = "mutated"
	if GraphScopes[0] != "https://graph.microsoft.com/.default" {
		t.Fatal("NewAuthParameters aliased GraphScopes")
	}
}

func TestAuthParametersWireShape(t *testing.T) {
	acc, _ := NewAccount(json.RawMessage(`{"username":"u@example.com"}`))
	b, err := json.Marshal(NewAuthParameters(acc, []string{"openid", "profile"}))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"account":{"username":"u@example.com"},` +
		`"additionalQueryParametersForAuthorization":{},` +
		`"authority":"https://login.microsoftonline.com/common",` +
		`"authorizationType":8,` +
		`"clientId":"d7b530a4-7680-4c23-a8bf-c52c121d2e87",` +
		`"redirectUri":"https://login.microsoftonline.com/common/oauth2/nativeclient",` +
		`"requestedScopes":["openid","profile"],` +
		`"username":"u@example.com"}`
	if string(b) != want {
		t.Fatalf("got  %s\nwant %s", b, want)
	}
}

func TestOwnerChangeOnline(t *testing.T) {
	if (OwnerChange{Name: BusName, NewOwner: ":1.7"}).Online() != true {
		t.Fatal("expected online")
	}
	if (OwnerChange{Name: BusName, OldOwner: ":1.7"}).Online() {
		t.Fatal("expected offline")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Name: "com.microsoft.identity.Error", Message: "boom"}
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if (&Error{Name: "x.y"}).Error() != "x.y" {
		t.Fatal("expected name fallback")
	}
}
