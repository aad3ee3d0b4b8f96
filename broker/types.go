package broker

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/invopop/jsonschema"
)

const (
	// EdgeBrowserClientID is the application id the broker recognises for
	// browser SSO.
	EdgeBrowserClientID = "d7b530a4-7680-4c23-a8bf-c52c121d2e87"

	DefaultSsoURL = "https://login.microsoftonline.com/"
	Authority     = "https://login.microsoftonline.com/common"
	RedirectURI   = "https://login.microsoftonline.com/common/oauth2/nativeclient"

	// AuthorizationType selects the PRT-based silent flow.
	AuthorizationType = 8
)

// GraphScopes are requested when the caller does not name any scopes.
var GraphScopes = []string{"https://graph.microsoft.com/.default"}

// Account is an account object as produced by getAccounts. The bridge never
// interprets it beyond the username; it is handed back to the broker
// verbatim.
type Account struct {
	raw json.RawMessage
}

var errAccountNotObject = errors.New("account must be a JSON object")

// NewAccount wraps a raw JSON object.
func NewAccount(raw json.RawMessage) (Account, error) {
	var a Account
	if err := a.UnmarshalJSON(raw); err != nil {
		return Account{}, err
	}
	return a, nil
}

// IsZero reports whether a holds no object.
func (a Account) IsZero() bool { return len(a.raw) == 0 }

// Raw returns the account's JSON encoding.
func (a Account) Raw() json.RawMessage { return a.raw }

// Username returns the account's "username" member, or "" if absent.
func (a Account) Username() string {
	var v struct {
		Username string `json:"username"`
	}
	if a.IsZero() {
		return ""
	}
	_ = json.Unmarshal(a.raw, &v)
	return v.Username
}

func (a Account) MarshalJSON() ([]byte, error) {
	if a.IsZero() {
		return []byte("null"), nil
	}
	return a.raw, nil
}

func (a *Account) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		a.raw = nil
		return nil
	}
	if len(b) == 0 || b[0] != '{' || !json.Valid(b) {
		return errAccountNotObject
	}
	a.raw = append(json.RawMessage(nil), b...)
	return nil
}

// JSONSchema describes Account as a free-form object.
func (Account) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "object",
		Description: "Account object as returned by getAccounts.",
	}
}

// AuthParameters is the fixed parameter block of the token and cookie
// requests.
type AuthParameters struct {
	Account                                   Account           `json:"account"`
	AdditionalQueryParametersForAuthorization map[string]string `json:"additionalQueryParametersForAuthorization"`
	Authority                                 string            `json:"authority"`
	AuthorizationType                         int               `json:"authorizationType"`
	ClientID                                  string            `json:"clientId"`
	RedirectURI                               string            `json:"redirectUri"`
	RequestedScopes                           []string          `json:"requestedScopes"`
	Username                                  string            `json:"username"`
}

// NewAuthParameters builds the parameter block for account. Without scopes
// GraphScopes are requested.
func NewAuthParameters(account Account, scopes []string) AuthParameters {
	if len(scopes) == 0 {
		scopes = GraphScopes
	}
	return AuthParameters{
		Account: account,
		AdditionalQueryParametersForAuthorization: map[string]string{},
		Authority:         Authority,
		AuthorizationType: AuthorizationType,
		ClientID:          EdgeBrowserClientID,
		RedirectURI:       RedirectURI,
		RequestedScopes:   append([]string(nil), scopes...),
		Username:          account.Username(),
	}
}

// AccountsContext is the request body of getAccounts.
type AccountsContext struct {
	ClientID    string `json:"clientId"`
	RedirectURI string `json:"redirectUri"`
}

// PrtSsoCookieRequest is the request body of acquirePrtSsoCookie.
type PrtSsoCookieRequest struct {
	Account        Account        `json:"account"`
	AuthParameters AuthParameters `json:"authParameters"`
	SsoURL         string         `json:"ssoUrl"`
}

// TokenRequest is the request body of acquireTokenSilently.
type TokenRequest struct {
	Account        Account        `json:"account"`
	AuthParameters AuthParameters `json:"authParameters"`
}

// VersionParams is the request body of getLinuxBrokerVersion.
type VersionParams struct {
	MsalCppVersion string `json:"msalCppVersion"`
}

// AccountsResponse is the reply of getAccounts.
type AccountsResponse struct {
	Accounts []Account `json:"accounts"`
}
