package stdio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/siemens/linux-entra-sso/broker"
)

// Command names accepted from the browser.
const (
	CommandGetAccounts          = "getAccounts"
	CommandAcquirePrtSsoCookie  = "acquirePrtSsoCookie"
	CommandAcquireTokenSilently = "acquireTokenSilently"
	CommandGetVersion           = "getVersion"

	// CommandBrokerStateChanged is only ever sent, never received.
	CommandBrokerStateChanged = "brokerStateChanged"
)

type GetAccountsRequest struct {
	Command string `json:"command" jsonschema:"required,enum=getAccounts"`
}

type AcquirePrtSsoCookieRequest struct {
	Command string         `json:"command" jsonschema:"required,enum=acquirePrtSsoCookie"`
	Account broker.Account `json:"account" jsonschema:"required"`
	SsoURL  string         `json:"ssoUrl,omitempty" jsonschema:"description=Target of the SSO cookie. Defaults to the Microsoft login endpoint."`
}

type AcquireTokenSilentlyRequest struct {
	Command string         `json:"command" jsonschema:"required,enum=acquireTokenSilently"`
	Account broker.Account `json:"account" jsonschema:"required"`
	Scopes  []string       `json:"scopes,omitempty" jsonschema:"description=Requested scopes. Defaults to the Microsoft Graph scope."`
}

type GetVersionRequest struct {
	Command string `json:"command" jsonschema:"required,enum=getVersion"`
}

// Response is the envelope of every message sent to the browser.
type Response struct {
	Command string `json:"command"`
	Message any    `json:"message"`
}

// ErrorMessage is the message of a failed command.
type ErrorMessage struct {
	Error string `json:"error"`
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
)

func requestSchemas() map[string]*jsonschema.Schema {
	schemasOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference:             true,
			ExpandedStruct:             true,
			RequiredFromJSONSchemaTags: true,
			AllowAdditionalProperties:  true,
		}
		schemas = map[string]*jsonschema.Schema{
			CommandGetAccounts:          r.Reflect(&GetAccountsRequest{}),
			CommandAcquirePrtSsoCookie:  r.Reflect(&AcquirePrtSsoCookieRequest{}),
			CommandAcquireTokenSilently: r.Reflect(&AcquireTokenSilentlyRequest{}),
			CommandGetVersion:           r.Reflect(&GetVersionRequest{}),
		}
	})
	return schemas
}

// Schemas returns the JSON schema of every accepted command, keyed by
// command name.
func Schemas() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(requestSchemas()))
	for k, v := range requestSchemas() {
		out[k] = v
	}
	return out
}

// decodeRequest checks the fields the command's schema requires and decodes
// raw into dst.
func decodeRequest(command string, raw json.RawMessage, dst any) error {
	schema, ok := requestSchemas()[command]
	if !ok {
		return fmt.Errorf("no schema for command %q", command)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("request is not an object: %w", err)
	}
	for _, name := range schema.Required {
		v, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return fmt.Errorf("missing required field %q", name)
		}
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid %s request: %w", command, err)
	}
	return nil
}
