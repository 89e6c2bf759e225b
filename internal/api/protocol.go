package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

// Message types carried in the envelope "type" field.
const (
	MsgAuth    = "auth"
	MsgReauth  = "reauth"
	MsgGet     = "get"
	MsgSet     = "set"
	MsgRefresh = "refresh"
	MsgUpdate  = "update"
	MsgError   = "error"

	// wsSendBufferSize is the per-session outbound message buffer size.
	wsSendBufferSize = 256
)

// errBadRequest marks envelopes and payloads the hub cannot decode.
var errBadRequest = errors.New("api: bad request")

// Envelope is one inbound message. Data is also accepted under the key
// "payload" for older clients.
type Envelope struct {
	Type    string          `json:"type"`
	Token   string          `json:"token,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e Envelope) body() json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.Payload
}

// decode unmarshals the envelope body into v. A missing body is an error.
func (e Envelope) decode(v any) error {
	body := e.body()
	if len(body) == 0 {
		return fmt.Errorf("%w: %s requires data", errBadRequest, e.Type)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", errBadRequest, e.Type, err)
	}
	return nil
}

// Outbound is every message the hub sends: update broadcasts, auth
// replies and private errors.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// AuthRequest is the body of an auth message. Subscribers present a
// password; peers set Role to "peer" and present the shared credential.
type AuthRequest struct {
	Password   string `json:"password,omitempty"`
	Role       string `json:"role,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// TargetRequest is the body of a get message.
type TargetRequest struct {
	ID string `json:"id"`
}

// SetRequest is the body of a set message. Exactly one of On, State and
// Toggle (or Action "toggle") selects the intent.
type SetRequest struct {
	ID     string `json:"id"`
	On     *bool  `json:"on,omitempty"`
	State  *int   `json:"state,omitempty"`
	Toggle flag   `json:"toggle,omitempty"`
	Action string `json:"action,omitempty"`
}

// intent converts the request to a provider.Intent. Conflicting forms are
// rejected here; an empty intent is left for the dispatcher, which checks
// the id first.
func (r SetRequest) intent() (provider.Intent, error) {
	var (
		in    provider.Intent
		forms int
	)
	if r.On != nil {
		forms++
		in = provider.On(*r.On)
	}
	if r.State != nil {
		forms++
		in = provider.SetTo(*r.State)
	}

	toggle := bool(r.Toggle)
	switch r.Action {
	case "":
	case "toggle":
		toggle = true
	default:
		return provider.Intent{}, fmt.Errorf("%w: unknown action %q", errBadRequest, r.Action)
	}
	if toggle {
		forms++
		in = provider.Toggle()
	}

	if forms > 1 {
		return provider.Intent{}, fmt.Errorf("%w: on, state and toggle are mutually exclusive", errBadRequest)
	}
	return in, nil
}

// ErrorPayload is the data of an error message.
type ErrorPayload struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
	ID    string `json:"id,omitempty"`
}

// flag accepts true/false, 1/0 and their quoted forms.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "true", "1":
		*f = true
	case "false", "0", "", "null":
		*f = false
	default:
		return fmt.Errorf("invalid boolean %s", b)
	}
	return nil
}
