package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// handleCommand is the HTTP form of a set message: {id, state} or
// {id, action: "toggle"}, JSON or form encoded. The resulting state is
// broadcast like any other set.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req SetRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	} else if err := commandFromForm(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	intent, err := req.intent()
	if err != nil {
		writeProviderError(w, err, req.ID)
		return
	}

	st, err := s.dispatcher.SetState(r.Context(), req.ID, intent)
	if err != nil {
		writeProviderError(w, err, req.ID)
		return
	}
	s.hub.BroadcastStates(st)
	writeJSON(w, http.StatusOK, st)
}

func commandFromForm(r *http.Request, req *SetRequest) error {
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("invalid form body")
	}
	req.ID = r.Form.Get("id")
	req.Action = r.Form.Get("action")
	if v := r.Form.Get("state"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("state must be an integer")
		}
		req.State = &n
	}
	if v := r.Form.Get("on"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("on must be a boolean")
		}
		req.On = &b
	}
	if v := r.Form.Get("toggle"); v != "" {
		if err := req.Toggle.UnmarshalJSON([]byte(v)); err != nil {
			return fmt.Errorf("toggle must be a boolean")
		}
	}
	return nil
}

// writeProviderError writes err using the same status mapping as the hub.
func writeProviderError(w http.ResponseWriter, err error, id string) {
	p := errorPayload(err, id)
	code := ErrCodeInternal
	switch p.Code {
	case http.StatusBadRequest:
		code = ErrCodeBadRequest
	case http.StatusUnauthorized:
		code = ErrCodeUnauthorized
	case http.StatusNotFound:
		code = ErrCodeNotFound
	case http.StatusBadGateway:
		code = ErrCodeUnreachable
	}
	msg := p.Error
	if id != "" {
		msg += ": " + id
	}
	writeError(w, p.Code, code, msg)
}
