package api

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"

	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

// NotifyRequest is an unsolicited state report from a device, received on
// POST /api/v1/notify or on mechabus/notify/{id}. Exactly one of State and
// On is set.
type NotifyRequest struct {
	State *int  `json:"state,omitempty"`
	On    *bool `json:"on,omitempty"`
}

func (n NotifyRequest) level() (int, error) {
	switch {
	case n.State != nil && n.On != nil:
		return 0, fmt.Errorf("%w: state and on are mutually exclusive", errBadRequest)
	case n.State != nil:
		if *n.State < 0 {
			return 0, fmt.Errorf("%w: negative state", errBadRequest)
		}
		return *n.State, nil
	case n.On != nil:
		if *n.On {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: state or on is required", errBadRequest)
	}
}

// handleNotify accepts a state report from a remote switch. The sender is
// identified by its source address; the body is JSON or form encoded.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	id, ok := s.registry.LookupAddress(host)
	if !ok {
		writeNotFound(w, "controller not found")
		return
	}

	var req NotifyRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	} else if err := notifyFromForm(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	level, err := req.level()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	states, err := s.applyNotification(r.Context(), id, level)
	if err != nil {
		writeProviderError(w, err, s.pairings[id])
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": states})
}

// applyNotification broadcasts the reported state and, if the sender has a
// partner, drives the partner to the same level.
func (s *Server) applyNotification(ctx context.Context, id string, level int) ([]provider.State, error) {
	st := provider.StateAt(id, level)
	s.hub.Notify(st)
	states := []provider.State{st}

	partner, ok := s.pairings[id]
	if !ok {
		return states, nil
	}
	pst, err := s.dispatcher.SetState(ctx, partner, provider.SetTo(level))
	if err != nil {
		s.logger.Warn("paired provider did not follow", "id", id, "partner", partner, "error", err)
		return states, err
	}
	s.hub.BroadcastStates(pst)
	return append(states, pst), nil
}

func notifyFromForm(r *http.Request, req *NotifyRequest) error {
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("invalid form body")
	}
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
	return nil
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
