package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nerrad567/mechabus-gateway/internal/auth"
	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

// messageLabels bounds the metrics label set to known message types.
var messageLabels = map[string]bool{
	MsgAuth: true, MsgReauth: true, MsgGet: true, MsgSet: true,
	MsgRefresh: true, MsgUpdate: true, MsgError: true,
}

// handleMessage decodes one inbound message and routes it. Authentication
// results and errors go back to this session only; state results are
// broadcast.
func (s *Session) handleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		err = fmt.Errorf("%w: invalid JSON message", errBadRequest)
		s.replyError(err, "")
		s.recordMessage("invalid", err)
		return
	}

	if s.Role() == auth.RolePeer && s.interceptPeer(env) {
		s.recordMessage(env.Type, nil)
		return
	}

	s.recordMessage(env.Type, s.route(env))
}

func (s *Session) recordMessage(msgType string, err error) {
	if !messageLabels[msgType] {
		msgType = "unknown"
	}
	_, rec := s.hub.hooks()
	rec.MessageHandled(msgType, err)
}

// route runs the subscriber routing table. Every type except auth needs a
// valid token; a failed check ends processing of the message.
func (s *Session) route(env Envelope) error {
	if env.Type == MsgAuth {
		return s.handleAuth(env)
	}

	claims, err := s.hub.auth.Verify(env.Token)
	if err != nil {
		s.replyError(err, "")
		return err
	}

	switch env.Type {
	case MsgReauth:
		return s.handleReauth(claims)
	case MsgGet:
		return s.handleGet(env)
	case MsgSet:
		return s.handleSet(env)
	case MsgRefresh:
		s.hub.Refresh()
		return nil
	default:
		err := fmt.Errorf("%w: unknown message type %q", errBadRequest, env.Type)
		s.replyError(err, "")
		return err
	}
}

// interceptPeer handles the messages a peer sends that are not requests:
// update fan-out, error reports and, on the outbound session, replies to
// its own handshake. It reports whether env was consumed.
//
// Updates from an inbound peer whose token has expired are dropped and
// answered with a 401 until the peer re-authenticates.
func (s *Session) interceptPeer(env Envelope) bool {
	switch env.Type {
	case MsgUpdate:
		if !s.outbound && s.expired() {
			s.hub.logger.Warn("dropping update from peer with expired token", "session", s.id, "expired_at", s.ExpiresAt())
			s.replyError(auth.ErrTokenExpired, "")
			return true
		}
		states, err := decodeStates(env.body())
		if err != nil {
			s.hub.logger.Warn("dropping malformed peer update", "session", s.id, "error", err)
			return true
		}
		s.hub.relay(s, states)
		return true

	case MsgError:
		var p ErrorPayload
		//nolint:errcheck // A garbled error report is still logged below
		json.Unmarshal(env.body(), &p)
		if s.outbound && s.handshake != nil && p.Code == http.StatusUnauthorized {
			s.handshake.Rejected(p.Code, p.Error)
			return true
		}
		s.hub.logger.Warn("peer reported error", "session", s.id, "code", p.Code, "error", p.Error, "id", p.ID)
		return true

	case MsgAuth:
		if !s.outbound {
			return false
		}
		var tok auth.Token
		if err := env.decode(&tok); err != nil || tok.Value == "" {
			s.hub.logger.Warn("peer sent unusable token", "session", s.id, "error", err)
			if s.handshake != nil {
				s.handshake.Rejected(http.StatusBadRequest, "malformed token reply")
			}
			return true
		}
		s.setExpiry(tok.ExpiresAt)
		if s.handshake != nil {
			s.handshake.Authenticated(tok)
		}
		return true
	}
	return false
}

func (s *Session) handleAuth(env Envelope) error {
	var req AuthRequest
	if err := env.decode(&req); err != nil {
		s.replyError(err, "")
		return err
	}

	var (
		tok  auth.Token
		role auth.Role
		err  error
	)
	switch auth.Role(req.Role) {
	case "", auth.RoleSubscriber:
		role = auth.RoleSubscriber
		tok, err = s.hub.auth.Authenticate(req.Password)
	case auth.RolePeer:
		role = auth.RolePeer
		tok, err = s.hub.auth.AuthenticatePeer(req.Credential)
	default:
		err = fmt.Errorf("%w: unknown role %q", errBadRequest, req.Role)
	}
	if err != nil {
		s.hub.logger.Info("authentication failed", "session", s.id, "role", req.Role, "remote", s.remoteAddr())
		s.replyError(err, "")
		return err
	}

	s.setRole(role)
	s.setExpiry(tok.ExpiresAt)
	s.hub.logger.Info("session authenticated", "session", s.id, "role", role, "expires_at", tok.ExpiresAt)
	s.reply(MsgAuth, tok)
	return nil
}

func (s *Session) handleReauth(claims *auth.Claims) error {
	tok, err := s.hub.auth.Reauthenticate(claims)
	if err != nil {
		s.replyError(err, "")
		return err
	}
	s.setRole(claims.Role)
	s.setExpiry(tok.ExpiresAt)
	s.reply(MsgAuth, tok)
	return nil
}

func (s *Session) handleGet(env Envelope) error {
	var req TargetRequest
	if err := env.decode(&req); err != nil {
		s.replyError(err, "")
		return err
	}

	st, err := s.hub.dispatcher.GetState(s.hub.ctx, req.ID)
	if err != nil {
		s.replyError(err, req.ID)
		return err
	}
	s.hub.BroadcastStates(st)
	return nil
}

func (s *Session) handleSet(env Envelope) error {
	var req SetRequest
	if err := env.decode(&req); err != nil {
		s.replyError(err, "")
		return err
	}
	intent, err := req.intent()
	if err != nil {
		s.replyError(err, req.ID)
		return err
	}

	st, err := s.hub.dispatcher.SetState(s.hub.ctx, req.ID, intent)
	if err != nil {
		s.replyError(err, req.ID)
		return err
	}
	s.hub.BroadcastStates(st)
	return nil
}

// reply sends a message to this session only.
func (s *Session) reply(msgType string, data any) {
	b, err := json.Marshal(Outbound{Type: msgType, Data: data})
	if err != nil {
		s.hub.logger.Error("failed to marshal reply", "type", msgType, "error", err)
		return
	}
	s.trySend(b)
}

func (s *Session) replyError(err error, id string) {
	p := errorPayload(err, id)
	if p.Code >= http.StatusInternalServerError {
		s.hub.logger.Warn("request failed", "session", s.id, "id", id, "code", p.Code, "error", err)
	} else {
		s.hub.logger.Debug("request rejected", "session", s.id, "id", id, "code", p.Code, "error", err)
	}
	s.reply(MsgError, p)
}

func (s *Session) remoteAddr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// decodeStates accepts either a list of states or a single state.
func decodeStates(body json.RawMessage) ([]provider.State, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: update requires data", errBadRequest)
	}
	var states []provider.State
	if err := json.Unmarshal(body, &states); err == nil {
		return states, nil
	}
	var st provider.State
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("%w: update data: %v", errBadRequest, err)
	}
	return []provider.State{st}, nil
}
