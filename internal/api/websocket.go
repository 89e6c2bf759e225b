package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/mechabus-gateway/internal/auth"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/config"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

// ErrSessionClosed is returned by Session.Send once the session has left the hub.
var ErrSessionClosed = errors.New("api: session closed")

// Dispatcher is the subset of dispatch.Dispatcher the hub routes to.
type Dispatcher interface {
	Providers() []string
	GetState(ctx context.Context, id string) (provider.State, error)
	SetState(ctx context.Context, id string, intent provider.Intent) (provider.State, error)
	Observe(st provider.State)
}

// Authenticator is the subset of auth.Authenticator the hub needs.
type Authenticator interface {
	Authenticate(password string) (auth.Token, error)
	AuthenticatePeer(credential string) (auth.Token, error)
	Verify(token string) (*auth.Claims, error)
	Reauthenticate(claims *auth.Claims) (auth.Token, error)
}

// StateMirror receives every broadcast state, e.g. to republish it on MQTT.
type StateMirror interface {
	PublishState(st provider.State) error
}

// Recorder receives session and message events for metrics.
type Recorder interface {
	SessionOpened(role string)
	SessionClosed(role string)
	SessionRoleChanged(from, to string)
	MessageHandled(msgType string, err error)
	Broadcast()
}

type noopRecorder struct{}

func (noopRecorder) SessionOpened(string)             {}
func (noopRecorder) SessionClosed(string)             {}
func (noopRecorder) SessionRoleChanged(string, string) {}
func (noopRecorder) MessageHandled(string, error)     {}
func (noopRecorder) Broadcast()                       {}

// PeerHandshake is told the outcome of an outbound session's own
// authentication with the remote hub.
type PeerHandshake interface {
	Authenticated(tok auth.Token)
	Rejected(code int, reason string)
}

// Hub manages the live session set and broadcasts state updates to it.
//
// Inbound subscriber sessions, inbound peers and the outbound uplink
// session all live in the same set and receive every broadcast.
type Hub struct {
	cfg        config.WebSocketConfig
	logger     *logging.Logger
	dispatcher Dispatcher
	auth       Authenticator
	clock      clock.Clock

	sessions map[*Session]struct{}
	mu       sync.RWMutex

	hooksMu  sync.RWMutex
	mirror   StateMirror
	recorder Recorder

	// ctx bounds provider calls made on behalf of sessions.
	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// Session is one live connection participating in the broadcast protocol.
type Session struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	outbound  bool
	handshake PeerHandshake

	mu        sync.RWMutex
	role      auth.Role
	expiresAt time.Time
}

// NewHub creates a hub routing requests to dispatcher and authn.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, dispatcher Dispatcher, authn Authenticator) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		logger:     logger,
		dispatcher: dispatcher,
		auth:       authn,
		clock:      clock.New(),
		sessions:   make(map[*Session]struct{}),
		recorder:   noopRecorder{},
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetMirror installs a mirror for broadcast states. Pass nil to remove it.
func (h *Hub) SetMirror(m StateMirror) {
	h.hooksMu.Lock()
	h.mirror = m
	h.hooksMu.Unlock()
}

// SetClock sets the clock session expiry is judged against. It should
// match the authenticator's clock and be set before the hub serves.
func (h *Hub) SetClock(c clock.Clock) {
	h.clock = c
}

// SetRecorder installs a metrics recorder.
func (h *Hub) SetRecorder(r Recorder) {
	if r == nil {
		r = noopRecorder{}
	}
	h.hooksMu.Lock()
	h.recorder = r
	h.hooksMu.Unlock()
}

func (h *Hub) hooks() (StateMirror, Recorder) {
	h.hooksMu.RLock()
	defer h.hooksMu.RUnlock()
	return h.mirror, h.recorder
}

// Run blocks until ctx is cancelled, then closes the hub.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Close()
}

// Close disconnects every session and waits for outstanding refresh tasks.
func (h *Hub) Close() {
	h.cancel()
	h.closeAll()
	h.tasks.Wait()
}

// ServeConn adopts an upgraded inbound connection as a subscriber session
// and starts its pumps.
func (h *Hub) ServeConn(conn *websocket.Conn) *Session {
	s := h.newSession(conn, false, nil)
	h.Register(s)
	go s.writePump()
	go s.readPump()
	return s
}

// AttachPeer adopts an outbound connection to a peer hub. The write pump
// starts immediately so the caller can send its handshake; the caller then
// blocks in Session.Run until the connection ends.
func (h *Hub) AttachPeer(conn *websocket.Conn, hs PeerHandshake) *Session {
	s := h.newSession(conn, true, hs)
	h.Register(s)
	go s.writePump()
	return s
}

func (h *Hub) newSession(conn *websocket.Conn, outbound bool, hs PeerHandshake) *Session {
	role := auth.RoleSubscriber
	if outbound {
		role = auth.RolePeer
	}
	return &Session{
		id:        uuid.NewString(),
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, wsSendBufferSize),
		done:      make(chan struct{}),
		outbound:  outbound,
		handshake: hs,
		role:      role,
	}
}

// Register adds a session to the hub.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	_, rec := h.hooks()
	rec.SessionOpened(string(s.Role()))
	h.logger.Debug("session opened", "session", s.id, "outbound", s.outbound, "sessions", h.SessionCount())
}

// Unregister removes a session from the hub.
// Only the goroutine that removes the session from the map closes its
// channels, so shutdown and a concurrent disconnect cannot double-close.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	_, existed := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()

	if !existed {
		return
	}
	close(s.send)
	close(s.done)

	_, rec := h.hooks()
	rec.SessionClosed(string(s.Role()))
	h.logger.Debug("session closed", "session", s.id, "sessions", h.SessionCount())
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// BroadcastStates sends one update carrying states to every session and
// mirrors each state.
func (h *Hub) BroadcastStates(states ...provider.State) {
	if len(states) == 0 {
		return
	}

	data, err := json.Marshal(Outbound{Type: MsgUpdate, Data: states})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	sent := h.fanOut(data, nil)

	mirror, rec := h.hooks()
	rec.Broadcast()
	if mirror != nil {
		for _, st := range states {
			if err := mirror.PublishState(st); err != nil {
				h.logger.Debug("state mirror publish failed", "id", st.ID, "error", err)
			}
		}
	}
	h.logger.Debug("broadcast sent", "states", len(states), "recipients", sent)
}

// Notify handles an unsolicited state report from a device. It is
// equivalent to a successful set: the safety controller observes the state
// and every session receives it.
func (h *Hub) Notify(st provider.State) {
	h.dispatcher.Observe(st)
	h.BroadcastStates(st)
}

// Refresh reads every provider concurrently and broadcasts each result on
// its own. Failures are logged and dropped.
func (h *Hub) Refresh() {
	if h.ctx.Err() != nil {
		return
	}
	for _, id := range h.dispatcher.Providers() {
		id := id // per-iteration copy (Go 1.22 loop semantics under go 1.21)
		h.tasks.Add(1)
		go func() {
			defer h.tasks.Done()
			st, err := h.dispatcher.GetState(h.ctx, id)
			if err != nil {
				h.logger.Debug("refresh skipped provider", "id", id, "error", err)
				return
			}
			h.BroadcastStates(st)
		}()
	}
}

// relay forwards updates received from a peer to local non-peer sessions.
func (h *Hub) relay(from *Session, states []provider.State) {
	if len(states) == 0 {
		return
	}
	data, err := json.Marshal(Outbound{Type: MsgUpdate, Data: states})
	if err != nil {
		h.logger.Error("failed to marshal relay message", "error", err)
		return
	}
	sent := h.fanOut(data, func(s *Session) bool {
		return s != from && s.Role() != auth.RolePeer
	})
	h.logger.Debug("peer update relayed", "from", from.id, "states", len(states), "recipients", sent)
}

// fanOut snapshots the session set under the hub lock, then sends outside it.
func (h *Hub) fanOut(data []byte, include func(*Session) bool) int {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	sent := 0
	for _, s := range sessions {
		if include != nil && !include(s) {
			continue
		}
		if s.trySend(data) {
			sent++
		}
	}
	return sent
}

// closeAll disconnects all sessions and closes their send channels so the
// write pumps exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, s)
	}
	h.mu.Unlock()

	_, rec := h.hooks()
	for _, s := range sessions {
		close(s.send)
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
		rec.SessionClosed(string(s.Role()))
	}
}

func (h *Hub) pingInterval() time.Duration {
	return time.Duration(h.cfg.PingInterval) * time.Second
}

func (h *Hub) pongWait() time.Duration {
	return time.Duration(h.cfg.PongTimeout) * time.Second
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Done is closed when the session leaves the hub.
func (s *Session) Done() <-chan struct{} { return s.done }

// Role returns the role the session last authenticated as.
func (s *Session) Role() auth.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// ExpiresAt returns the expiry of the last token the session presented or received.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// expired reports whether the session's token has passed its expiry.
// A session that never received a token has not expired.
func (s *Session) expired() bool {
	exp := s.ExpiresAt()
	return !exp.IsZero() && !s.hub.clock.Now().Before(exp)
}

func (s *Session) setRole(role auth.Role) {
	if s.outbound {
		return
	}
	s.mu.Lock()
	prev := s.role
	s.role = role
	s.mu.Unlock()

	if prev != role {
		_, rec := s.hub.hooks()
		rec.SessionRoleChanged(string(prev), string(role))
	}
}

func (s *Session) setExpiry(t time.Time) {
	s.mu.Lock()
	s.expiresAt = t
	s.mu.Unlock()
}

// Run reads from an outbound session until the connection ends.
func (s *Session) Run() {
	s.readPump()
}

// Send queues v, JSON encoded, for delivery.
func (s *Session) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if !s.trySend(data) {
		return ErrSessionClosed
	}
	return nil
}

// Close leaves the hub and drops the connection.
func (s *Session) Close() {
	s.hub.Unregister(s)
	if s.conn != nil {
		s.conn.Close()
	}
}

// readPump reads messages from the connection and handles them in order.
func (s *Session) readPump() {
	defer s.Close()

	pingInterval, pongWait := s.hub.pingInterval(), s.hub.pongWait()
	s.conn.SetReadLimit(int64(s.hub.cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("websocket read error", "session", s.id, "error", err)
			} else {
				s.hub.logger.Debug("websocket closed", "session", s.id, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		s.handleMessage(message)
	}
}

// writePump writes queued messages and keepalive pings to the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.pingInterval())
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	pongWait := s.hub.pongWait()

	for {
		select {
		case message, ok := <-s.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			s.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues data without blocking. It reports false when the buffer
// is full or the session has already been closed.
func (s *Session) trySend(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}
