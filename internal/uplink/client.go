package uplink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/mechabus-gateway/internal/api"
	"github.com/nerrad567/mechabus-gateway/internal/auth"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/config"
)

// Status values reported by Client.Status.
const (
	StatusStopped       = "stopped"
	StatusConnecting    = "connecting"
	StatusConnected     = "connected"
	StatusAuthenticated = "authenticated"
	StatusDisabled      = "disabled"
)

// Logger is the logging surface the uplink needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives uplink lifecycle events.
type Recorder interface {
	UplinkConnected(connected bool)
	UplinkDisabled()
	UplinkReconnectScheduled(delay time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) UplinkConnected(bool)                   {}
func (noopRecorder) UplinkDisabled()                        {}
func (noopRecorder) UplinkReconnectScheduled(time.Duration) {}

// Hub adopts the outbound connection as a peer session.
type Hub interface {
	AttachPeer(conn *websocket.Conn, hs api.PeerHandshake) *api.Session
}

// Config configures a Client.
type Config struct {
	URL              string
	Credential       string
	ReauthMargin     time.Duration
	HandshakeTimeout time.Duration
	Backoff          config.BackoffConfig

	// TLS is used for wss:// URLs. Nil means system roots.
	TLS *tls.Config

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// FromConfig converts the file configuration, loading any TLS material.
func FromConfig(cfg config.UplinkConfig) (Config, error) {
	tlsCfg, err := LoadTLS(cfg.TLS)
	if err != nil {
		return Config{}, err
	}
	return Config{
		URL:              cfg.URL,
		Credential:       cfg.Credential,
		ReauthMargin:     cfg.ReauthMargin,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Backoff:          cfg.Backoff,
		TLS:              tlsCfg,
	}, nil
}

// LoadTLS builds a client TLS config from PEM files. It returns nil when
// no file is configured.
func LoadTLS(cfg config.UplinkTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.ServerName == "" {
		return nil, nil
	}
	out := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: cfg.ServerName,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading uplink CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidConfig, cfg.CAFile)
		}
		out.RootCAs = pool
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading uplink client certificate: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

// message is the outbound request shape; it matches api.Envelope on the wire.
type message struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Client keeps one outbound peer connection alive.
//
// The connection is attached to the local hub as a peer session, so
// updates flow both ways through the normal fan-out. Client implements
// api.PeerHandshake to learn about its own authentication result.
type Client struct {
	cfg      Config
	hub      Hub
	clock    clock.Clock
	dialer   *websocket.Dialer
	backoff  *Backoff
	logger   Logger
	recorder Recorder

	mu       sync.Mutex
	status   string
	session  *api.Session
	token    auth.Token
	reauth   *clock.Timer
	lastErr  error
	attempts int
}

// New validates cfg and creates a stopped Client.
func New(cfg Config, hub Hub) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be ws:// or wss://, got %q", ErrInvalidConfig, cfg.URL)
	}
	if cfg.Credential == "" {
		return nil, fmt.Errorf("%w: credential is required", ErrInvalidConfig)
	}
	if hub == nil {
		return nil, fmt.Errorf("%w: hub is required", ErrInvalidConfig)
	}
	if cfg.ReauthMargin <= 0 {
		cfg.ReauthMargin = 5 * time.Minute
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Client{
		cfg:   cfg,
		hub:   hub,
		clock: cfg.Clock,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  cfg.TLS,
		},
		backoff:  NewBackoff(cfg.Backoff),
		logger:   noopLogger{},
		recorder: noopRecorder{},
		status:   StatusStopped,
	}, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// SetRecorder sets where lifecycle events are reported.
func (c *Client) SetRecorder(r Recorder) {
	c.recorder = r
}

// Status reports the connection state for health output.
func (c *Client) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempts returns how many connections have been tried.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Run connects and reconnects until ctx is cancelled or the uplink is
// disabled. It returns nil on cancellation and ErrDisabled otherwise.
func (c *Client) Run(ctx context.Context) error {
	defer func() {
		c.mu.Lock()
		if c.status != StatusDisabled {
			c.status = StatusStopped
		}
		c.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		connectedFor, err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if isPermanent(err) {
			c.disable(err)
			return ErrDisabled
		}

		delay := c.backoff.Next(connectedFor)
		c.logger.Warn("uplink down, reconnect scheduled",
			"url", c.cfg.URL,
			"error", err,
			"connected_for", connectedFor,
			"delay", delay,
			"depth", c.backoff.Depth(),
		)
		c.recorder.UplinkReconnectScheduled(delay)

		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(delay):
		}
	}
}

// connectOnce dials the peer, authenticates and blocks for the life of the
// connection. It returns how long the connection was up.
func (c *Client) connectOnce(ctx context.Context) (time.Duration, error) {
	c.setStatus(StatusConnecting)
	c.mu.Lock()
	c.attempts++
	c.lastErr = nil
	c.mu.Unlock()

	if err := c.checkCredential(); err != nil {
		return 0, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDial, err)
	}

	connectedAt := c.clock.Now()
	session := c.hub.AttachPeer(conn, c)
	c.mu.Lock()
	c.session = session
	c.status = StatusConnected
	c.mu.Unlock()
	c.recorder.UplinkConnected(true)
	c.logger.Info("uplink connected", "url", c.cfg.URL, "session", session.ID())

	if err := session.Send(message{
		Type: api.MsgAuth,
		Data: api.AuthRequest{Role: string(auth.RolePeer), Credential: c.cfg.Credential},
	}); err != nil {
		c.logger.Warn("uplink handshake not sent", "error", err)
	}

	stop := context.AfterFunc(ctx, session.Close)
	session.Run()
	stop()

	c.mu.Lock()
	c.session = nil
	c.token = auth.Token{}
	if c.reauth != nil {
		c.reauth.Stop()
		c.reauth = nil
	}
	err = c.lastErr
	c.mu.Unlock()
	c.recorder.UplinkConnected(false)

	if err == nil {
		err = errors.New("connection closed")
	}
	return c.clock.Since(connectedAt), err
}

// checkCredential refuses to dial with an expired client certificate.
func (c *Client) checkCredential() error {
	if c.cfg.TLS == nil {
		return nil
	}
	now := c.clock.Now()
	for _, cert := range c.cfg.TLS.Certificates {
		leaf := cert.Leaf
		if leaf == nil && len(cert.Certificate) > 0 {
			parsed, err := x509.ParseCertificate(cert.Certificate[0])
			if err != nil {
				continue
			}
			leaf = parsed
		}
		if leaf != nil && now.After(leaf.NotAfter) {
			return fmt.Errorf("%w: %s expired at %s", ErrCredentialExpired, leaf.Subject.CommonName, leaf.NotAfter.Format(time.RFC3339))
		}
	}
	return nil
}

// Authenticated records the token the peer issued and schedules the next
// reauthentication ReauthMargin before it expires.
func (c *Client) Authenticated(tok auth.Token) {
	wait := tok.ExpiresAt.Sub(c.clock.Now()) - c.cfg.ReauthMargin
	if wait < 0 {
		wait = 0
	}

	c.mu.Lock()
	c.token = tok
	c.status = StatusAuthenticated
	if c.reauth != nil {
		c.reauth.Stop()
	}
	c.reauth = c.clock.AfterFunc(wait, c.sendReauth)
	c.mu.Unlock()

	c.logger.Info("uplink authenticated", "expires_at", tok.ExpiresAt, "reauth_in", wait)
}

// Rejected drops the connection; Run decides whether to retry.
func (c *Client) Rejected(code int, reason string) {
	c.logger.Error("uplink rejected by peer", "url", c.cfg.URL, "code", code, "reason", reason)

	c.mu.Lock()
	c.lastErr = fmt.Errorf("%w: %d %s", ErrRejected, code, reason)
	s := c.session
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (c *Client) sendReauth() {
	c.mu.Lock()
	s, tok := c.session, c.token
	c.mu.Unlock()
	if s == nil || tok.Value == "" {
		return
	}
	if err := s.Send(message{Type: api.MsgReauth, Token: tok.Value}); err != nil {
		c.logger.Warn("uplink reauth not sent", "error", err)
		return
	}
	c.logger.Debug("uplink reauth sent")
}

func (c *Client) disable(err error) {
	c.setStatus(StatusDisabled)
	c.recorder.UplinkDisabled()
	c.logger.Error("UPLINK PERMANENTLY DISABLED: trust credential has expired; replace the certificate and restart",
		"url", c.cfg.URL,
		"error", err,
	)
}

func (c *Client) setStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// isPermanent reports whether err can never be cured by retrying: an
// expired certificate on either side of the TLS handshake.
func isPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCredentialExpired) {
		return true
	}
	var certErr x509.CertificateInvalidError
	if errors.As(err, &certErr) {
		return certErr.Reason == x509.Expired
	}
	return false
}
