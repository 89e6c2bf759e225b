package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/config"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// UplinkStatus reports the uplink state for the health endpoint.
type UplinkStatus interface {
	Status() string
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Metrics    config.MetricsConfig
	Logger     *logging.Logger
	Hub        *Hub
	Auth       Authenticator
	Dispatcher Dispatcher
	Registry   *provider.Registry
	Pairings   map[string]string
	MQTT       *mqtt.Client     // optional: state mirror and notify topics
	Prometheus *metrics.Metrics // optional: served at Metrics.Path
	Uplink     UplinkStatus     // optional
	Version    string
}

// Server is the HTTP and websocket front end of the gateway.
//
// It owns the listener and the router; the Hub it serves is created by
// the caller so the uplink can attach to it too.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	metricsCfg config.MetricsConfig
	logger     *logging.Logger
	hub        *Hub
	auth       Authenticator
	dispatcher Dispatcher
	registry   *provider.Registry
	pairings   map[string]string
	mqtt       *mqtt.Client
	prometheus *metrics.Metrics
	uplink     UplinkStatus
	version    string
	upgrader   websocket.Upgrader
	server     *http.Server
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		metricsCfg: deps.Metrics,
		logger:     deps.Logger,
		hub:        deps.Hub,
		auth:       deps.Auth,
		dispatcher: deps.Dispatcher,
		registry:   deps.Registry,
		pairings:   deps.Pairings,
		mqtt:       deps.MQTT,
		prometheus: deps.Prometheus,
		uplink:     deps.Uplink,
		version:    deps.Version,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s, nil
}

// Start runs the hub, wires the MQTT side channel if configured and
// launches the HTTP listener in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	if s.mqtt != nil {
		s.hub.SetMirror(newMQTTMirror(s.mqtt))
		if err := s.subscribeNotifications(srvCtx); err != nil {
			s.logger.Warn("failed to subscribe to device notifications", "error", err)
		}
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops the hub and gracefully shuts down the HTTP server.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
