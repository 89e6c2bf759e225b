package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Hub sessions authenticate in-band.
	r.Get(s.wsPath(), s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Remote switches identify themselves by source address.
		r.Post("/notify", s.handleNotify)

		r.Group(func(r chi.Router) {
			r.Use(s.bearerAuthMiddleware)
			r.Get("/providers", s.handleListProviders)
			r.Post("/command", s.handleCommand)
		})
	})

	if s.metricsCfg.Enabled && s.prometheus != nil {
		r.Handle(s.metricsCfg.Path, s.prometheus.Handler())
	}

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"version":   s.version,
		"sessions":  s.hub.SessionCount(),
		"providers": s.registry.Len(),
	}
	if s.mqtt != nil {
		body["mqtt_connected"] = s.mqtt.IsConnected()
	}
	if s.uplink != nil {
		body["uplink"] = s.uplink.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleWebSocket upgrades the connection and hands it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	s.hub.ServeConn(conn)
}

func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.dispatcher.Providers(),
	})
}
