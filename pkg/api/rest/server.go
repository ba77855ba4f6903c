// Package rest serves the host's introspection/control HTTP API: aggregate
// status, per-device state, and start/stop of configured pipes.
package rest

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whad-go/whad/pkg/api/middleware"
	"github.com/whad-go/whad/pkg/api/ws"
	"github.com/whad-go/whad/pkg/config"
	"github.com/whad-go/whad/pkg/host"
	"github.com/whad-go/whad/pkg/logger"
)

// Server is the REST API server.
type Server struct {
	log  *logger.Logger
	host *host.Host
	cfg  config.APIConfig
	wsrv *ws.Server
	srv  *http.Server
}

// NewServer creates a REST server over h. wsrv may be nil to disable the
// websocket feed.
func NewServer(log *logger.Logger, h *host.Host, cfg config.APIConfig, wsrv *ws.Server) *Server {
	return &Server{log: log.WithComponent("api"), host: h, cfg: cfg, wsrv: wsrv}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	r := mux.NewRouter()
	s.registerRoutes(r)

	if s.cfg.Auth.Enabled && s.cfg.Auth.JWTSecret != "" {
		auth := middleware.NewBearerAuth(s.cfg.Auth.JWTSecret)
		r.Use(auth.Handler)
		s.log.Info("api authentication enabled")
	}

	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.srv = &http.Server{Addr: addr, Handler: r}

	s.log.Info("api server listening", "addr", addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/devices", s.handleListDevices).Methods("GET")
	v1.HandleFunc("/devices/{name}", s.handleGetDevice).Methods("GET")
	v1.HandleFunc("/pipes", s.handleListPipes).Methods("GET")
	v1.HandleFunc("/pipes/{name}/start", s.handleStartPipe).Methods("POST")
	v1.HandleFunc("/pipes/{name}/stop", s.handleStopPipe).Methods("POST")

	if s.wsrv != nil {
		r.HandleFunc("/ws", s.wsrv.HandleUpgrade)
	}
}
