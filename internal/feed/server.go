// Package feed serves the render model and the user actions over HTTP for
// external renderers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/sweepwatch/internal/engine"
	"github.com/psantana5/sweepwatch/internal/metrics"
	"github.com/psantana5/sweepwatch/internal/progress"
	"github.com/psantana5/sweepwatch/pkg/auth"
	"github.com/psantana5/sweepwatch/pkg/logging"
)

// Source is what the feed reads from and forwards actions to
type Source interface {
	Render() progress.RenderModel
	Logs() []string
	TriggerCheck(ctx context.Context) error
	ForceClose(ctx context.Context) error
}

// Handler holds the feed endpoints
type Handler struct {
	source  Source
	metrics *metrics.Metrics
	verify  *auth.Verifier
	stream  *Stream
	logger  *logging.Logger
}

// NewHandler creates a feed handler. m may be nil to skip /metrics.
func NewHandler(source Source, m *metrics.Metrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.Named("feed")
	return &Handler{
		source:  source,
		metrics: m,
		stream:  NewStream(source.Render, logger),
		logger:  logger,
	}
}

// Broadcast pushes m to the stream clients. Register it with the engine's
// OnRender.
func (h *Handler) Broadcast(m progress.RenderModel) {
	h.stream.Broadcast(m)
}

// SetActionAuth requires a bearer token on the action routes
func (h *Handler) SetActionAuth(v *auth.Verifier) {
	h.verify = v
}

// RegisterRoutes registers all feed routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/render", h.GetRender).Methods("GET")
	r.Handle("/render/stream", h.stream).Methods("GET")
	r.HandleFunc("/logs", h.GetLogs).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")

	actions := r.PathPrefix("/actions").Subrouter()
	actions.HandleFunc("/start", h.Start).Methods("POST")
	actions.HandleFunc("/stop", h.Stop).Methods("POST")
	if h.verify != nil {
		actions.Use(h.verify.Middleware)
	}

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
		r.Use(h.metrics.Middleware(routeTemplate))
	}
}

// GetRender returns the current render model
func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Render())
}

// GetLogs returns the log window
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": h.source.Logs()})
}

// Start triggers a check and blocks until the server confirms it
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "start", h.source.TriggerCheck)
}

// Stop force-closes the running check and blocks until confirmed
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "stop", h.source.ForceClose)
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context) error) {
	err := fn(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed", "action": name})
		return
	}

	code := http.StatusBadGateway
	switch {
	case errors.Is(err, engine.ErrActionInFlight):
		code = http.StatusConflict
	case errors.Is(err, engine.ErrUnauthenticated):
		code = http.StatusUnauthorized
	case errors.Is(err, engine.ErrConfirmTimeout):
		code = http.StatusGatewayTimeout
	}
	h.logger.Warn("action failed", logging.Fields{"action": name, "error": err.Error(), "code": code})
	writeJSON(w, code, map[string]string{"error": err.Error(), "action": name})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Server is the feed HTTP server
type Server struct {
	httpServer *http.Server
	logger     *logging.Logger
}

// NewServer creates a feed server listening on addr
func NewServer(addr string, h *Handler) *Server {
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: h.logger,
	}
}

// HTTPServer exposes the underlying server for shutdown registration
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("feed server listening", logging.Fields{"addr": ln.Addr().String()})

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("feed server failed", logging.Fields{"error": err.Error()})
		}
	}()
	return nil
}
