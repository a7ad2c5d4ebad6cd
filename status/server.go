// Package status serves the node state over HTTP: a health check, the
// registry snapshot and the prometheus metrics.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/aethiopicuschan/p2ptp/node"
	"github.com/aethiopicuschan/p2ptp/wire"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Source is the node being reported on. *node.LocalPeer implements it.
type Source interface {
	PeerID() wire.PeerID
	Snapshot() node.Snapshot
}

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080".
	Addr string
	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is the status HTTP server.
type Server struct {
	src     Source
	log     *zap.Logger
	router  *mux.Router
	server  *http.Server
	started time.Time
}

// ErrorResponse is the body of non-2xx JSON responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health is the body of /healthz.
type Health struct {
	Status    string        `json:"status"`
	PeerID    string        `json:"peer_id"`
	Connected int           `json:"connected"`
	Pending   int           `json:"pending"`
	Uptime    time.Duration `json:"uptime"`
}

// New creates a server. It does not listen until Start.
func New(cfg Config, src Source) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		src:     src,
		log:     cfg.Logger.Named("status"),
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	s.setupRoutes(cfg.Gatherer)
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(g prometheus.Gatherer) {
	s.router.HandleFunc("/healthz", s.healthCheck).Methods(http.MethodGet)
	s.router.HandleFunc("/peers", s.listPeers).Methods(http.MethodGet)
	s.router.HandleFunc("/peers/{id}", s.getPeer).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Handler returns the router, for mounting elsewhere or testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
// It returns the bound address.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server stopped", zap.Error(err))
		}
	}()
	s.log.Info("status server listening", zap.Stringer("addr", ln.Addr()))
	return ln.Addr(), nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) healthCheck(w http.ResponseWriter, _ *http.Request) {
	snap := s.src.Snapshot()
	s.writeJSON(w, http.StatusOK, Health{
		Status:    "healthy",
		PeerID:    s.src.PeerID().String(),
		Connected: len(snap.Peers),
		Pending:   len(snap.Pending),
		Uptime:    time.Since(s.started),
	})
}

func (s *Server) listPeers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.src.Snapshot())
}

func (s *Server) getPeer(w http.ResponseWriter, r *http.Request) {
	id, err := wire.ParsePeerID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid peer id", err)
		return
	}
	for _, p := range s.src.Snapshot().Peers {
		if p.PeerID == id.String() {
			s.writeJSON(w, http.StatusOK, p)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "peer not connected", nil)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		message += ": " + err.Error()
	}
	s.writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Message: message,
	})
}
