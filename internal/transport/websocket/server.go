// Package websocket serves the collaboration protocol over websocket
// connections and exposes the HTTP health, stats, and metrics endpoints.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Prasannaverse13/ArtChainCollective/internal/config"
	"github.com/Prasannaverse13/ArtChainCollective/internal/observability"
	"github.com/Prasannaverse13/ArtChainCollective/internal/room"
	"github.com/Prasannaverse13/ArtChainCollective/internal/router"
	"github.com/Prasannaverse13/ArtChainCollective/internal/session"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

const shutdownTimeout = 5 * time.Second

// Server upgrades HTTP requests to websocket sessions and dispatches each
// session's frames to the router.
type Server struct {
	cfg      config.WebSocketConfig
	router   *router.Router
	rooms    *room.Registry
	db       Pinger
	metrics  *observability.Metrics
	logger   *zap.Logger
	policy   session.OverflowPolicy
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	stopped    bool
}

// NewServer creates a websocket server with the given configuration.
//
// Precondition: cfg must have passed config validation; all other arguments must be non-nil.
// Postcondition: Returns a Server ready for ListenAndServe, or an error for an unknown overflow policy.
func NewServer(
	cfg config.WebSocketConfig,
	rtr *router.Router,
	rooms *room.Registry,
	db Pinger,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Server, error) {
	policy, err := session.ParseOverflowPolicy(cfg.Overflow)
	if err != nil {
		return nil, fmt.Errorf("websocket.overflow: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		router:  rtr,
		rooms:   rooms,
		db:      db,
		metrics: metrics,
		logger:  logger,
		policy:  policy,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.serveWS)
	mux.HandleFunc("/health", s.serveHealth)
	mux.HandleFunc("/stats", s.serveStats)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ListenAndServe binds the configured address and serves until Stop is called.
//
// Precondition: The server must not already be running.
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (s *Server) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("websocket server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", s.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	conn := NewConn(ws, s.cfg.WriteTimeout)
	sess := session.New(uuid.NewString(), conn, s.router, s.rooms, session.Config{
		QueueSize: s.cfg.SendQueue,
		Overflow:  s.policy,
	}, s.logger, s.metrics)
	s.router.Attach(sess)
	sess.Logger().Info("client connected")

	if err := sess.Run(s.ctx); err != nil {
		s.router.Report(sess, router.CategoryTransport, err)
	}
}

type healthResponse struct {
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
	WebSocketStatus string `json:"webSocketStatus"`
	ConnectionCount int    `json:"connectionCount"`
	Database        string `json:"database"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:          "ok",
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		WebSocketStatus: "active",
		ConnectionCount: s.router.Clients(),
		Database:        "ok",
	}
	if !s.IsRunning() {
		resp.WebSocketStatus = "stopped"
	}
	code := http.StatusOK
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Warn("health check: database unreachable", zap.Error(err))
		resp.Status = "degraded"
		resp.Database = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type statsResponse struct {
	Rooms    int `json:"rooms"`
	Members  int `json:"members"`
	Sessions int `json:"sessions"`
}

func (s *Server) serveStats(w http.ResponseWriter, _ *http.Request) {
	rooms, members := s.rooms.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		Rooms:    rooms,
		Members:  members,
		Sessions: s.router.Clients(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Stop stops accepting connections, closes every live session with reason
// shutdown, and waits for their goroutines to exit.
//
// Postcondition: All sessions are closed and the listener is released.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	s.cancel()
	s.wg.Wait()

	s.logger.Info("websocket server stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the server is currently accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
