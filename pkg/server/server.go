package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/tablesync/pkg/middleware"
	"github.com/vango-dev/tablesync/pkg/reducer"
	"github.com/vango-dev/tablesync/pkg/state"
	"github.com/vango-dev/tablesync/pkg/store"
)

// Option configures a Server.
type Option func(*Server)

// WithStore persists the canonical state in st.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.hubOpts = append(s.hubOpts, WithHubStore(st))
	}
}

// WithMigrator sets the migrator used to load the persisted state.
func WithMigrator(m store.Migrator) Option {
	return func(s *Server) {
		s.hubOpts = append(s.hubOpts, WithHubMigrator(m))
	}
}

// WithMiddleware replaces the default apply middleware (Prometheus and
// OpenTelemetry) with mws.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) {
		s.middleware = mws
	}
}

// WithRoot sets the root reducer.
func WithRoot(r *reducer.Root) Option {
	return func(s *Server) {
		s.hubOpts = append(s.hubOpts, WithHubRoot(r))
	}
}

// WithInitialState sets the state used when the store holds none.
func WithInitialState(st state.State) Option {
	return func(s *Server) {
		s.hubOpts = append(s.hubOpts, WithHubInitialState(st))
	}
}

// WithLogger sets the logger of the server and its hub.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// Server serves one table over HTTP and WebSocket.
type Server struct {
	config     *ServerConfig
	hub        *Hub
	upgrader   websocket.Upgrader
	router     chi.Router
	logger     *slog.Logger
	middleware []middleware.Middleware
	hubOpts    []HubOption

	mu         sync.Mutex
	httpServer *http.Server
	started    bool
}

// New creates a server. A nil config uses DefaultServerConfig.
func New(config *ServerConfig, opts ...Option) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	config = config.Clone()
	config.applyDefaults()

	s := &Server{
		config: config,
		logger: slog.Default(),
		middleware: []middleware.Middleware{
			middleware.OpenTelemetry(),
			middleware.Prometheus(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	hubOpts := append([]HubOption{
		WithHubLogger(s.logger),
		WithHubMiddleware(s.middleware...),
	}, s.hubOpts...)
	s.hub = NewHub(config, hubOpts...)
	s.logger = s.logger.With("component", "server")

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     config.CheckOrigin,
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/ws", s.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r

	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start loads the state and starts the hub without listening. Use it with
// Handler to serve from an existing http.Server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if err := s.hub.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// HandleWebSocket upgrades the request and runs a session until the
// connection closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", "error", err)
		middleware.RecordWebSocketError("upgrade")
		return
	}

	session := newSession(conn, uuid.NewString(), s.config.SessionConfig, s.hub, s.logger)
	go session.WriteLoop()

	if err := s.hub.Register(session.ID, session); err != nil {
		s.logger.Warn("session rejected", "session_id", session.ID, "error", err)
		session.Close()
		return
	}
	s.logger.Info("session connected", "session_id", session.ID, "remote_addr", session.RemoteAddr)

	session.ReadLoop()
	s.logger.Info("session disconnected", "session_id", session.ID,
		"duration", time.Since(session.CreatedAt).Round(time.Millisecond))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	data, err := json.Marshal(s.hub.State())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Run starts the hub and serves HTTP on config.Address until ctx is done,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.Start(ctx); err != nil {
		ln.Close()
		return err
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = s.hub.Stop(context.Background())
			return err
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes every session, saves the state and stops the HTTP
// server, waiting at most config.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	// Stop the hub first so sessions get a close frame and the state is saved.
	if err := s.hub.Stop(ctx); err != nil {
		s.logger.Error("hub shutdown error", "error", err)
		return err
	}

	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
