package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/poolbridge/internal/audit"
	"github.com/nerrad567/poolbridge/internal/coordinator"
	"github.com/nerrad567/poolbridge/internal/infrastructure/config"
	"github.com/nerrad567/poolbridge/internal/infrastructure/logging"
	"github.com/nerrad567/poolbridge/internal/observation"
	"github.com/nerrad567/poolbridge/internal/pool"
	"github.com/nerrad567/poolbridge/internal/reconcile"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Coordinator is the set of pool operations the API exposes.
// *coordinator.Coordinator satisfies it.
type Coordinator interface {
	Ready() bool
	HealthCheck(ctx context.Context) error
	Freshness() observation.Freshness
	Throttle() observation.ThrottleState

	View() (coordinator.PoolStatus, error)
	ChannelView(id pool.ChannelID) (coordinator.StatusUpdate, error)
	Subscribe(ids ...pool.ChannelID) *coordinator.Subscription

	SubmitTransition(id pool.ChannelID, mode string, wait *bool) (*reconcile.Handle, error)
	CancelTransition(id pool.ChannelID) error
	Transition(requestID string) (*reconcile.Handle, error)
	Describe(h *reconcile.Handle) coordinator.TransitionView

	SetSetpoint(ctx context.Context, id pool.ChannelID, value float64) (pool.ActionReceipt, error)
	SetLightEffect(ctx context.Context, id pool.ChannelID, effect string) (pool.ActionReceipt, error)
	SyncLights(ctx context.Context, id pool.ChannelID) (pool.ActionReceipt, error)
	ActivateFavourite(ctx context.Context, number int) (pool.ActionReceipt, error)
	ExecuteAction(ctx context.Context, action pool.Action) (pool.ActionReceipt, error)
	ActionStatus(ctx context.Context, actionNumber int) (map[string]any, error)

	RefreshConfiguration(ctx context.Context) error
	RefreshStatus(ctx context.Context) (coordinator.PoolStatus, error)
}

// ConnectionStatus reports whether a client is connected.
// *mqtt.Client satisfies it.
type ConnectionStatus interface {
	IsConnected() bool
}

// DBStats exposes connection pool statistics.
// *database.DB satisfies it.
type DBStats interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Coordinator Coordinator
	Audit       audit.Repository // optional: /audit answers 503 without it
	Metrics     http.Handler     // optional: Prometheus exposition for /metrics
	MQTT        ConnectionStatus // optional: reported in system metrics
	DB          DBStats          // optional: reported in system metrics
	Version     string
}

// Server is the HTTP API server for the pool bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	coord     Coordinator
	auditRepo audit.Repository
	metrics   http.Handler
	mqtt      ConnectionStatus
	db        DBStats
	version   string
	startTime time.Time
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, coordinator)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}

	hub := NewHub(deps.WS, deps.Logger)
	hub.current = deps.Coordinator.ChannelView

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		coord:     deps.Coordinator,
		auditRepo: deps.Audit,
		metrics:   deps.Metrics,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       hub,
		tickets:   newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays coordinator status updates to it,
// and launches the HTTP listener in a background goroutine. The server
// can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the background goroutines
//
// Returns:
//   - error: If the listener cannot be created (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)
	go s.relayStatusUpdates(srvCtx)

	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, relay, ticket cleanup)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
