package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/halwright/gatesync/internal/gate"
	"github.com/halwright/gatesync/internal/infrastructure/config"
	"github.com/halwright/gatesync/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DoorService is the subset of the gate service the API reads and commands
// doors through.
type DoorService interface {
	ListDevices(ctx context.Context) ([]gate.Device, error)
	FindDevice(ctx context.Context, gatewayID, doorID string) (gate.Device, error)
	GetState(ctx context.Context, device gate.Device) (*gate.DeviceState, error)
	SetState(ctx context.Context, device gate.Device, desired gate.DesiredStatus) (bool, error)
}

// Watcher registers door-state callbacks, typically the poller. The server
// attaches one subscription per door while at least one WebSocket client
// watches it.
type Watcher interface {
	Subscribe(device gate.Device, callback func(gate.Device, *gate.DeviceState)) string
	Unsubscribe(token string)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Doors   DoorService
	Watcher Watcher                     // optional: WebSocket push disabled when nil
	History gate.StateHistoryRepository // optional: history endpoint returns 503 when nil

	// BatteryLowThreshold feeds the battery_low convenience field on state
	// responses and pushed events.
	BatteryLowThreshold int
	Version             string
}

// Server is the HTTP API server for gatesync.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg              config.APIConfig
	wsCfg            config.WebSocketConfig
	logger           *logging.Logger
	doors            DoorService
	watcher          Watcher
	history          gate.StateHistoryRepository
	batteryThreshold int
	version          string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc // cancels background goroutines on Close()

	// baseCtx is the server's lifecycle context, used by hub channel hooks
	// that run outside any request scope.
	baseCtx context.Context

	// watchTokens maps door channels to their poller subscription tokens.
	watchMu     sync.Mutex
	watchTokens map[string]string
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, door service)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Doors == nil {
		return nil, fmt.Errorf("door service is required")
	}
	// Watcher and History are optional; the routes that need them degrade.

	return &Server{
		cfg:              deps.Config,
		wsCfg:            deps.WS,
		logger:           deps.Logger,
		doors:            deps.Doors,
		watcher:          deps.Watcher,
		history:          deps.History,
		batteryThreshold: deps.BatteryLowThreshold,
		version:          deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server can be stopped with
// Close().
//
// Parameters:
//   - ctx: Context for background goroutine cancellation
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.baseCtx = srvCtx

	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.SetChannelHooks(s.watchDoor, s.unwatchDoor)
	go s.hub.Run(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
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

	// Cancel background goroutines (hub)
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

// HealthCheck verifies the API server is running and responsive.
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
