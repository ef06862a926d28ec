package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/dropbox/godropbox/time2"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/clrfund/setup-mpc-ui/internal/auth"
	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/config"
	"github.com/clrfund/setup-mpc-ui/internal/jobs"
	"github.com/clrfund/setup-mpc-ui/internal/metrics"
	"github.com/clrfund/setup-mpc-ui/internal/queue"
	"github.com/clrfund/setup-mpc-ui/internal/scheduler"
	"github.com/clrfund/setup-mpc-ui/internal/transfer"
	"github.com/clrfund/setup-mpc-ui/internal/watchdog"
)

type Router struct {
	Routes    []*echo.Route
	Root      *echo.Group
	APIV1     *echo.Group
	APIV1Auth *echo.Group
}

// Server is a central struct keeping all the dependencies.
// It is initialized with wire, which handles making the new instances of the
// components in the right order. To add a new component, 3 steps are
// required:
// - declaring it in this struct
// - adding a provider function in providers.go
// - adding the provider's function name to the arguments of wire.Build() in wire.go
//
// Components labeled as `wire:"-"` will be skipped and have to be
// initialized after the InitNewServer* call.
type Server struct {
	// skip wire:
	// -> initialized with router.Init(s) function
	Echo   *echo.Echo `wire:"-"`
	Router *Router    `wire:"-"`

	Config  config.Server
	DB      *sql.DB
	Clock   time2.Clock
	Metrics *metrics.Service
	JWT     *auth.JWTManager

	Store    ceremony.Store
	EventLog ceremony.EventLog
	Queue    *queue.RedisQueue
	Params   transfer.ParamsStore

	Watchdog  *watchdog.Service
	Scheduler *scheduler.Service
	Jobs      *jobs.Runner
}

// newServerWithComponents is used by wire to initialize the server
// components. Components not listed here won't be handled by wire and should
// be initialized separately.
func newServerWithComponents(
	cfg config.Server,
	db *sql.DB,
	clock time2.Clock,
	m *metrics.Service,
	jwtManager *auth.JWTManager,
	store ceremony.Store,
	eventLog ceremony.EventLog,
	redisQueue *queue.RedisQueue,
	params transfer.ParamsStore,
	watchdogService *watchdog.Service,
	schedulerService *scheduler.Service,
	runner *jobs.Runner,
) *Server {
	return &Server{
		Config:    cfg,
		DB:        db,
		Clock:     clock,
		Metrics:   m,
		JWT:       jwtManager,
		Store:     store,
		EventLog:  eventLog,
		Queue:     redisQueue,
		Params:    params,
		Watchdog:  watchdogService,
		Scheduler: schedulerService,
		Jobs:      runner,
	}
}

func (s *Server) Ready() bool {
	return s.Echo != nil &&
		s.DB != nil &&
		s.Store != nil &&
		s.Queue != nil
}

// Start begins the background jobs and serves HTTP until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if !s.Ready() {
		return errors.New("server is not fully initialized")
	}

	s.Jobs.Start(ctx)

	err := s.Echo.Start(s.Config.Echo.ListenAddress)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Warn().Msg("Shutting down server")

	if s.Echo != nil {
		if err := s.Echo.Shutdown(ctx); err != nil {
			return err
		}
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database connection")
		}
	}
	return nil
}
