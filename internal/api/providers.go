package api

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/clrfund/setup-mpc-ui/internal/auth"
	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/config"
	"github.com/clrfund/setup-mpc-ui/internal/jobs"
	"github.com/clrfund/setup-mpc-ui/internal/metrics"
	"github.com/clrfund/setup-mpc-ui/internal/persistence"
	"github.com/clrfund/setup-mpc-ui/internal/queue"
	"github.com/clrfund/setup-mpc-ui/internal/scheduler"
	"github.com/clrfund/setup-mpc-ui/internal/transfer"
	"github.com/clrfund/setup-mpc-ui/internal/watchdog"
)

// PROVIDERS - define here only providers that for various reasons (e.g.
// cyclic dependency) can't live in their corresponding packages, or that
// wrap constructors which only accept sub-configs.

func NewClock(t ...*testing.T) time2.Clock {
	var clock time2.Clock

	useMock := len(t) > 0 && t[0] != nil

	if useMock {
		clock = time2.NewMockClock(time.Now())
	} else {
		clock = time2.DefaultClock
	}

	return clock
}

func NoTest() []*testing.T {
	return nil
}

func NewDB(cfg config.Server) (*sql.DB, error) {
	return persistence.NewDB(cfg.Database)
}

func NewRedisClient(cfg config.Server) (*redis.Client, error) {
	if cfg.Redis.Endpoint == "" {
		return nil, errors.New("redis endpoint is not configured")
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Endpoint,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to ping redis")
	}

	return client, nil
}

func NewRedisQueue(client *redis.Client) *queue.RedisQueue {
	return queue.NewRedisQueue(client)
}

func NewPostgresStore(db *sql.DB) *ceremony.PostgresStore {
	return ceremony.NewPostgresStore(db)
}

func NewParamsStore(cfg config.Server) (transfer.ParamsStore, error) {
	return transfer.NewFileStore(cfg.Ceremony.ParamsPath)
}

func NewJWTManager(cfg config.Server) *auth.JWTManager {
	return auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenDuration)
}

func NewWatchdogService(
	store ceremony.Store,
	events ceremony.EventLog,
	redisQueue *queue.RedisQueue,
	clock time2.Clock,
	m *metrics.Service,
	cfg config.Server,
) *watchdog.Service {
	return watchdog.NewService(store, events, redisQueue, clock, m, cfg.Ceremony.StaleAfter)
}

func NewSchedulerService(
	store ceremony.Store,
	events ceremony.EventLog,
	clock time2.Clock,
	m *metrics.Service,
) *scheduler.Service {
	return scheduler.NewService(store, events, clock, m)
}

func NewJobsRunner(
	cfg config.Server,
	redisQueue *queue.RedisQueue,
	watchdogService *watchdog.Service,
	schedulerService *scheduler.Service,
) *jobs.Runner {
	return jobs.NewRunner(redisQueue,
		jobs.Job{
			Name:     "watchdog",
			Interval: cfg.Ceremony.WatchdogInterval,
			Run:      watchdogService.Sweep,
		},
		jobs.Job{
			Name:     "scheduler",
			Interval: cfg.Ceremony.SchedulerInterval,
			Run:      schedulerService.Sweep,
		},
	)
}
