//go:build wireinject

//go:generate wire

package api

import (
	"database/sql"
	"testing"

	"github.com/google/wire"

	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/config"
	"github.com/clrfund/setup-mpc-ui/internal/metrics"
)

// INJECTORS - https://github.com/google/wire/blob/main/docs/guide.md#injectors

// serviceSet groups the default set of providers that are required for
// initing a server.
var serviceSet = wire.NewSet(
	newServerWithComponents,
	metrics.New,
	NewClock,
	NewJWTManager,
	storeSet,
	queueSet,
	NewParamsStore,
	NewWatchdogService,
	NewSchedulerService,
	NewJobsRunner,
)

var storeSet = wire.NewSet(
	NewPostgresStore,
	wire.Bind(new(ceremony.Store), new(*ceremony.PostgresStore)),
	wire.Bind(new(ceremony.EventLog), new(*ceremony.PostgresStore)),
)

var queueSet = wire.NewSet(
	NewRedisClient,
	NewRedisQueue,
)

// InitNewServer returns a new Server instance.
func InitNewServer(
	_ config.Server,
) (*Server, error) {
	wire.Build(serviceSet, NewDB, NoTest)
	return new(Server), nil
}

// InitNewServerWithDB returns a new Server instance with the given DB
// instance. All the other components are initialized via go wire according
// to the configuration.
func InitNewServerWithDB(
	_ config.Server,
	_ *sql.DB,
	t ...*testing.T,
) (*Server, error) {
	wire.Build(serviceSet)
	return new(Server), nil
}
