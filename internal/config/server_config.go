package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Database holds the PostgreSQL connection settings.
type Database struct {
	Host     string
	Port     int
	Username string
	Password string `json:"-"` // sensitive
	Database string
	SSLMode  string
}

// Redis holds the queue cache / pubsub settings.
type Redis struct {
	Endpoint string
}

// Ceremony holds the coordination protocol settings.
type Ceremony struct {
	ParamsPath        string
	WatchdogInterval  time.Duration
	StaleAfter        time.Duration
	SchedulerInterval time.Duration
}

// Echo holds the HTTP server settings.
type Echo struct {
	ListenAddress string
}

// Auth holds the participant token settings.
type Auth struct {
	JWTSecret     string `json:"-"` // sensitive
	JWTIssuer     string
	TokenDuration time.Duration
}

// Logger holds the zerolog settings.
type Logger struct {
	Level              zerolog.Level
	PrettyPrintConsole bool
}

// Server is the root config, populated from the environment.
type Server struct {
	Database Database
	Redis    Redis
	Ceremony Ceremony
	Echo     Echo
	Auth     Auth
	Logger   Logger
}

// DefaultServiceConfigFromEnv returns the server config with all values
// taken from the environment, falling back to development defaults.
func DefaultServiceConfigFromEnv() Server {
	return Server{
		Database: Database{
			Host:     getEnv("PGHOST", "postgres"),
			Port:     getEnvAsInt("PGPORT", 5432),
			Username: getEnv("PGUSER", "dbuser"),
			Password: getEnv("PGPASSWORD", ""),
			Database: getEnv("PGDATABASE", "ceremony"),
			SSLMode:  getEnv("PGSSLMODE", "disable"),
		},
		Redis: Redis{
			Endpoint: getEnv("REDIS_ENDPOINT", "redis:6379"),
		},
		Ceremony: Ceremony{
			ParamsPath:        getEnv("CEREMONY_PARAMS_PATH", "/var/lib/ceremony/params"),
			WatchdogInterval:  getEnvAsDuration("CEREMONY_WATCHDOG_INTERVAL", 10*time.Minute),
			StaleAfter:        getEnvAsDuration("CEREMONY_STALE_AFTER", 300*time.Second),
			SchedulerInterval: getEnvAsDuration("CEREMONY_SCHEDULER_INTERVAL", 30*time.Minute),
		},
		Echo: Echo{
			ListenAddress: getEnv("SERVER_ECHO_LISTEN_ADDRESS", ":8080"),
		},
		Auth: Auth{
			JWTSecret:     getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer:     getEnv("AUTH_JWT_ISSUER", "setup-mpc"),
			TokenDuration: getEnvAsDuration("AUTH_TOKEN_DURATION", 24*time.Hour),
		},
		Logger: Logger{
			Level:              getEnvAsLevel("LOGGER_LEVEL", zerolog.InfoLevel),
			PrettyPrintConsole: getEnvAsBool("LOGGER_PRETTY_PRINT_CONSOLE", false),
		},
	}
}

// ConnectionString assembles the lib/pq connection string.
func (d Database) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.Username +
		" password=" + d.Password +
		" dbname=" + d.Database +
		" sslmode=" + d.SSLMode
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsLevel(key string, fallback zerolog.Level) zerolog.Level {
	v, err := zerolog.ParseLevel(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}
