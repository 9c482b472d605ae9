package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	HttpListenAddress string        `env:"HTTP_LISTEN_ADDRESS,default=0.0.0.0:8080"`
	StoreDriver       string        `env:"STORE_DRIVER,default=sqlite"`
	SQLiteDirPath     string        `env:"SQLITE_DIR_PATH,default=data"`
	PgDatabaseUrl     string        `env:"DATABASE_URL"`
	DBMaxConns        int           `env:"DB_MAX_CONNS,default=10"`
	DBAcquireTimeout  time.Duration `env:"DB_ACQUIRE_TIMEOUT,default=5s"`
	RedisUrl          string        `env:"REDIS_URL"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
	LogEnvironment    string        `env:"LOG_ENV,default=development"`
	WSSendBuffer      int           `env:"WS_SEND_BUFFER,default=16"`
	WSWriteTimeout    time.Duration `env:"WS_WRITE_TIMEOUT,default=5s"`
	WSIdleTimeout     time.Duration `env:"WS_IDLE_TIMEOUT,default=5m"`
}

// NewConfig reads the process environment, after loading a .env file from
// the working directory when one exists.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.PgDatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %v", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %v", c.DBMaxConns)
	}
	if c.DBAcquireTimeout <= 0 {
		return fmt.Errorf("DB_ACQUIRE_TIMEOUT must be positive, got %v", c.DBAcquireTimeout)
	}
	if c.WSSendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive, got %v", c.WSSendBuffer)
	}
	return nil
}
