package config

import (
	"time"
)

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN" default:""`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" default:"0"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" default:"0"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" default:"0s"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" default:"0s"`
}

type JournalConfig struct {
	Backend Backend `env:"JOURNAL_BACKEND" default:"wal"`
	// Directory for the wal and badger backends.
	Path string `env:"JOURNAL_PATH" default:"data/journal"`
}

type RateLimitConfig struct {
	MaxRequests   int           `env:"RATE_LIMIT_MAX_REQUESTS" default:"5"`
	Window        time.Duration `env:"RATE_LIMIT_WINDOW" default:"10s"`
	SweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" default:"1m"`
}

type PurchaseConfig struct {
	LockTimeout  time.Duration `env:"LOCK_TIMEOUT" default:"500ms"`
	GrantTimeout time.Duration `env:"GRANT_TIMEOUT" default:"5s"`
	MaxInFlight  int64         `env:"MAX_IN_FLIGHT" default:"64"`
}

type GrantConfig struct {
	URL    string `env:"GRANT_URL" default:""`
	Secret string `env:"GRANT_SECRET" default:""`
}
