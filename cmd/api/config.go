package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/purchaseledger/internal/config"
)

type apiConfig struct {
	Port            uint16            `env:"HTTP_PORT" default:"8080"`
	LogLevel        slog.Level        `env:"APP_LOG_LEVEL" default:"INFO"`
	ShutdownTimeout time.Duration     `env:"SHUTDOWN_TIMEOUT" default:"10s"`
	Currencies      config.Currencies `env:"CURRENCIES" default:"Askal_Money:0,Askal_Coin:1000"`

	Journal   config.JournalConfig
	Postgres  config.PostgresConfig
	RateLimit config.RateLimitConfig
	Purchase  config.PurchaseConfig
	Grant     config.GrantConfig
}
