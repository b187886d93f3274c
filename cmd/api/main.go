package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/fastprodman/purchaseledger/internal/api"
	"github.com/fastprodman/purchaseledger/internal/config"
	"github.com/fastprodman/purchaseledger/internal/infra/grant"
	"github.com/fastprodman/purchaseledger/internal/infra/logging"
	"github.com/fastprodman/purchaseledger/internal/infra/pgutils"
	"github.com/fastprodman/purchaseledger/internal/repos/journal"
	badgerjournal "github.com/fastprodman/purchaseledger/internal/repos/journal/badger"
	memjournal "github.com/fastprodman/purchaseledger/internal/repos/journal/memory"
	pgjournal "github.com/fastprodman/purchaseledger/internal/repos/journal/postgres"
	waljournal "github.com/fastprodman/purchaseledger/internal/repos/journal/wal"
	"github.com/fastprodman/purchaseledger/internal/services/purchase"
	"github.com/fastprodman/purchaseledger/internal/services/ratelimit"
	"github.com/fastprodman/purchaseledger/internal/services/recovery"
	"github.com/fastprodman/purchaseledger/pkg/envconf"
	"github.com/fastprodman/purchaseledger/pkg/shutdownqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := new(apiConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON("purchase-api", cfg.LogLevel)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Infra ---
	jlog, err := openJournal(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	shutdownqueue.Add("journal", func(context.Context) error {
		return jlog.Close()
	})

	// --- Recovery, before anything can reach the ledger ---
	led, _, err := recovery.New(jlog, cfg.Currencies).Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover ledger: %w", err)
	}

	// --- Services ---
	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
	})

	var granter purchase.Granter = grant.Nop{}
	if cfg.Grant.URL != "" {
		granter = grant.NewWebhook(cfg.Grant.URL, cfg.Grant.Secret)
	}

	coord := purchase.New(limiter, led, granter, purchase.Config{
		LockTimeout:  cfg.Purchase.LockTimeout,
		GrantTimeout: cfg.Purchase.GrantTimeout,
		MaxInFlight:  cfg.Purchase.MaxInFlight,
	})

	// --- HTTP server ---
	srv := api.NewServer(cfg.Port, coord, led, cfg.Purchase.LockTimeout)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	})

	g.Go(func() error {
		sweep(gctx, limiter, cfg.RateLimit.SweepInterval)
		return nil
	})

	slog.Info("API started",
		"port", cfg.Port,
		"journal_backend", cfg.Journal.Backend,
		"currencies", cfg.Currencies.String(),
	)

	<-gctx.Done()

	// The server stops before the deferred queue closes the journal under it.
	slog.Info("Shut down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutdown srv: %w", err)
	}

	return g.Wait()
}

func openJournal(ctx context.Context, cfg *apiConfig) (journal.Log, error) {
	switch cfg.Journal.Backend {
	case config.BackendWAL:
		return waljournal.Open(cfg.Journal.Path)
	case config.BackendBadger:
		return badgerjournal.Open(cfg.Journal.Path)
	case config.BackendMemory:
		slog.Warn("journal is in memory, nothing survives a restart")
		return memjournal.New(), nil
	case config.BackendPostgres:
		db, err := pgutils.OpenDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}

		shutdownqueue.Add("postgres", func(context.Context) error {
			return db.Close()
		})

		return pgjournal.New(db), nil
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.Journal.Backend)
	}
}

// sweep drops idle rate-limit windows until ctx ends.
func sweep(ctx context.Context, limiter *ratelimit.Limiter, every time.Duration) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := limiter.Sweep()
			if n > 0 {
				slog.Debug("rate limit windows swept", "removed", n, "tracked", limiter.Tracked())
			}
		}
	}
}
