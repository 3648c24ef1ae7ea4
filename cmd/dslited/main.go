// Command dslited runs the datastore development server: a SQLite-backed
// entity store exposed over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dslite-io/dslite/internal/api"
	"github.com/dslite-io/dslite/internal/cacheds"
	"github.com/dslite-io/dslite/internal/config"
	"github.com/dslite-io/dslite/internal/log"
	"github.com/dslite-io/dslite/internal/sqlite"
	"github.com/dslite-io/dslite/internal/sqliteds"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

const (
	shutdownTimeout = 10 * time.Second

	// Abandoned transaction handles are rolled back after this long so a
	// stuck client cannot pin the in-memory database's only connection.
	txIdleTimeout = time.Minute
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	verifyMode := flag.String("verify", "", `check database integrity ("quick" or "full") and exit`)
	flag.Parse()

	if *showVersion {
		fmt.Printf("dslited %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Configure(log.Config{Service: "dslite"})
		logger := log.WithComponent("daemon")
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *verifyMode != "" {
		os.Exit(runVerify(cfg.DBPath, *verifyMode))
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "dslite"})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.DBPath, sqlite.DefaultConfig())
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldPath, cfg.DBPath).Msg("failed to open database")
	}
	defer func() { _ = db.Close() }()

	store := sqliteds.New(db)
	defer func() { _ = store.Close() }()
	store.SetTxIdleTimeout(txIdleTimeout)

	var data api.ListStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis_addr", cfg.RedisAddr).Msg("failed to reach redis")
		}
		data = cacheds.NewList(store, rdb, cfg.CacheTTL)
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("entity cache enabled")
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(store, data, db, cfg.RateLimit).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str(log.FieldListen, cfg.Listen).
			Str(log.FieldPath, cfg.DBPath).
			Str("version", version).
			Msg("datastore server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("shutdown complete")
}

// runVerify checks the configured database file for corruption. Exit codes:
// 0 healthy, 1 corruption found, 2 usage or system error.
func runVerify(path, mode string) int {
	if mode != "quick" && mode != "full" {
		fmt.Fprintf(os.Stderr, "invalid verify mode %q (want \"quick\" or \"full\")\n", mode)
		return 2
	}
	if path == "" || path == sqlite.MemoryPath {
		fmt.Fprintln(os.Stderr, "verify requires a file-backed database")
		return 2
	}

	findings, err := sqlite.VerifyIntegrity(path, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verification failed: %v\n", err)
		return 2
	}
	if len(findings) > 0 {
		fmt.Fprintf(os.Stderr, "database %s is corrupt:\n", path)
		for _, f := range findings {
			fmt.Fprintf(os.Stderr, "  %s\n", f)
		}
		return 1
	}
	fmt.Printf("database %s is healthy (%s check)\n", path, mode)
	return 0
}
