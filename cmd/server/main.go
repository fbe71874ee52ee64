/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the settlement server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Set up logging
  3. Initialize SQLite store
  4. Build metrics, the settlement engine and the API handler
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: ./splitledger.yaml if present)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database

ENVIRONMENT:
  SPLITLEDGER_* variables override the config file, e.g.
  SPLITLEDGER_SERVER_PORT, SPLITLEDGER_DATABASE_PATH,
  SPLITLEDGER_LOG_LEVEL, SPLITLEDGER_SETTLEMENT_CURRENCY.
  See internal/config.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port with a config file
  ./server -config=/etc/splitledger.yaml -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - internal/config/config.go: Configuration keys and defaults
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/splitledger/api"
	"github.com/warp/splitledger/internal/config"
	"github.com/warp/splitledger/internal/logging"
	"github.com/warp/splitledger/internal/metrics"
	"github.com/warp/splitledger/settlement"
	"github.com/warp/splitledger/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := logging.Setup(cfg.Log.Level)

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	presenter, err := api.NewPresenter(cfg.Settlement.Currency)
	if err != nil {
		return err
	}

	m := metrics.New()
	engine := settlement.NewEngine(store,
		settlement.WithLogger(logger),
		settlement.WithObserver(m),
		settlement.WithDuplicateWindow(cfg.Settlement.DuplicateWindow),
		settlement.WithTolerance(cfg.Settlement.ToleranceValue()),
		settlement.WithEpsilon(cfg.Settlement.EpsilonValue()),
	)

	handler := api.NewHandler(store, engine, presenter, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        m,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"address", server.Addr,
			"url", fmt.Sprintf("http://localhost:%d/api", cfg.Server.Port),
			"database", cfg.Database.Path,
			"currency", presenter.Currency(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
