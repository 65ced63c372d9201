/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Configure structured logging
  3. Initialize SQLite store
  4. Create API handler with dependencies
  5. Start recurring-expense scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port                HTTP server port (default: 8080)
  -db                  SQLite database path (default: ledger.db)
                       Use ":memory:" for an in-memory database
  -scheduler-interval  Recurring template check interval (default: 1h)
  -scheduler=false     Disable the recurring scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run with in-memory database, no scheduler
  ./server -db=":memory:" -scheduler=false

ENVIRONMENT:
  LOG_LEVEL: debug, info, warn, error (default: info)

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/splitbook/ledger-engine/api"
	"github.com/splitbook/ledger-engine/pkg/logging"
	"github.com/splitbook/ledger-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "ledger.db", "SQLite database path")
	schedulerInterval := flag.Duration("scheduler-interval", time.Hour, "recurring template check interval")
	schedulerEnabled := flag.Bool("scheduler", true, "enable the recurring-expense scheduler")
	flag.Parse()

	// Logging
	logging.Setup()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		slog.Error("failed to initialize database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize handler (one sqlite store implements all three interfaces)
	handler := api.NewHandler(store, store, store)

	// Recurring-expense scheduler
	scheduler := api.NewRecurringScheduler(store, store, handler.Updater)
	scheduler.CheckInterval = *schedulerInterval
	scheduler.Enabled = *schedulerEnabled
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "addr", fmt.Sprintf("http://localhost:%d", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
