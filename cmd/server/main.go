/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the insurance back-office server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment, apply flag overrides
  2. Connect to MongoDB and Neo4j, ensure indexes and constraints
  3. Open the SQLite saga journal
  4. Build the coordinator and roll back sagas interrupted by a crash
  5. Start the journal retention sweep
  6. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (overrides HTTP_PORT)
  -journal  SQLite journal path (overrides SAGA_JOURNAL_PATH)
            Use ":memory:" to disable durability

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the journal and both store connections
  4. Exit

ENVIRONMENT:
  See config/config.go for every variable and its default.

SEE ALSO:
  - api/server.go: Router configuration
  - coordinator/recovery.go: Boot-time rollback
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/insurance-engine/api"
	"github.com/warp/insurance-engine/config"
	"github.com/warp/insurance-engine/coordinator"
	"github.com/warp/insurance-engine/metrics"
	"github.com/warp/insurance-engine/store/cypher"
	"github.com/warp/insurance-engine/store/mongodb"
	"github.com/warp/insurance-engine/store/sqlite"
)

const (
	connectTimeout  = 15 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.HTTPPort, "HTTP server port")
	journalPath := flag.String("journal", cfg.JournalPath, "SQLite saga journal path")
	flag.Parse()
	cfg.HTTPPort = *port
	cfg.JournalPath = *journalPath

	log := cfg.NewLogger(os.Stdout)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	// Document store
	docs, err := mongodb.Connect(ctx, cfg.Mongo.ConnectionURI(), cfg.Mongo.Database, log)
	if err != nil {
		return err
	}
	defer closeWithTimeout(log, "mongodb", docs.Close)
	if err := docs.EnsureIndexes(ctx); err != nil {
		return err
	}

	// Graph store
	graph, err := cypher.Connect(ctx, cfg.Neo4j.URI(), cfg.Neo4j.User, cfg.Neo4j.Password, cfg.Neo4j.Database, log)
	if err != nil {
		return err
	}
	defer closeWithTimeout(log, "neo4j", graph.Close)
	if err := graph.EnsureConstraints(ctx); err != nil {
		return err
	}

	// Saga journal
	journal, err := sqlite.New(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("failed to open saga journal: %w", err)
	}
	defer journal.Close()

	saga := metrics.NewSaga()
	registry, err := metrics.NewRegistry(saga)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	coord := coordinator.New(docs, graph,
		coordinator.WithJournal(journal),
		coordinator.WithMetrics(saga),
		coordinator.WithLogger(log),
		coordinator.WithIDAllocationAttempts(cfg.IDAllocationAttempts),
	)

	report, err := coord.Recover(context.Background())
	if err != nil {
		return fmt.Errorf("saga recovery failed: %w", err)
	}
	log.Info().
		Int("recovered", report.Recovered).
		Int("abandoned", report.Abandoned).
		Int("failed", report.Failed).
		Msg("saga journal replayed")

	pruner := coordinator.NewJournalPruner(journal, cfg.Retention, cfg.PruneInterval, log)
	pruner.Start()
	defer pruner.Stop()

	handler := api.NewHandler(coord, docs)
	handler.Agents = graph
	handler.Journal = journal
	handler.Gatherer = registry
	handler.Checks = map[string]api.Pinger{
		"mongodb": docs,
		"neo4j":   graph,
		"journal": journal,
	}
	handler.Log = log.With().Str("component", "api").Logger()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

func closeWithTimeout(log zerolog.Logger, name string, closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := closeFn(ctx); err != nil {
		log.Warn().Err(err).Str("store", name).Msg("close failed")
	}
}
