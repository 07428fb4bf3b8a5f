package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/calsched/calsched/internal/api"
	"github.com/calsched/calsched/internal/cleanup"
	"github.com/calsched/calsched/internal/config"
	"github.com/calsched/calsched/internal/engine"
	"github.com/calsched/calsched/internal/events"
	"github.com/calsched/calsched/internal/freebusy"
	"github.com/calsched/calsched/internal/logging"
	"github.com/calsched/calsched/internal/metrics"
	"github.com/calsched/calsched/internal/provider"
	"github.com/calsched/calsched/internal/store"
	"github.com/calsched/calsched/internal/token"
	"github.com/calsched/calsched/internal/tokenimport"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the CalSched server",
	Long: `Start the CalSched scheduling server in main mode.

This command starts the HTTP server that handles meeting-time
suggestions, bookings, event sync, and calendar integration management.

Example:
  calsched serve --config config.yaml --db ./data/calsched.db

The server will start listening on the address configured in the config file.`,
	RunE: runServe,
}

var serveFlags struct {
	Host       string
	Port       int
	Timeout    time.Duration
	TLS        bool
	TLSCert    string
	TLSKey     string
	TLSVersion string
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", envDuration("SHUTDOWN_TIMEOUT", 30*time.Second), "Shutdown timeout")
	serveCmd.Flags().BoolVar(&serveFlags.TLS, "tls", false, "Enable TLS/HTTPS")
	serveCmd.Flags().StringVar(&serveFlags.TLSCert, "cert", "", "TLS certificate file path")
	serveCmd.Flags().StringVar(&serveFlags.TLSKey, "key", "", "TLS key file path")
	serveCmd.Flags().StringVar(&serveFlags.TLSVersion, "tls-version", "1.3", "Minimum TLS version (1.2 or 1.3)")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if globalFlags.Verbose {
		log.Println("Starting CalSched server...")
		log.Printf("Config path: %s", globalFlags.Config)
		log.Printf("Database path: %s", globalFlags.DBPath)
	}

	// Load configuration
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Apply CLI flags to config
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if serveFlags.TLS {
		cfg.Server.TLS.Enabled = true
	}
	if serveFlags.TLSCert != "" {
		cfg.Server.TLS.CertFile = serveFlags.TLSCert
	}
	if serveFlags.TLSKey != "" {
		cfg.Server.TLS.KeyFile = serveFlags.TLSKey
	}
	if serveFlags.TLSVersion != "" {
		cfg.Server.TLS.MinVersion = serveFlags.TLSVersion
	}

	if cfg.Server.TLS.Enabled {
		if err := validateTLSConfig(cfg.Server.TLS); err != nil {
			return fmt.Errorf("TLS validation failed: %w", err)
		}
	}

	// Create SQLite store with WAL mode enabled
	sqliteStore, err := store.NewSQLiteStore(globalFlags.DBPath)
	if err != nil {
		return fmt.Errorf("failed to create SQLite store: %w", err)
	}

	if globalFlags.Verbose {
		log.Printf("Database initialized at: %s", globalFlags.DBPath)
	}

	googleProvider, err := provider.NewGoogleProvider(cfg.Google)
	if err != nil {
		sqliteStore.Close()
		return fmt.Errorf("failed to configure calendar provider: %w", err)
	}

	m := metrics.NewMetrics("calsched")
	logger := logging.NewLogger()

	tokenManager := token.NewManager(sqliteStore, googleProvider,
		token.WithConcurrency(cfg.Scheduler.RefreshConcurrency),
		token.WithMetrics(m),
		token.WithLogger(logger),
	)
	aggregator := freebusy.NewAggregator(sqliteStore, googleProvider,
		freebusy.WithConcurrency(cfg.Scheduler.RefreshConcurrency),
		freebusy.WithMetrics(m),
		freebusy.WithLogger(logger),
	)
	directory := &store.CredentialDirectory{Store: sqliteStore, Provider: googleProvider.ID()}
	materializer := events.NewMaterializer(sqliteStore, googleProvider, tokenManager, directory,
		events.WithMetrics(m),
		events.WithLogger(logger),
	)
	eng := engine.New(tokenManager, aggregator, materializer, cfg.Scheduler,
		engine.WithMetrics(m),
		engine.WithLogger(logger),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())

	// Token-file import keeps externally provisioned credentials in sync.
	if cfg.Import.Enabled {
		tokenDir := tokenimport.ResolveTokenDir(cfg.Import.TokenDir)
		if tokenDir != "" {
			importer := tokenimport.NewImporter(sqliteStore, tokenDir, cfg.Import.ScanInterval, logger)
			if err := importer.StartAutoSync(backgroundCtx); err != nil {
				log.Printf("Token import warning: %v", err)
			} else if globalFlags.Verbose {
				log.Printf("Token import enabled: %s", tokenDir)
			}
		}
	}

	cleanupMgr := cleanup.NewManager(sqliteStore, cfg.Cleanup, logger)
	if err := cleanupMgr.Start(backgroundCtx); err != nil {
		log.Printf("Cleanup warning: %v", err)
	}

	server := api.NewServer(cfg.Server, cfg.API, sqliteStore, eng, tokenManager, googleProvider, m, cfg.Scheduler.RequestTimeout)

	setupGracefulShutdown(server, cleanupMgr, backgroundCancel, serveFlags.Timeout)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	if cfg.Server.TLS.Enabled {
		log.Printf("Starting CalSched HTTPS server on %s", addr)
	} else {
		log.Printf("Starting CalSched HTTP server on %s", addr)
	}
	log.Printf("Database: %s (WAL mode enabled)", globalFlags.DBPath)

	if err := server.Run(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// validateTLSConfig validates TLS configuration
func validateTLSConfig(tls config.TLSConfig) error {
	if tls.CertFile == "" {
		return fmt.Errorf("TLS certificate file is required when TLS is enabled")
	}
	if tls.KeyFile == "" {
		return fmt.Errorf("TLS key file is required when TLS is enabled")
	}

	if _, err := os.Stat(tls.CertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file does not exist: %s", tls.CertFile)
	}
	if _, err := os.Stat(tls.KeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file does not exist: %s", tls.KeyFile)
	}

	if tls.MinVersion != "" && tls.MinVersion != "1.2" && tls.MinVersion != "1.3" {
		return fmt.Errorf("TLS min_version must be either \"1.2\" or \"1.3\", got: %s", tls.MinVersion)
	}

	return nil
}

// setupGracefulShutdown handles graceful shutdown of all components
func setupGracefulShutdown(server *api.Server, cleanupMgr *cleanup.Manager, backgroundCancel context.CancelFunc, timeout time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// Stop background loops first so nothing writes during shutdown.
		backgroundCancel()
		if cleanupMgr != nil {
			cleanupMgr.Stop()
		}

		log.Println("Shutting down API server...")
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Error during server shutdown: %v", err)
		}

		log.Println("Graceful shutdown completed")
		os.Exit(0)
	}()
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	return fallback
}
