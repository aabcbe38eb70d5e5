package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/doorbell-identify/internal/config"
	"github.com/kozaktomas/doorbell-identify/internal/database"
	"github.com/kozaktomas/doorbell-identify/internal/database/postgres"
	"github.com/kozaktomas/doorbell-identify/internal/facerec"
	"github.com/kozaktomas/doorbell-identify/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the identification server",
	Long: `Start the Doorbell Identify HTTP server.
The server exposes the identification endpoint used by doorbell clients
and, when a database is configured, an audit log of past identifications.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// initAuditBackend connects to PostgreSQL and registers the audit repository.
// The audit log is optional; without DATABASE_URL the server runs without it.
func initAuditBackend(cfg *config.Config) error {
	if cfg.Database.URL == "" {
		fmt.Println("DATABASE_URL not set, audit log disabled")
		return nil
	}

	fmt.Println("Connecting to PostgreSQL database...")
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	repo := postgres.NewAuditRepository(postgres.GetGlobalPool())
	database.RegisterPostgresBackend(
		func() database.AuditWriter { return repo },
		func() database.AuditReader { return repo },
	)
	fmt.Println("Audit log enabled (PostgreSQL)")

	fmt.Println("Building in-memory HNSW index for similarity search...")
	if err := repo.EnableHNSW(context.Background()); err != nil {
		fmt.Printf("Warning: failed to build HNSW index: %v\n", err)
		fmt.Println("Similarity search will use PostgreSQL queries (slower)")
	} else {
		fmt.Printf("HNSW index built with %d events\n", repo.HNSWCount())
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := initAuditBackend(cfg); err != nil {
		return err
	}

	provider := facerec.NewClient(cfg.Face.URL, cfg.Face.Model)
	server := web.NewServer(cfg, provider)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}

		if pool := postgres.GetGlobalPool(); pool != nil {
			if err := pool.Close(); err != nil {
				fmt.Printf("Error closing database: %v\n", err)
			}
		}
	}()

	fmt.Printf("Starting Doorbell Identify on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
