package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kidney-exchange-mcp-server/internal/config"
	"github.com/kidney-exchange-mcp-server/internal/database"
	"github.com/kidney-exchange-mcp-server/internal/mcp"
	"github.com/kidney-exchange-mcp-server/internal/setup"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:           "mcp-server",
		Short:         "Kidney paired exchange MCP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (default: ./config.yaml, ./config, /etc/kidney-exchange)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back PostgreSQL migrations",
	}
	migrateCmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: runMigrate(true)},
		&cobra.Command{Use: "down", Short: "Roll back the latest migration", Args: cobra.NoArgs, RunE: runMigrate(false)},
	)

	homeDir, _ := os.UserHomeDir()
	root.AddCommand(migrateCmd, setup.NewCommand("full", filepath.Join(homeDir, ".kidney-exchange")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Manager, error) {
	if configFile != "" {
		return config.NewManagerFromFile(configFile)
	}
	return config.NewManager()
}

func runServer(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	manager, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	server, err := mcp.NewServer(ctx, manager)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer server.Close()

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func runMigrate(up bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		manager, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg := manager.GetConfig()

		logger := logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
			logger.SetLevel(level)
		}

		runner, err := database.NewMigrationRunner(manager.GetDatabaseConnectionString(), cfg.Database.MigrationsPath, logger)
		if err != nil {
			return err
		}
		defer runner.Close()

		if up {
			return runner.Up(cmd.Context())
		}
		return runner.Down(cmd.Context())
	}
}
