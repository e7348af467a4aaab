// Package main is the standalone entry point of the kidney exchange MCP
// server. It needs no external services: results are cached in memory and
// runs are stored in SQLite under the data directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kidney-exchange-mcp-server/internal/config"
	"github.com/kidney-exchange-mcp-server/internal/mcp"
	"github.com/kidney-exchange-mcp-server/internal/setup"
)

func main() {
	cfg := config.LoadLiteConfig()

	root := &cobra.Command{
		Use:           "mcp-server-lite",
		Short:         "Kidney paired exchange MCP server (stdio, no external services)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	root.AddCommand(setup.NewCommand("lite", cfg.DataDir))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.LiteConfig) error {
	server, err := mcp.NewLiteServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer server.Close()

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
