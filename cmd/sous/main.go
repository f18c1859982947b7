// Package main provides the CLI entry point for Sous, a conversational kitchen
// assistant that answers questions about a user's pantry, recipes and meal
// plans by calling tools against their data.
//
// # Basic Usage
//
// Start the HTTP server:
//
//	sous serve --config sous.yaml
//
// Chat from the terminal without calling the model API:
//
//	sous chat --fake --seed examples/seed.yaml
//
// Apply database migrations:
//
//	sous migrate up
//
// # Environment Variables
//
//   - SOUS_CONFIG: Path to configuration file (default: sous.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key, used when no config file exists
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "sous.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sous",
		Short: "Sous - conversational kitchen assistant",
		Long: `Sous answers cooking questions using the user's own pantry, saved recipes,
meal plans and dietary profile. It streams replies over HTTP (SSE) and
WebSocket, and can be driven from the terminal with "sous chat".`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildUsageCmd(),
		buildMigrateCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath applies SOUS_CONFIG when the flag was left at its default.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) == "" || path == defaultConfigPath {
		if env := strings.TrimSpace(os.Getenv("SOUS_CONFIG")); env != "" {
			return env
		}
		return defaultConfigPath
	}
	return path
}
