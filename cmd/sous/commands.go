package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		fake       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the Sous HTTP server.

The server will:
1. Load configuration from the specified file (or sous.yaml)
2. Open the configured database and apply pending migrations
3. Serve POST /v1/chat (SSE), GET /v1/chat/ws (WebSocket) and the REST API
4. Serve /metrics and /healthz
5. Run the retention sweeper when retention.enabled is set

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  sous serve

  # Start without calling the model API
  sous serve --fake`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), fake)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVar(&fake, "fake", false, "Serve canned model replies (llm.fake_mode)")
	return cmd
}

// =============================================================================
// Chat Command
// =============================================================================

func buildChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Start an interactive chat session against the configured model.

Each line is sent as one user message. Type /new to start a new conversation
and /quit (or Ctrl-D) to exit. Ctrl-C cancels the reply in progress.`,
		Example: `  # Chat against seeded kitchen data with canned replies
  sous chat --fake --seed examples/seed.yaml

  # Continue a stored conversation
  sous chat --user alice --conversation 7f8d...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath = resolveConfigPath(opts.configPath)
			return runChat(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "local", "User ID to chat as")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "Conversation ID to continue")
	cmd.Flags().StringVar(&opts.seedFile, "seed", "", "Kitchen seed file (overrides kitchen.seed_file)")
	cmd.Flags().BoolVar(&opts.fake, "fake", false, "Use canned model replies (llm.fake_mode)")
	return cmd
}

// =============================================================================
// Usage Command
// =============================================================================

func buildUsageCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		month      string
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show a user's monthly usage counters",
		Example: `  sous usage --user alice
  sous usage --user alice --month 2026-01 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(cmd, resolveConfigPath(configPath), userID, month, jsonOut)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID (required)")
	cmd.Flags().StringVar(&month, "month", "", "Month as YYYY-MM (default: current month, UTC)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// =============================================================================
// Migration Commands
// =============================================================================

func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long: `Manage database migrations for the postgres and sqlite drivers.

The memory driver has no schema; these commands fail for it.`,
	}

	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateDownCmd(), buildMigrateStatusCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var (
		configPath string
		steps      int
	)
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd, resolveConfigPath(configPath), steps)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply (0 = all)")
	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var (
		configPath string
		steps      int
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateDown(cmd, resolveConfigPath(configPath), steps)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}

	var configPath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(configPath))
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")

	cmd.AddCommand(schemaCmd, validateCmd)
	return cmd
}

// =============================================================================
// Version Command
// =============================================================================

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			cmd.Printf("sous %s\n", version)
			_, _ = out.Write([]byte("commit: " + commit + "\nbuilt:  " + date + "\n"))
		},
	}
}
