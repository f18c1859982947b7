package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/sous/internal/config"
	"github.com/haasonsaas/sous/internal/storage"
	"github.com/haasonsaas/sous/internal/usage"
)

// =============================================================================
// Usage Command Handler
// =============================================================================

// runUsage prints one user's counters for a month. The memory driver keeps
// counters inside the server process, so only SQL drivers are supported.
func runUsage(cmd *cobra.Command, configPath, userID, month string, jsonOut bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	if month == "" {
		month = usage.MonthKey(time.Now())
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		return fmt.Errorf("invalid --month %q: expected YYYY-MM", month)
	}

	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	snap, err := usage.NewSQLRecorder(db).Snapshot(cmd.Context(), userID, month)
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			usage.Snapshot
			CostUSD string `json:"costUsd"`
		}{snap, usage.FormatUSD(float64(snap.Get(usage.CounterCostMicroUSD)) / 1e6)})
	}
	fmt.Fprintf(out, "%s  %s\n", userID, usage.FormatSnapshot(snap))
	return nil
}

// =============================================================================
// Migration Command Handlers
// =============================================================================

func openMigrator(configPath string) (*storage.DB, *storage.Migrator, error) {
	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	migrator, err := storage.NewMigrator(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return db, migrator, nil
}

// runMigrateUp handles the migrate up command.
func runMigrateUp(cmd *cobra.Command, configPath string, steps int) error {
	slog.Info("running database migrations", "config", configPath, "steps", steps)

	db, migrator, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", id)
	}
	return nil
}

// runMigrateDown handles the migrate down command.
func runMigrateDown(cmd *cobra.Command, configPath string, steps int) error {
	slog.Warn("rolling back migrations", "config", configPath, "steps", steps)

	db, migrator, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rolled, err := migrator.Down(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(rolled) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back.")
		return nil
	}
	for _, id := range rolled {
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s\n", id)
	}
	return nil
}

// runMigrateStatus handles the migrate status command.
func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	db, migrator, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Migration Status")
	fmt.Fprintln(out, "================")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Applied migrations:")
	if len(applied) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, entry := range applied {
		fmt.Fprintf(out, "  - %s (%s)\n", entry.ID, entry.AppliedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Pending migrations:")
	if len(pending) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, entry := range pending {
		fmt.Fprintf(out, "  - %s\n", entry.ID)
	}
	return nil
}

// =============================================================================
// Config Command Handlers
// =============================================================================

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (database: %s, model: %s)\n",
		configPath, cfg.Database.Driver, cfg.LLM.Model)
	return nil
}
