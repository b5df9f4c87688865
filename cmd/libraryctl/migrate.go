package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.db.RunMigrations()
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the given number of migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			return a.db.MigrateDown(steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	gotoCmd := &cobra.Command{
		Use:   "goto VERSION",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			return a.db.MigrateToVersion(version)
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the migration version without running migrations (clears dirty state)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseVersion(args[0])
			if err != nil {
				return err
			}
			a.logger.Warn("forcing migration version", zap.Uint("version", version))
			return a.db.ForceMigrationVersion(version)
		},
	}

	cmd.AddCommand(up, down, gotoCmd, force)
	return cmd
}

func parseVersion(raw string) (uint, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", raw, err)
	}
	return uint(v), nil
}
