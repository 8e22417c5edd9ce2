package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audex/internal/database"
	"github.com/jmylchreest/audex/internal/database/migrations"
)

var (
	dbDSN  string
	dbJSON bool
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and maintain the job database schema",
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List schema migrations and whether each is applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, db *database.DB) error {
			statuses, err := db.MigrationStatus(ctx)
			if err != nil {
				return err
			}
			return printMigrations(cmd.OutOrStdout(), db.Driver(), statuses)
		})
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, db *database.DB) error {
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		})
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the most recent schema migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, db *database.DB) error {
			version, err := db.Rollback(ctx)
			if err != nil {
				return err
			}
			if version == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations to roll back")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", version)
			return nil
		})
	},
}

func init() {
	dbCmd.PersistentFlags().StringVar(&dbDSN, "database", "", "Database DSN, overriding the configured one")
	dbStatusCmd.Flags().BoolVar(&dbJSON, "json", false, "output the status as JSON")

	dbCmd.AddCommand(dbStatusCmd, dbMigrateCmd, dbRollbackCmd)
	rootCmd.AddCommand(dbCmd)
}

func withDatabase(ctx context.Context, fn func(context.Context, *database.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dbDSN != "" {
		cfg.Database.DSN = dbDSN
	}
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := database.New(cfg.Database, slog.Default(), nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()
	return fn(ctx, db)
}

func printMigrations(w io.Writer, driver string, statuses []migrations.Status) error {
	if dbJSON {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding status: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "Driver: %s\n", driver)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tAPPLIED\tDESCRIPTION")
	for _, s := range statuses {
		applied := "pending"
		if s.AppliedAt != nil {
			applied = s.AppliedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Version, applied, s.Description)
	}
	return tw.Flush()
}
