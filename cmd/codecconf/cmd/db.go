package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/codecconf/internal/database"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and change the results database schema",
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List schema migrations and whether they are applied",
	Args:  cobra.NoArgs,
	RunE:  runDBStatus,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runDBMigrate,
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the most recent schema migrations",
	Long: `Revert the most recent schema migrations, newest first.

Rolling back the first migration drops the runs and case_results tables and
every stored result with them.`,
	Args: cobra.NoArgs,
	RunE: runDBRollback,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbStatusCmd, dbMigrateCmd, dbRollbackCmd)

	dbRollbackCmd.Flags().Int("steps", 1, "number of migrations to revert")
}

// openSchema connects without migrating so the schema can be inspected as is.
func openSchema() (*database.DB, error) {
	return database.New(cfg.Database, logger, nil)
}

func runDBStatus(cmd *cobra.Command, _ []string) error {
	db, err := openSchema()
	if err != nil {
		return err
	}
	defer db.Close()

	statuses, statusErr := db.SchemaMigrator().Status(cmd.Context())
	if statuses == nil {
		return statusErr
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tDESCRIPTION")
	for _, s := range statuses {
		state, at := "pending", "-"
		if s.Applied() {
			state, at = "applied", s.AppliedAt.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Version, state, at, s.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return statusErr
}

func runDBMigrate(cmd *cobra.Command, _ []string) error {
	db, err := openSchema()
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.SchemaMigrator().Up(cmd.Context())
	if len(applied) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", strings.Join(applied, ", "))
	} else if err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
	}
	return err
}

func runDBRollback(cmd *cobra.Command, _ []string) error {
	steps, _ := cmd.Flags().GetInt("steps")

	db, err := openSchema()
	if err != nil {
		return err
	}
	defer db.Close()

	rolled, err := db.SchemaMigrator().Rollback(cmd.Context(), steps)
	if len(rolled) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", strings.Join(rolled, ", "))
	} else if err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
	}
	return err
}
