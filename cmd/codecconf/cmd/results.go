package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/codecconf/internal/config"
	"github.com/jmylchreest/codecconf/internal/database"
	"github.com/jmylchreest/codecconf/internal/models"
	"github.com/jmylchreest/codecconf/internal/repository"
	"github.com/jmylchreest/codecconf/internal/suite"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect and manage stored suite runs",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runResultsList,
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the YAML report of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsShow,
}

var resultsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsDelete,
}

var resultsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runResultsPrune,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsListCmd, resultsShowCmd, resultsDeleteCmd, resultsPruneCmd)

	resultsListCmd.Flags().String("status", "", "only runs with this status (running, passed, failed, errored)")
	resultsListCmd.Flags().Int("limit", repository.DefaultListLimit, "maximum runs listed")
	resultsPruneCmd.Flags().String("older-than", "", "override the configured retention (e.g. 2w, 36h)")
}

// openStore opens the configured database. The caller closes it.
func openStore(cmd *cobra.Command) (*database.DB, repository.RunRepository, error) {
	db, err := database.Open(cmd.Context(), cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	return db, repository.NewRunRepository(db.DB), nil
}

func runResultsList(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	db, repo, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := repo.List(cmd.Context(), repository.RunFilter{Status: models.RunStatus(status), Limit: limit})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tTRIGGER\tSTATUS\tPASSED\tFAILED\tSKIPPED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, humanize.Time(r.StartedAt), r.Trigger, r.Status, r.Passed, r.Failed, r.Skipped)
	}
	return w.Flush()
}

func runResultsShow(cmd *cobra.Command, args []string) error {
	id, err := models.ParseULID(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}

	db, repo, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := repo.GetByID(cmd.Context(), id)
	if err != nil {
		return err
	}
	return suite.WriteReport(cmd.OutOrStdout(), run)
}

func runResultsDelete(cmd *cobra.Command, args []string) error {
	id, err := models.ParseULID(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}

	db, repo, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repo.Delete(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted run %s\n", id)
	return nil
}

func runResultsPrune(cmd *cobra.Command, _ []string) error {
	retention := cfg.Results.Retention.Duration()
	if olderThan, _ := cmd.Flags().GetString("older-than"); olderThan != "" {
		d, err := config.ParseDuration(olderThan)
		if err != nil {
			return err
		}
		retention = d.Duration()
	}
	if retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", retention)
	}

	db, repo, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	cutoff := time.Now().Add(-retention)
	n, err := repo.DeleteBefore(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs started before %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}
