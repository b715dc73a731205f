package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/codecconf/internal/database"
	"github.com/jmylchreest/codecconf/internal/models"
	"github.com/jmylchreest/codecconf/internal/repository"
	"github.com/jmylchreest/codecconf/internal/suite"
)

// errRunFailed makes the process exit non-zero after a report was printed.
var errRunFailed = errors.New("suite run failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the conformance suite",
	Long: `Run the conformance cases over every registered software device, the
built-in synthetic streams and the MPEG-TS vectors found under the vectors
directory.

The YAML report is printed to stdout, written to --report when set, and the
run is stored in the database unless --no-store is given. The command exits
non-zero when any case fails.`,
	RunE: runSuite,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("mode", "", "buffer exchange mode (async, sync)")
	runCmd.Flags().StringSlice("cases", nil, "cases to run (default all)")
	runCmd.Flags().String("vectors", "", "directory of MPEG-TS test vectors")
	runCmd.Flags().Int("frame-limit", 0, "maximum samples fed per run (0 = whole stream)")
	runCmd.Flags().Int("parallelism", 0, "cases executed concurrently")
	runCmd.Flags().String("report", "", "write the YAML report to this file")
	runCmd.Flags().Bool("no-store", false, "do not store the run in the database")
	runCmd.Flags().Bool("summary", false, "print a one-line summary instead of the YAML report")
}

// applyRunFlags overrides suite settings with explicitly set flags.
func applyRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Driver.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("cases") {
		cfg.Suite.Cases, _ = flags.GetStringSlice("cases")
	}
	if flags.Changed("vectors") {
		cfg.Suite.VectorsDir, _ = flags.GetString("vectors")
	}
	if flags.Changed("frame-limit") {
		cfg.Suite.FrameLimit, _ = flags.GetInt("frame-limit")
	}
	if flags.Changed("parallelism") {
		cfg.Suite.Parallelism, _ = flags.GetInt("parallelism")
	}
	if flags.Changed("report") {
		cfg.Suite.ReportPath, _ = flags.GetString("report")
	}
}

func runSuite(cmd *cobra.Command, _ []string) error {
	applyRunFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := suite.SelectCases(cfg.Suite.Cases); err != nil {
		return err
	}

	ctx, stop := withSignals(cmd.Context())
	defer stop()

	opts := []suite.Option{suite.WithLogger(logger)}
	if noStore, _ := cmd.Flags().GetBool("no-store"); !noStore {
		db, err := database.Open(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, suite.WithStore(repository.NewRunRepository(db.DB)))
	}

	run, err := suite.NewRunner(cfg, opts...).Run(ctx, models.TriggerCLI)
	if run == nil {
		return err
	}
	if err := printRun(cmd, run); err != nil {
		return err
	}
	if cfg.Suite.ReportPath != "" {
		if err := suite.SaveReport(cfg.Suite.ReportPath, run); err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}
	if run.Status != models.RunStatusPassed {
		for _, f := range suite.Failures(run) {
			fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s %s %s: %s\n", f.Case, f.Device, f.Vector, f.Error)
		}
		return fmt.Errorf("%w: %s", errRunFailed, suite.Summary(run))
	}
	return nil
}

func printRun(cmd *cobra.Command, run *models.Run) error {
	if summary, _ := cmd.Flags().GetBool("summary"); summary {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), suite.Summary(run))
		return err
	}
	return suite.WriteReport(cmd.OutOrStdout(), run)
}

// withSignals returns a context cancelled on SIGINT or SIGTERM.
func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
