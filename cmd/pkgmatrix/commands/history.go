package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pkgmatrix/pkg/report"
	"github.com/openfroyo/pkgmatrix/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past runs",
		Long: `Inspect the runs recorded in the history database.

Runs are recorded by 'pkgmatrix run' when PKGMATRIX_HISTORY_DB is set:
one row per run, the outcome of each job and the events of the run.`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "history database (default: PKGMATRIX_HISTORY_DB)")

	open := func(cmd *cobra.Command) (stores.Store, func(), error) {
		path := dbPath
		if path == "" {
			s, err := loadSettings(nil)
			if err != nil {
				return nil, nil, err
			}
			path = s.HistoryDB
		}
		if path == "" {
			return nil, nil, fmt.Errorf("no history database, set PKGMATRIX_HISTORY_DB or --db")
		}
		return openHistory(cmd.Context(), path)
	}

	cmd.AddCommand(newHistoryRunsCommand(open))
	cmd.AddCommand(newHistoryJobsCommand(open))
	cmd.AddCommand(newHistoryJobCommand(open))
	cmd.AddCommand(newHistoryEventsCommand(open))

	return cmd
}

type openStore func(cmd *cobra.Command) (stores.Store, func(), error)

func newHistoryRunsCommand(open openStore) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		Example: `  # Last 20 runs
  pkgmatrix history runs

  # As JSON
  pkgmatrix history runs --limit 5 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			runs, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			return report.PrintRuns(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")

	return cmd
}

func newHistoryJobsCommand(open openStore) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <run-id>",
		Short: "Show the jobs of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			if _, err := store.GetRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			jobs, err := store.ListJobsByRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), jobs)
			}
			return report.PrintJobRecords(cmd.OutOrStdout(), jobs)
		},
	}
}

func newHistoryJobCommand(open openStore) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show the outcomes of one configuration across runs",
		Long: `Show the outcomes of one configuration across runs.

Job IDs are derived from the configuration, so the same ID in two runs
is the same set of settings, options, env and build requires.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			jobs, err := store.JobHistory(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), jobs)
			}
			return report.PrintJobRecords(cmd.OutOrStdout(), jobs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of records")

	return cmd
}

func newHistoryEventsCommand(open openStore) *cobra.Command {
	var (
		level  string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the events of a run",
		Example: `  # Errors of a run
  pkgmatrix history events 0b7c... --level error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *stores.EventLevel
			switch stores.EventLevel(level) {
			case "":
			case stores.EventLevelDebug, stores.EventLevelInfo, stores.EventLevelWarning, stores.EventLevelError:
				l := stores.EventLevel(level)
				filter = &l
			default:
				return fmt.Errorf("invalid level %q, expected debug, info, warning or error", level)
			}

			store, closeStore, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			events, err := store.GetEvents(cmd.Context(), args[0], filter, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			return report.PrintEvents(cmd.OutOrStdout(), events)
		},
	}

	cmd.Flags().StringVarP(&level, "level", "l", "", "only events of this level")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum number of events")
	cmd.Flags().IntVar(&offset, "offset", 0, "events to skip")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
