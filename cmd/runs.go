package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/monitoring"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect detection cycle history",
	Long:  "Commands for listing, viewing, and summarizing detection cycle run logs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent run logs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		logs, err := st.ListRunLogs(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(logs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, logs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rl, err := st.GetRunLog(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rl)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		days, _ := cmd.Flags().GetInt("days")
		stats, err := monitoring.NewCollector(st, nil).Stats(ctx, days)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsStatsCmd.Flags().Int("days", 7, "lookback window in days")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of run logs to out.
func formatRunsList(out io.Writer, logs []model.RunLog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTARTED\tREADINGS\tANOMALIES\tCLUSTERS\tNEW\tDUP\tERRORS\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-------\t--------\t---------\t--------\t---\t---\t------\t--------")

	for _, l := range logs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%.1fs\n",
			truncateID(l.RunID),
			l.StartedAt.UTC().Format("2006-01-02 15:04"),
			l.ReadingsFetched,
			l.AnomaliesFound,
			l.ClustersFound,
			l.IncidentsCreated,
			l.IncidentsDuplicate,
			len(l.Errors),
			l.DurationSeconds,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to out.
func formatRunStats(out io.Writer, s *model.RunStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Lookback:\t%dd\n", s.LookbackDays)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.TotalRuns)
	_, _ = fmt.Fprintf(w, "Readings:\t%d\n", s.TotalReadings)
	_, _ = fmt.Fprintf(w, "Anomalies:\t%d\n", s.TotalAnomalies)
	_, _ = fmt.Fprintf(w, "Clusters:\t%d\n", s.TotalClusters)
	_, _ = fmt.Fprintf(w, "Incidents created:\t%d\n", s.IncidentsCreated)
	_, _ = fmt.Fprintf(w, "Incidents duplicate:\t%d\n", s.IncidentsDuplicate)
	_, _ = fmt.Fprintf(w, "Duplicate rate:\t%.1f%%\n", s.DuplicateRate)
	_, _ = fmt.Fprintf(w, "Errors:\t%d\n", s.TotalErrors)
	if s.AvgDurationSeconds > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.2fs\n", s.AvgDurationSeconds)
	}
	_ = w.Flush()
}
