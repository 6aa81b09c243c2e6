package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/pipeline"
)

var cycleJSON bool

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one detection cycle and print the resulting incidents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initCycle(ctx, "cycle", prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "cycle")
		}

		if cycleJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			formatCycleResult(os.Stdout, res)
		}

		if res.Failed > 0 {
			return eris.Errorf("cycle: %d cluster(s) failed", res.Failed)
		}
		return nil
	},
}

func init() {
	cycleCmd.Flags().BoolVar(&cycleJSON, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(cycleCmd)
}

// formatCycleResult writes a run summary and one line per incident to out.
func formatCycleResult(out io.Writer, res *pipeline.Result) {
	rl := res.RunLog
	_, _ = fmt.Fprintf(out, "Run %s: %d readings, %d anomalies (%d recent), %d clusters in %.1fs\n",
		truncateID(rl.RunID), rl.ReadingsFetched, rl.AnomaliesFound, rl.RecentAnomalies,
		rl.ClustersFound, rl.DurationSeconds)

	if len(res.Incidents) == 0 {
		_, _ = fmt.Fprintln(out, "No incidents.")
	} else {
		created := make(map[string]bool, len(rl.IncidentIDsCreated))
		for _, id := range rl.IncidentIDsCreated {
			created[id] = true
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tREADINGS\tPERMITS\tSUMMARY")
		for _, inc := range res.Incidents {
			status := "duplicate"
			if created[inc.ID] {
				status = "new"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				truncateID(inc.ID), status, inc.Priority(), len(inc.Readings), len(inc.Permits),
				truncate(inc.Summary(), 60))
		}
		_ = w.Flush()
	}

	for _, e := range rl.Errors {
		_, _ = fmt.Fprintf(out, "error: %s\n", e)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
