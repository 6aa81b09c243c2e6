package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/store"
)

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "Inspect recorded incidents",
}

// -- incidents list --

var incidentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List incidents, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := store.IncidentFilter{Limit: limit, Offset: offset}
		if since > 0 {
			filter.Since = time.Now().UTC().Add(-since)
		}

		incidents, err := st.ListIncidents(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "incidents list")
		}

		if len(incidents) == 0 {
			fmt.Fprintln(os.Stderr, "No incidents found.")
			return nil
		}

		formatIncidentsList(os.Stdout, incidents)
		return nil
	},
}

// -- incidents show --

var incidentsShowCmd = &cobra.Command{
	Use:   "show <incident-id>",
	Short: "Show a full incident document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		inc, err := st.GetIncident(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "incidents show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(inc)
	},
}

func init() {
	incidentsListCmd.Flags().Duration("since", 0, "only incidents created within this window (e.g. 24h)")
	incidentsListCmd.Flags().Int("limit", 50, "max number of incidents to display")
	incidentsListCmd.Flags().Int("offset", 0, "number of incidents to skip")

	incidentsCmd.AddCommand(incidentsListCmd)
	incidentsCmd.AddCommand(incidentsShowCmd)
	rootCmd.AddCommand(incidentsCmd)
}

// formatIncidentsList writes a tabular list of incidents to out.
func formatIncidentsList(out io.Writer, incidents []model.Incident) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tHASH\tPRIORITY\tSTATIONS\tPERMITS\tCREATED\tSUMMARY")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t--------\t-------\t-------\t-------")

	for _, inc := range incidents {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(inc.ID),
			inc.ContentHash,
			inc.Priority(),
			len(inc.Readings),
			len(inc.Permits),
			inc.CreatedAt.UTC().Format("2006-01-02 15:04"),
			truncate(inc.Summary(), 60),
		)
	}
	_ = w.Flush()
}
