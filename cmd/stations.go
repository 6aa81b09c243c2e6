package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/feeds"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/fetcher"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/resilience"
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "Manage the station catalog used to place readings on the map",
}

var stationsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch flood, rainfall and hydrology stations from the Environment Agency",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("stations"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:         cfg.Feeds.UserAgent,
			Timeout:           cfg.Feeds.Timeout,
			Policy:            resilience.PolicyFromConfig(cfg.Retry),
			RequestsPerSecond: cfg.Feeds.RequestsPerSecond,
		})
		sync := feeds.NewStationSync(f, cfg.Feeds.FloodBaseURL, cfg.Feeds.HydrologyBaseURL, cfg.Feeds.StationPageSize)

		res, err := sync.Run(ctx, st)
		if err != nil {
			return eris.Wrap(err, "stations sync")
		}
		printSyncResult(res)
		return nil
	},
}

var stationsLoadFile string

var stationsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Import stations from a YAML seed file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("stations"); err != nil {
			return err
		}

		stations, err := feeds.LoadCatalogFile(stationsLoadFile)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertStations(ctx, stations)
		if err != nil {
			return eris.Wrap(err, "stations load")
		}
		zap.L().Info("stations loaded", zap.String("file", stationsLoadFile), zap.Int64("upserted", n))
		fmt.Fprintf(os.Stdout, "Loaded %d stations from %s\n", len(stations), stationsLoadFile)
		return nil
	},
}

func init() {
	stationsLoadCmd.Flags().StringVar(&stationsLoadFile, "file", "stations.yaml", "YAML station seed file")

	stationsCmd.AddCommand(stationsSyncCmd)
	stationsCmd.AddCommand(stationsLoadCmd)
	rootCmd.AddCommand(stationsCmd)
}

func printSyncResult(res feeds.SyncResult) {
	sources := make([]model.Source, 0, len(res))
	for src := range res {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	for _, src := range sources {
		fmt.Fprintf(os.Stdout, "%-10s %d stations\n", src, res[src])
	}
}
