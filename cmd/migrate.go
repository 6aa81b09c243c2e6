package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/graph"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/similarity"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the incident store, vector index and graph schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		fmt.Fprintln(os.Stdout, "store: migrated")

		if cfg.Vector.Enabled && cfg.Vector.DatabaseURL != "" {
			pool, err := store.NewPool(ctx, cfg.Vector.DatabaseURL, nil)
			if err != nil {
				return eris.Wrap(err, "migrate vector")
			}
			defer pool.Close()
			if err := similarity.NewPgVectorStore(pool, cfg.Vector.Dimensions).Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate vector")
			}
			fmt.Fprintln(os.Stdout, "vector: migrated")
		}

		if cfg.Graph.Enabled {
			w, err := graph.NewWriter(ctx, cfg.Graph)
			if err != nil {
				return eris.Wrap(err, "migrate graph")
			}
			defer w.Close(ctx) //nolint:errcheck
			if err := w.InitSchema(ctx); err != nil {
				return eris.Wrap(err, "migrate graph")
			}
			fmt.Fprintln(os.Stdout, "graph: schema initialised")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
