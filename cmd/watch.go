package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/pipeline"
)

var (
	watchInterval time.Duration
	watchNoServe  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run detection cycles on a schedule and serve the read API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initCycle(ctx, "watch", prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		defer env.Close()

		interval := watchInterval
		if interval <= 0 {
			interval = cfg.Schedule.Interval
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			runSchedule(gCtx, env.Pipeline, interval)
			return nil
		})
		if !watchNoServe {
			g.Go(func() error {
				return listen(gCtx, newHandler(env.Store, prometheus.DefaultGatherer))
			})
		}
		return g.Wait()
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "time between cycles (default from config)")
	watchCmd.Flags().BoolVar(&watchNoServe, "no-serve", false, "do not start the read API")
	rootCmd.AddCommand(watchCmd)
}

// runSchedule runs a cycle immediately and then every interval until ctx is
// done. A failed cycle is logged and the schedule continues.
func runSchedule(ctx context.Context, p *pipeline.Pipeline, interval time.Duration) {
	log := zap.L().With(zap.Duration("interval", interval))
	log.Info("watch: starting")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("watch: cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			return
		case <-ticker.C:
		}
	}
}
