package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scheduleTenants []string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run reconciliation for the given tenants on the configured cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c := cron.New()
		_, err = c.AddFunc(cfg.Sync.Schedule, func() {
			for _, tenant := range scheduleTenants {
				runCtx, cancel := context.WithTimeout(ctx, cfg.Sync.RunTimeout())
				summary, err := env.Engine.Reconcile(runCtx, tenant)
				cancel()
				if err != nil {
					zap.L().Error("scheduled reconciliation failed",
						zap.String("tenant", tenant),
						zap.Error(err),
					)
					continue
				}
				zap.L().Info("scheduled reconciliation complete",
					zap.String("tenant", tenant),
					zap.Int("imported", summary.Imported),
					zap.Int("updated", summary.Updated),
					zap.Int("skipped", summary.Skipped),
				)
			}
		})
		if err != nil {
			return eris.Wrapf(err, "invalid schedule %q", cfg.Sync.Schedule)
		}

		zap.L().Info("scheduler started",
			zap.String("schedule", cfg.Sync.Schedule),
			zap.Strings("tenants", scheduleTenants),
		)
		c.Start()

		<-ctx.Done()
		zap.L().Info("scheduler stopping")
		<-c.Stop().Done()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().StringSliceVar(&scheduleTenants, "tenant", nil, "tenant identifier to reconcile (repeatable, required)")
	scheduleCmd.MarkFlagRequired("tenant") //nolint:errcheck
	rootCmd.AddCommand(scheduleCmd)
}
