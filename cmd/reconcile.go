package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reconcileTenant string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Sync.RunTimeout())
		defer cancel()

		summary, err := env.Engine.Reconcile(ctx, reconcileTenant)
		if err != nil {
			zap.L().Error("reconciliation failed", zap.Error(err))
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileTenant, "tenant", "", "tenant identifier (required)")
	reconcileCmd.MarkFlagRequired("tenant") //nolint:errcheck
	rootCmd.AddCommand(reconcileCmd)
}
