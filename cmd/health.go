package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var healthTenant string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print a tenant's sync health snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Collector.Collect(cmd.Context(), healthTenant)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthTenant, "tenant", "", "tenant identifier (required)")
	healthCmd.MarkFlagRequired("tenant") //nolint:errcheck
	rootCmd.AddCommand(healthCmd)
}
