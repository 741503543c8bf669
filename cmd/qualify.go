package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-sync/internal/model"
	"github.com/sells-group/crm-sync/internal/store"
)

var (
	qualifyTenant string
	qualifyIDs    []string
	qualifyStatus string
	qualifyLimit  int
)

var qualifyCmd = &cobra.Command{
	Use:   "qualify",
	Short: "Score a batch of leads through the qualification scorer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(qualifyIDs) == 0 && qualifyStatus == "" {
			return eris.New("either --lead or --status is required")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		ids := qualifyIDs
		if len(ids) == 0 {
			leads, err := env.Store.ListLeads(cmd.Context(), store.LeadFilter{
				TenantID: qualifyTenant,
				Status:   model.LeadStatus(qualifyStatus),
				Limit:    qualifyLimit,
			})
			if err != nil {
				return eris.Wrap(err, "qualify: list leads")
			}
			for _, l := range leads {
				ids = append(ids, l.ID)
			}
		}

		result, err := env.Qualifier.QualifyBatch(cmd.Context(), qualifyTenant, ids)
		if err != nil {
			zap.L().Error("qualification batch failed", zap.Error(err))
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	qualifyCmd.Flags().StringVar(&qualifyTenant, "tenant", "", "tenant identifier (required)")
	qualifyCmd.Flags().StringSliceVar(&qualifyIDs, "lead", nil, "lead id to score (repeatable)")
	qualifyCmd.Flags().StringVar(&qualifyStatus, "status", "", "select leads by status instead of --lead")
	qualifyCmd.Flags().IntVar(&qualifyLimit, "limit", 50, "max leads selected by --status")
	qualifyCmd.MarkFlagRequired("tenant") //nolint:errcheck
	rootCmd.AddCommand(qualifyCmd)
}
