package main

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-sync/internal/model"
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Manage provider connections",
}

var connectionsListTenant string

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's provider connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		conns, err := st.ListConnections(cmd.Context(), connectionsListTenant)
		if err != nil {
			return eris.Wrap(err, "list connections")
		}

		// Tokens stay out of the listing.
		type row struct {
			ID           string     `json:"id"`
			Provider     string     `json:"provider"`
			Status       string     `json:"status"`
			LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
			FailureCount int        `json:"failure_count"`
			LastError    string     `json:"last_error,omitempty"`
		}
		rows := make([]row, 0, len(conns))
		for _, c := range conns {
			rows = append(rows, row{
				ID:           c.ID,
				Provider:     c.Provider,
				Status:       string(c.Status),
				LastSyncAt:   c.LastSyncAt,
				FailureCount: c.FailureCount,
				LastError:    c.LastError,
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

var (
	connAddTenant       string
	connAddProvider     string
	connAddAccessToken  string
	connAddRefreshToken string
	connAddExpiry       string
	connAddCreds        []string
)

var connectionsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a provider connection with OAuth tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(cmd.Context()); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		var expiry time.Time
		if connAddExpiry != "" {
			expiry, err = time.Parse(time.RFC3339, connAddExpiry)
			if err != nil {
				return eris.Wrapf(err, "parse expiry %q", connAddExpiry)
			}
		}

		creds := make(map[string]string)
		for _, kv := range connAddCreds {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return eris.Errorf("credential %q is not key=value", kv)
			}
			creds[k] = v
		}

		conn := &model.ProviderConnection{
			TenantID: connAddTenant,
			Provider: connAddProvider,
			Status:   model.ConnectionActive,
			Tokens: model.OAuthTokens{
				AccessToken:  connAddAccessToken,
				RefreshToken: connAddRefreshToken,
				TokenExpiry:  expiry,
			},
			Credentials: creds,
		}
		if err := st.InsertConnection(cmd.Context(), conn); err != nil {
			return eris.Wrap(err, "insert connection")
		}

		zap.L().Info("connection registered",
			zap.String("id", conn.ID),
			zap.String("tenant", conn.TenantID),
			zap.String("provider", conn.Provider),
		)
		return nil
	},
}

var connStatusID string

func setConnectionStatus(status model.ConnectionStatus) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SetConnectionStatus(cmd.Context(), connStatusID, status); err != nil {
			return eris.Wrap(err, "set connection status")
		}
		zap.L().Info("connection status updated",
			zap.String("id", connStatusID),
			zap.String("status", string(status)),
		)
		return nil
	}
}

var connectionsActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Reactivate a connection",
	RunE:  setConnectionStatus(model.ConnectionActive),
}

var connectionsDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Deactivate a connection so reconciliation skips it",
	RunE:  setConnectionStatus(model.ConnectionInactive),
}

func init() {
	connectionsListCmd.Flags().StringVar(&connectionsListTenant, "tenant", "", "tenant identifier (required)")
	connectionsListCmd.MarkFlagRequired("tenant") //nolint:errcheck

	connectionsAddCmd.Flags().StringVar(&connAddTenant, "tenant", "", "tenant identifier (required)")
	connectionsAddCmd.Flags().StringVar(&connAddProvider, "provider", "", "provider identifier: hubspot, salesforce, pipedrive, zoho (required)")
	connectionsAddCmd.Flags().StringVar(&connAddAccessToken, "access-token", "", "current OAuth access token")
	connectionsAddCmd.Flags().StringVar(&connAddRefreshToken, "refresh-token", "", "OAuth refresh token (required)")
	connectionsAddCmd.Flags().StringVar(&connAddExpiry, "expiry", "", "access token expiry, RFC 3339")
	connectionsAddCmd.Flags().StringSliceVar(&connAddCreds, "cred", nil, "provider-specific credential as key=value, e.g. instance_url=https://acme.my.salesforce.com")
	connectionsAddCmd.MarkFlagRequired("tenant")        //nolint:errcheck
	connectionsAddCmd.MarkFlagRequired("provider")      //nolint:errcheck
	connectionsAddCmd.MarkFlagRequired("refresh-token") //nolint:errcheck

	connectionsActivateCmd.Flags().StringVar(&connStatusID, "id", "", "connection id (required)")
	connectionsActivateCmd.MarkFlagRequired("id") //nolint:errcheck
	connectionsDeactivateCmd.Flags().StringVar(&connStatusID, "id", "", "connection id (required)")
	connectionsDeactivateCmd.MarkFlagRequired("id") //nolint:errcheck

	connectionsCmd.AddCommand(connectionsListCmd, connectionsAddCmd, connectionsActivateCmd, connectionsDeactivateCmd)
	rootCmd.AddCommand(connectionsCmd)
}
