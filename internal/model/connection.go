package model

import "time"

// ConnectionStatus is the lifecycle state of a provider connection.
type ConnectionStatus string

const (
	ConnectionActive   ConnectionStatus = "active"
	ConnectionInactive ConnectionStatus = "inactive"
)

// OAuthTokens holds the OAuth credential state for one connection.
type OAuthTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenExpiry  time.Time `json:"token_expiry"`
}

// ProviderConnection is a per-tenant, per-provider credential and status
// record. Created on OAuth linking, mutated by the credential manager on
// refresh, deactivated on persistent auth failure.
type ProviderConnection struct {
	ID       string           `json:"id"`
	TenantID string           `json:"tenant_id"`
	Provider string           `json:"provider"`
	Status   ConnectionStatus `json:"status"`
	Tokens   OAuthTokens      `json:"tokens"`

	// Credentials holds provider-specific addressing info, e.g. the
	// Salesforce instance URL or the Pipedrive API domain.
	Credentials map[string]string `json:"credentials,omitempty"`

	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	FailureCount int        `json:"failure_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the ephemeral result of one reconciliation pass. It is returned
// to the caller and logged, never persisted.
type Summary struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`

	// ProviderFailures lists providers that were unavailable for this pass.
	ProviderFailures []string `json:"provider_failures,omitempty"`
}
