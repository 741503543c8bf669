// Package store defines the persistence interfaces for the lead sync engine
// and provides SQLite and Postgres implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/crm-sync/internal/model"
)

// ErrDuplicate is returned by InsertLead when a uniqueness constraint on
// (tenant, email) or (tenant, provider, crm_id) rejects the insert. The
// reconciliation engine treats it as a create-conflict signal, not a failure.
var ErrDuplicate = errors.New("store: duplicate lead")

// ErrNotFound is returned for point lookups of missing entities.
var ErrNotFound = errors.New("store: not found")

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	TenantID string           `json:"tenant_id"`
	IDs      []string         `json:"ids,omitempty"`
	Status   model.LeadStatus `json:"status,omitempty"`
	Origin   model.LeadOrigin `json:"origin,omitempty"`
	Limit    int              `json:"limit,omitempty"`
}

// LeadStore is the lead persistence contract the engine requires:
// point lookup, disjunctive identity match, insert with duplicate-conflict
// signalling, and field-level update. Read-your-writes within one run.
type LeadStore interface {
	GetLead(ctx context.Context, id string) (*model.PlatformLead, error)
	// FindMatch resolves candidate identity by email OR imported-from id OR
	// exported-to id within a tenant. Returns nil, nil when nothing matches.
	FindMatch(ctx context.Context, tenantID, provider, email, externalID string) (*model.PlatformLead, error)
	InsertLead(ctx context.Context, lead *model.PlatformLead) error
	UpdateLeadFields(ctx context.Context, id string, fields map[string]any) error
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.PlatformLead, error)
	// ExportedEdges returns the exported-to sync edges of all leads in the
	// tenant, the input to loop prevention.
	ExportedEdges(ctx context.Context, tenantID string) ([]model.SyncEdge, error)
	CountLeadsByOrigin(ctx context.Context, tenantID string) (map[model.LeadOrigin]int, error)
}

// ConnectionStore manages provider connection credential and status records.
type ConnectionStore interface {
	ListConnections(ctx context.Context, tenantID string) ([]model.ProviderConnection, error)
	ActiveConnections(ctx context.Context, tenantID string) ([]model.ProviderConnection, error)
	// UpdateConnectionTokens persists refreshed tokens and resets the
	// consecutive failure count.
	UpdateConnectionTokens(ctx context.Context, connectionID string, tokens model.OAuthTokens) error
	MarkConnectionSynced(ctx context.Context, connectionID string, at time.Time) error
	// RecordConnectionFailure stores the error message and returns the new
	// consecutive failure count.
	RecordConnectionFailure(ctx context.Context, connectionID string, message string) (int, error)
	SetConnectionStatus(ctx context.Context, connectionID string, status model.ConnectionStatus) error
	InsertConnection(ctx context.Context, conn *model.ProviderConnection) error
}

// FormStore provides the default import form used to satisfy the lead
// schema's required form reference for CRM-originated leads. The form is
// looked up by a marker flag, never by name, so repeated runs do not create
// duplicates.
type FormStore interface {
	FindOrCreateImportForm(ctx context.Context, tenantID string) (string, error)
}

// Store is the full persistence interface for the sync engine.
type Store interface {
	LeadStore
	ConnectionStore
	FormStore

	Migrate(ctx context.Context) error
	Close() error
}

// leadColumns whitelists the columns UpdateLeadFields may touch. Requests
// naming any other column are rejected.
var leadColumns = map[string]bool{
	"email":                  true,
	"first_name":             true,
	"last_name":              true,
	"full_name":              true,
	"phone":                  true,
	"company":                true,
	"job_title":              true,
	"status":                 true,
	"origin_crm_id":          true,
	"origin_crm_provider":    true,
	"crm_sync_status":        true,
	"last_synced_at":         true,
	"qualification_score":    true,
	"qualification_category": true,
	"updated_at":             true,
}
