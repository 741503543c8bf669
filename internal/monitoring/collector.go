// Package monitoring gathers sync-health snapshots and raises webhook alerts
// when connection health degrades.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-sync/internal/model"
	"github.com/sells-group/crm-sync/internal/store"
)

// ConnectionHealth summarizes one provider connection's sync state.
type ConnectionHealth struct {
	Provider     string     `json:"provider"`
	Status       string     `json:"status"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	FailureCount int        `json:"failure_count"`
	LastError    string     `json:"last_error,omitempty"`
	Stale        bool       `json:"stale"`
}

// HealthSnapshot holds a point-in-time view of a tenant's sync health.
type HealthSnapshot struct {
	TenantID string `json:"tenant_id"`

	Connections         []ConnectionHealth `json:"connections"`
	ActiveConnections   int                `json:"active_connections"`
	InactiveConnections int                `json:"inactive_connections"`
	StaleConnections    int                `json:"stale_connections"`

	PlatformLeads int `json:"platform_leads"`
	ImportedLeads int `json:"imported_leads"`
	TotalLeads    int `json:"total_leads"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers health snapshots from the store.
type Collector struct {
	store      store.Store
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a health collector. staleAfterHours of zero disables
// staleness flagging.
func NewCollector(st store.Store, staleAfterHours int) *Collector {
	return &Collector{
		store:      st,
		staleAfter: time.Duration(staleAfterHours) * time.Hour,
		now:        time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (c *Collector) WithNow(fn func() time.Time) *Collector {
	c.now = fn
	return c
}

// Collect gathers a health snapshot for one tenant.
func (c *Collector) Collect(ctx context.Context, tenantID string) (*HealthSnapshot, error) {
	now := c.now().UTC()
	snap := &HealthSnapshot{
		TenantID:    tenantID,
		CollectedAt: now,
	}

	conns, err := c.store.ListConnections(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list connections")
	}

	for _, conn := range conns {
		h := ConnectionHealth{
			Provider:     conn.Provider,
			Status:       string(conn.Status),
			LastSyncAt:   conn.LastSyncAt,
			FailureCount: conn.FailureCount,
			LastError:    conn.LastError,
		}
		if c.staleAfter > 0 {
			h.Stale = conn.LastSyncAt == nil || now.Sub(*conn.LastSyncAt) > c.staleAfter
		}

		switch conn.Status {
		case model.ConnectionActive:
			snap.ActiveConnections++
		default:
			snap.InactiveConnections++
		}
		if h.Stale {
			snap.StaleConnections++
		}
		snap.Connections = append(snap.Connections, h)
	}

	counts, err := c.store.CountLeadsByOrigin(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count leads")
	}
	snap.PlatformLeads = counts[model.OriginPlatform]
	snap.ImportedLeads = counts[model.OriginCRM]
	snap.TotalLeads = snap.PlatformLeads + snap.ImportedLeads

	return snap, nil
}
