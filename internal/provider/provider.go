// Package provider defines the capability interface for CRM provider
// adapters and the registry that selects one by provider identifier.
package provider

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/crm-sync/internal/model"
)

// PageOptions bounds a single fetch. The engine requests one page per pass
// rather than exhausting all provider pages.
type PageOptions struct {
	Limit int
}

// NativeRecord is a provider-native lead record before normalization.
type NativeRecord map[string]any

// Str returns a nested string value, descending through maps by key.
// Missing or non-string values yield the empty string.
func (r NativeRecord) Str(keys ...string) string {
	var cur any = map[string]any(r)
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[k]
	}
	s, _ := cur.(string)
	return strings.TrimSpace(s)
}

// Provider adapts one external CRM: it translates a paginated-fetch request
// into the provider's wire calls and maps native records into the canonical
// shape. Stateless given valid credentials.
type Provider interface {
	// Name returns the provider identifier used in the connection catalog.
	Name() string
	// FetchLeads retrieves one bounded page of provider-native lead records.
	FetchLeads(ctx context.Context, accessToken string, creds map[string]string, page PageOptions) ([]NativeRecord, error)
	// Normalize maps a native record into a CanonicalLead. It never fails:
	// missing optional fields normalize to the empty string.
	Normalize(rec NativeRecord) model.CanonicalLead
}

// Registry is the lookup table of provider adapters. Adding a provider
// means registering one implementation, not extending a branch.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil if not registered. Callers treat
// an unknown identifier as a no-op: the connection catalog may reference
// providers no longer supported.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// fullName assembles a display name from parts, preferring an explicit full
// name when the provider supplies one.
func fullName(first, last, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// parseTime tries the timestamp layouts seen across provider APIs. A value
// that parses with none of them yields the zero time rather than an error,
// keeping normalization total.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000-0700", // Salesforce
		"2006-01-02 15:04:05",          // Pipedrive
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
