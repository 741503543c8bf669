package model

import (
	"strings"
	"time"
)

// LeadStatus is the platform's closed status enumeration.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusHot       LeadStatus = "hot"
	LeadStatusWarm      LeadStatus = "warm"
	LeadStatusCold      LeadStatus = "cold"
	LeadStatusQualified LeadStatus = "qualified"
)

// allowedInboundStatuses is the closed set of raw CRM statuses that map
// directly onto a platform status. Anything else becomes LeadStatusNew.
var allowedInboundStatuses = map[string]LeadStatus{
	"hot":       LeadStatusHot,
	"warm":      LeadStatusWarm,
	"cold":      LeadStatusCold,
	"qualified": LeadStatusQualified,
}

// MapInboundStatus maps a provider's raw status string into the platform
// enumeration, case-insensitively. Unknown values default to LeadStatusNew.
func MapInboundStatus(raw string) LeadStatus {
	if s, ok := allowedInboundStatuses[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return LeadStatusNew
}

// LeadOrigin marks the authoritative source of a platform lead.
type LeadOrigin string

const (
	OriginPlatform LeadOrigin = "platform"
	OriginCRM      LeadOrigin = "crm"
)

// SyncStatus tracks the CRM sync state of a platform lead.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// CanonicalLead is the provider-agnostic normalized lead record produced by
// a provider adapter. ExternalID and SourceProvider together identify the
// record within one reconciliation pass. All optional fields normalize to
// the empty string, never to a null-ish sentinel.
type CanonicalLead struct {
	ExternalID     string    `json:"external_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	Company        string    `json:"company"`
	JobTitle       string    `json:"job_title"`
	RawStatus      string    `json:"raw_status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	SourceProvider string    `json:"source_provider"`
}

// SyncEdge is a directional link between a platform lead and an external CRM
// record: either the record it was imported from or the record it was
// exported to.
type SyncEdge struct {
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id"`
}

// PlatformLead is the persisted lead entity, reduced to the fields the
// reconciliation core reads and writes.
type PlatformLead struct {
	ID       string     `json:"id"`
	TenantID string     `json:"tenant_id"`
	FormID   string     `json:"form_id"`
	Email    string     `json:"email"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
	Phone     string `json:"phone"`
	Company   string `json:"company"`
	JobTitle  string `json:"job_title"`

	Status LeadStatus `json:"status"`
	Origin LeadOrigin `json:"origin"`

	// CRMID is set when this lead was pulled in from a CRM (imported-from).
	CRMID string `json:"crm_id,omitempty"`
	// CRMProvider names the provider CRMID belongs to.
	CRMProvider string `json:"crm_provider,omitempty"`
	// OriginCRMID is set when this platform lead was pushed out to a CRM
	// (exported-to). Disjoint role from CRMID.
	OriginCRMID string `json:"origin_crm_id,omitempty"`
	// OriginCRMProvider names the provider OriginCRMID belongs to.
	OriginCRMProvider string `json:"origin_crm_provider,omitempty"`

	SyncStatus   SyncStatus `json:"crm_sync_status,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	QualificationScore    float64 `json:"qualification_score,omitempty"`
	QualificationCategory string  `json:"qualification_category,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ImportedFrom returns the imported-from sync edge, or nil if this lead was
// not pulled from a CRM.
func (l *PlatformLead) ImportedFrom() *SyncEdge {
	if l.CRMID == "" {
		return nil
	}
	return &SyncEdge{Provider: l.CRMProvider, ExternalID: l.CRMID}
}

// ExportedTo returns the exported-to sync edge, or nil if this lead was
// never pushed out to a CRM.
func (l *PlatformLead) ExportedTo() *SyncEdge {
	if l.OriginCRMID == "" {
		return nil
	}
	return &SyncEdge{Provider: l.OriginCRMProvider, ExternalID: l.OriginCRMID}
}
