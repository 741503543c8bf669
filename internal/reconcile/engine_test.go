package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/crm-sync/internal/config"
	"github.com/sells-group/crm-sync/internal/model"
	"github.com/sells-group/crm-sync/internal/provider"
	"github.com/sells-group/crm-sync/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// memStore is an in-memory store.Store for engine tests.
type memStore struct {
	leads       map[string]*model.PlatformLead
	conns       []model.ProviderConnection
	forms       map[string]string
	failures    map[string]int
	syncedAt    map[string]time.Time
	insertCount int
	updates     map[string][]map[string]any

	failFindMatch bool
	dupOnInsert   bool
}

func newMemStore() *memStore {
	return &memStore{
		leads:    make(map[string]*model.PlatformLead),
		forms:    make(map[string]string),
		failures: make(map[string]int),
		syncedAt: make(map[string]time.Time),
		updates:  make(map[string][]map[string]any),
	}
}

func (m *memStore) GetLead(_ context.Context, id string) (*model.PlatformLead, error) {
	l, ok := m.leads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return l, nil
}

func (m *memStore) FindMatch(_ context.Context, tenantID, prov, email, externalID string) (*model.PlatformLead, error) {
	if m.failFindMatch {
		return nil, errors.New("db unavailable")
	}
	for _, l := range m.leads {
		if l.TenantID != tenantID {
			continue
		}
		if email != "" && l.Email == email {
			return l, nil
		}
		if externalID != "" && l.CRMID == externalID && l.CRMProvider == prov {
			return l, nil
		}
		if externalID != "" && l.OriginCRMID == externalID && l.OriginCRMProvider == prov {
			return l, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertLead(_ context.Context, lead *model.PlatformLead) error {
	if m.dupOnInsert {
		return store.ErrDuplicate
	}
	m.insertCount++
	if lead.ID == "" {
		lead.ID = fmt.Sprintf("lead-%d", m.insertCount)
	}
	m.leads[lead.ID] = lead
	return nil
}

func (m *memStore) UpdateLeadFields(_ context.Context, id string, fields map[string]any) error {
	l, ok := m.leads[id]
	if !ok {
		return errors.New("lead not found")
	}
	m.updates[id] = append(m.updates[id], fields)
	if v, ok := fields["company"]; ok {
		l.Company = v.(string)
	}
	if v, ok := fields["status"]; ok {
		l.Status = model.LeadStatus(v.(string))
	}
	return nil
}

func (m *memStore) ListLeads(_ context.Context, filter store.LeadFilter) ([]model.PlatformLead, error) {
	var out []model.PlatformLead
	for _, l := range m.leads {
		if l.TenantID == filter.TenantID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memStore) ExportedEdges(_ context.Context, tenantID string) ([]model.SyncEdge, error) {
	var edges []model.SyncEdge
	for _, l := range m.leads {
		if l.TenantID == tenantID && l.OriginCRMID != "" {
			edges = append(edges, model.SyncEdge{Provider: l.OriginCRMProvider, ExternalID: l.OriginCRMID})
		}
	}
	return edges, nil
}

func (m *memStore) CountLeadsByOrigin(_ context.Context, tenantID string) (map[model.LeadOrigin]int, error) {
	counts := make(map[model.LeadOrigin]int)
	for _, l := range m.leads {
		if l.TenantID == tenantID {
			counts[l.Origin]++
		}
	}
	return counts, nil
}

func (m *memStore) ListConnections(_ context.Context, _ string) ([]model.ProviderConnection, error) {
	return m.conns, nil
}

func (m *memStore) ActiveConnections(_ context.Context, tenantID string) ([]model.ProviderConnection, error) {
	var out []model.ProviderConnection
	for _, c := range m.conns {
		if c.TenantID == tenantID && c.Status == model.ConnectionActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateConnectionTokens(_ context.Context, _ string, _ model.OAuthTokens) error {
	return nil
}

func (m *memStore) MarkConnectionSynced(_ context.Context, id string, at time.Time) error {
	m.syncedAt[id] = at
	return nil
}

func (m *memStore) RecordConnectionFailure(_ context.Context, id string, _ string) (int, error) {
	m.failures[id]++
	return m.failures[id], nil
}

func (m *memStore) SetConnectionStatus(_ context.Context, _ string, _ model.ConnectionStatus) error {
	return nil
}

func (m *memStore) InsertConnection(_ context.Context, conn *model.ProviderConnection) error {
	m.conns = append(m.conns, *conn)
	return nil
}

func (m *memStore) FindOrCreateImportForm(_ context.Context, tenantID string) (string, error) {
	if id, ok := m.forms[tenantID]; ok {
		return id, nil
	}
	id := "form-" + tenantID
	m.forms[tenantID] = id
	return id, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

// staticCreds hands out a fixed token, or an error per provider.
type staticCreds struct {
	failFor map[string]bool
}

func (s *staticCreds) EnsureFreshToken(_ context.Context, conn *model.ProviderConnection) (string, error) {
	if s.failFor[conn.Provider] {
		return "", errors.New("refresh failed")
	}
	return "tok-" + conn.Provider, nil
}

// stubProvider serves canned canonical leads.
type stubProvider struct {
	name  string
	leads []model.CanonicalLead
	err   error

	gotToken string
	gotLimit int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) FetchLeads(_ context.Context, accessToken string, _ map[string]string, page provider.PageOptions) ([]provider.NativeRecord, error) {
	p.gotToken = accessToken
	p.gotLimit = page.Limit
	if p.err != nil {
		return nil, p.err
	}
	records := make([]provider.NativeRecord, len(p.leads))
	for i, l := range p.leads {
		records[i] = provider.NativeRecord{"i": fmt.Sprintf("%d", i)}
		_ = l
	}
	return records, nil
}

func (p *stubProvider) Normalize(rec provider.NativeRecord) model.CanonicalLead {
	var i int
	fmt.Sscanf(rec.Str("i"), "%d", &i)
	return p.leads[i]
}

func testEngine(st store.Store, creds CredentialSource, providers ...provider.Provider) *Engine {
	registry := provider.NewRegistry()
	for _, p := range providers {
		registry.Register(p)
	}
	return NewEngine(st, creds, registry, config.SyncConfig{
		PageSize:           100,
		MaxConcurrentFetch: 2,
	})
}

func activeConn(tenant, prov string) model.ProviderConnection {
	return model.ProviderConnection{
		ID:       "conn-" + prov,
		TenantID: tenant,
		Provider: prov,
		Status:   model.ConnectionActive,
	}
}

func TestReconcile_NoActiveConnections(t *testing.T) {
	st := newMemStore()
	e := testEngine(st, &staticCreds{})

	summary, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, &model.Summary{}, summary)
}

func TestReconcile_ImportsFreshLeads(t *testing.T) {
	st := newMemStore()
	st.conns = []model.ProviderConnection{activeConn("t1", "hubspot")}

	hub := &stubProvider{name: "hubspot", leads: []model.CanonicalLead{
		{ExternalID: "hs-1", Email: "a@x.com", FirstName: "A", RawStatus: "hot", SourceProvider: "hubspot"},
		{ExternalID: "hs-2", Email: "b@x.com", FirstName: "B", RawStatus: "something weird", SourceProvider: "hubspot"},
	}}

	e := testEngine(st, &staticCreds{}, hub)
	summary, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Imported)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 2, summary.Total)
	assert.Empty(t, summary.ProviderFailures)

	assert.Equal(t, "tok-hubspot", hub.gotToken)
	assert.Equal(t, 100, hub.gotLimit)
	assert.Len(t, st.leads, 2)

	for _, l := range st.leads {
		assert.Equal(t, model.OriginCRM, l.Origin)
		assert.Equal(t, "hubspot", l.CRMProvider)
		assert.Equal(t, "form-t1", l.FormID)
		assert.Equal(t, model.SyncStatusSynced, l.SyncStatus)
		require.NotNil(t, l.LastSyncedAt)
	}

	// Unknown raw statuses default to new; known ones map through.
	byEmail := make(map[string]*model.PlatformLead)
	for _, l := range st.leads {
		byEmail[l.Email] = l
	}
	assert.Equal(t, model.LeadStatusHot, byEmail["a@x.com"].Status)
	assert.Equal(t, model.LeadStatusNew, byEmail["b@x.com"].Status)

	// The connection got a sync stamp.
	assert.Contains(t, st.syncedAt, "conn-hubspot")
}

func TestReconcile_RerunIsIdempotent(t *testing.T) {
	st := newMemStore()
	st.conns = []model.ProviderConnection{activeConn("t1", "hubspot")}

	hub := &stubProvider{name: "hubspot", leads: []model.CanonicalLead{
		{ExternalID: "hs-1", FirstName: "NoEmail", SourceProvider: "hubspot"},
	}}

	e := testEngine(st, &staticCreds{}, hub)

	first, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Imported)

	// Even without an email, the imported-from id resolves the re-run to an
	// update instead of a second create.
	second, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 1, second.Updated)
	assert.Len(t, st.leads, 1)
}

func TestReconcile_PlatformOriginProtected(t *testing.T) {
	st := newMemStore()
	st.conns = []model.ProviderConnection{activeConn("t1", "zoho")}
	st.leads["p1"] = &model.PlatformLead{
		ID: "p1", TenantID: "t1", Email: "vip@x.com",
		Origin: model.OriginPlatform, Status: model.LeadStatusQualified,
	}

	z := &stubProvider{name: "zoho", leads: []model.CanonicalLead{
		{ExternalID: "z-9", Email: "vip@x.com", RawStatus: "cold", SourceProvider: "zoho"},
	}}

	e := testEngine(st, &staticCreds{}, z)
	summary, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Imported)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 1, summary.Skipped)
	// Platform-authored record is untouched.
	assert.Equal(t, model.LeadStatusQualified, st.leads["p1"].Status)
	assert.Empty(t, st.updates["p1"])
}

func TestReconcile_PartialProviderFailure(t *testing.T) {
	st := newMemStore()
	st.conns = []model.ProviderConnection{
		activeConn("t1", "hubspot"),
		activeConn("t1", "pipedrive"),
	}

	hub := &stubProvider{name: "hubspot", err: errors.New("503 unavailable")}
	pd := &stubProvider{name: "pipedrive", leads: []model.CanonicalLead{
		{ExternalID: "pd-1", Email: "c@x.com", SourceProvider: "pipedrive"},
	}}

	e := testEngine(st, &staticCreds{}, hub, pd)
	summary, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, []string{"hubspot"}, summary.ProviderFailures)
	// The failing provider's connection accrues a failure record.
	assert.Equal(t, 1, st.failures["conn-hubspot"])
	assert.NotContains(t, st.syncedAt, "conn-hubspot")
	assert.Contains(t, st.syncedAt, "conn-pipedrive")
}

func TestReconcile_CredentialFailureIsolated(t *testing.T) {
	st := newMemStore()
	st.conns = []model.ProviderConnection{
		activeConn("t1", "hubspot"),
		activeConn("t1", "zoho"),
	}

	hub := &stubProvider{name: "hubspot", leads: []model.CanonicalLead{
		{ExternalID: "hs-1", Email: "a@x.com", SourceProvider: "hubspot"},
	}}
	z := &stubProvider{name: "zoho"}

	e := testEngine(st, &staticCreds{failFor: map[string]bool{"zoho": true}}, hub, z)
	summary, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, []string{"zoho"}, summary.ProviderFailures)
}

func TestReconcile_LoopPrevention(t *testing.T) {
	st := newMemStore()
	st.conns = []model.ProviderConnection{activeConn("t1", "hubspot")}
	// This platform lead was previously exported to HubSpot as hs-77.
	st.leads["p1"] = &model.PlatformLead{
		ID: "p1", TenantID: "t1", Email: "exported@x.com",
		Origin: model.OriginPlatform, OriginCRMID: "hs-77", OriginCRMProvider: "hubspot",
	}

	hub := &stubProvider{name: "hubspot", leads: []model.CanonicalLead{
		// The reflection of the exported lead, coming back with a different email.
		{ExternalID: "hs-77", Email: "changed@x.com", SourceProvider: "hubspot"},
		{ExternalID: "hs-78", Email: "fresh@x.com", SourceProvider: "hubspot"},
	}}

	e := testEngine(st, &staticCreds{}, hub)
	summary, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, st.leads, 2) // p1 plus the one genuinely new lead
}

func TestReconcile_UpdatePreservesNonEmptyFields(t *testing.T) {
	st := newMemStore()
	st.conns = []model.ProviderConnection{activeConn("t1", "hubspot")}
	st.leads["c1"] = &model.PlatformLead{
		ID: "c1", TenantID: "t1", Email: "keep@x.com", Company: "Kept Co",
		Origin: model.OriginCRM, CRMID: "hs-5", CRMProvider: "hubspot",
		Status: model.LeadStatusWarm,
	}

	hub := &stubProvider{name: "hubspot", leads: []model.CanonicalLead{
		// Empty company and status must not blank the stored values.
		{ExternalID: "hs-5", Email: "keep@x.com", Phone: "+1 555", SourceProvider: "hubspot"},
	}}

	e := testEngine(st, &staticCreds{}, hub)
	summary, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	require.Len(t, st.updates["c1"], 1)
	fields := st.updates["c1"][0]
	assert.Contains(t, fields, "phone")
	assert.NotContains(t, fields, "company")
	assert.NotContains(t, fields, "status")
	assert.NotContains(t, fields, "email")
	assert.Equal(t, "Kept Co", st.leads["c1"].Company)
	assert.Equal(t, model.LeadStatusWarm, st.leads["c1"].Status)
}

func TestReconcile_DuplicateInsertCountsAsSkipped(t *testing.T) {
	st := newMemStore()
	st.conns = []model.ProviderConnection{activeConn("t1", "hubspot")}
	st.dupOnInsert = true

	hub := &stubProvider{name: "hubspot", leads: []model.CanonicalLead{
		{ExternalID: "hs-1", Email: "race@x.com", SourceProvider: "hubspot"},
	}}

	e := testEngine(st, &staticCreds{}, hub)
	summary, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Imported)
	assert.Equal(t, 1, summary.Skipped)
}

func TestReconcile_RecordFailureDoesNotSinkBatch(t *testing.T) {
	st := newMemStore()
	st.conns = []model.ProviderConnection{activeConn("t1", "hubspot")}
	st.failFindMatch = true

	hub := &stubProvider{name: "hubspot", leads: []model.CanonicalLead{
		{ExternalID: "hs-1", Email: "a@x.com", SourceProvider: "hubspot"},
		{ExternalID: "hs-2", Email: "b@x.com", SourceProvider: "hubspot"},
	}}

	e := testEngine(st, &staticCreds{}, hub)
	summary, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)

	// Both candidates fail at the match step but the run itself completes.
	assert.Equal(t, 0, summary.Imported)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 2, summary.Total)
}

func TestReconcile_UnknownProviderIgnored(t *testing.T) {
	st := newMemStore()
	st.conns = []model.ProviderConnection{activeConn("t1", "dynamics")}

	e := testEngine(st, &staticCreds{})
	summary, err := e.Reconcile(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, summary.ProviderFailures)
}
