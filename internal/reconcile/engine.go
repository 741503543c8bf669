// Package reconcile implements the lead reconciliation engine: it gathers
// canonical leads from a tenant's active provider connections, cross-
// references them against the lead store, and applies the
// create/update/skip decision per record.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-sync/internal/config"
	"github.com/sells-group/crm-sync/internal/model"
	"github.com/sells-group/crm-sync/internal/provider"
	"github.com/sells-group/crm-sync/internal/resilience"
	"github.com/sells-group/crm-sync/internal/store"
)

// CredentialSource supplies usable access tokens, refreshing stale ones.
type CredentialSource interface {
	EnsureFreshToken(ctx context.Context, conn *model.ProviderConnection) (string, error)
}

// Engine is the reconciliation orchestrator for one process. Safe for
// concurrent use across tenants; runs for the same tenant are serialized.
type Engine struct {
	store    store.Store
	creds    CredentialSource
	registry *provider.Registry
	cfg      config.SyncConfig

	mu          sync.Mutex
	tenantLocks map[string]*sync.Mutex

	now func() time.Time // injectable for testing
}

// NewEngine creates a reconciliation engine.
func NewEngine(st store.Store, creds CredentialSource, registry *provider.Registry, cfg config.SyncConfig) *Engine {
	return &Engine{
		store:       st,
		creds:       creds,
		registry:    registry,
		cfg:         cfg,
		tenantLocks: make(map[string]*sync.Mutex),
		now:         time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (e *Engine) WithNow(fn func() time.Time) *Engine {
	e.now = fn
	return e
}

func (e *Engine) tenantLock(tenantID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.tenantLocks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		e.tenantLocks[tenantID] = l
	}
	return l
}

// Reconcile runs one reconciliation pass for the tenant. Provider- and
// record-level failures are recovered locally and reflected only in the
// summary; only run-level failures (store or form catalog unreachable)
// return an error.
func (e *Engine) Reconcile(ctx context.Context, tenantID string) (*model.Summary, error) {
	// Two concurrent runs for one tenant must not both create a record for
	// the same unmatched candidate. The store's unique indexes are the
	// backstop; this lock keeps runs within one process from interleaving
	// at all.
	lock := e.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	log := zap.L().With(zap.String("tenant", tenantID))

	conns, err := e.store.ActiveConnections(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: load connections for %s", tenantID)
	}
	if len(conns) == 0 {
		// Nothing to do is a normal outcome, not an error.
		log.Info("no active provider connections")
		return &model.Summary{}, nil
	}

	formID, err := e.store.FindOrCreateImportForm(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: import form for %s", tenantID)
	}

	candidates, failures := e.gather(ctx, log, conns)

	edges, err := e.store.ExportedEdges(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: exported edges for %s", tenantID)
	}
	guard := newLoopGuard(edges)

	results := resilience.ForEachIsolated(ctx, candidates, func(ctx context.Context, cand model.CanonicalLead) (resilience.Outcome, error) {
		return e.apply(ctx, tenantID, formID, guard, cand)
	})
	for _, r := range results {
		if r.Err != nil {
			log.Warn("candidate failed",
				zap.String("provider", r.Item.SourceProvider),
				zap.String("external_id", r.Item.ExternalID),
				zap.Error(r.Err),
			)
		}
	}

	tally := resilience.Reduce(results)
	summary := &model.Summary{
		Imported:         tally.Created,
		Updated:          tally.Updated,
		Skipped:          tally.Skipped + tally.Failed,
		Total:            len(candidates),
		ProviderFailures: failures,
	}
	// Candidates abandoned at deadline expiry count as skipped; merged work
	// is retained and the run is re-runnable.
	summary.Skipped += len(candidates) - len(results)

	log.Info("reconciliation complete",
		zap.Int("imported", summary.Imported),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("total", summary.Total),
		zap.Strings("provider_failures", failures),
	)
	return summary, nil
}

// gather fetches and normalizes one page of leads from each connection,
// isolating per-provider failure: one CRM's outage only empties its own
// candidates for this pass. Fetches run with bounded parallelism; the
// candidate list preserves connection order, then fetch order.
func (e *Engine) gather(ctx context.Context, log *zap.Logger, conns []model.ProviderConnection) ([]model.CanonicalLead, []string) {
	perConn := make([][]model.CanonicalLead, len(conns))
	failed := make([]bool, len(conns))

	limit := e.cfg.MaxConcurrentFetch
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := range conns {
		g.Go(func() error {
			conn := &conns[i]
			leads, err := e.fetchConnection(gctx, conn)
			if err != nil {
				failed[i] = true
				log.Warn("provider unavailable for this pass",
					zap.String("provider", conn.Provider),
					zap.Error(err),
				)
				return nil // provider failure never aborts the run
			}
			perConn[i] = leads
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers always return nil

	var candidates []model.CanonicalLead
	var failures []string
	for i, conn := range conns {
		if failed[i] {
			failures = append(failures, conn.Provider)
			continue
		}
		candidates = append(candidates, perConn[i]...)
	}
	return candidates, failures
}

// fetchConnection refreshes credentials, fetches one page, and normalizes
// it. An unknown provider identifier is a no-op, not an error.
func (e *Engine) fetchConnection(ctx context.Context, conn *model.ProviderConnection) ([]model.CanonicalLead, error) {
	p := e.registry.Get(conn.Provider)
	if p == nil {
		zap.L().Debug("skipping unsupported provider", zap.String("provider", conn.Provider))
		return nil, nil
	}

	token, err := e.creds.EnsureFreshToken(ctx, conn)
	if err != nil {
		return nil, err
	}

	pageSize := e.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	records, err := p.FetchLeads(ctx, token, conn.Credentials, provider.PageOptions{Limit: pageSize})
	if err != nil {
		if _, rerr := e.store.RecordConnectionFailure(ctx, conn.ID, err.Error()); rerr != nil {
			zap.L().Warn("failed to record fetch failure", zap.Error(rerr))
		}
		return nil, err
	}

	leads := make([]model.CanonicalLead, 0, len(records))
	for _, rec := range records {
		leads = append(leads, p.Normalize(rec))
	}

	if err := e.store.MarkConnectionSynced(ctx, conn.ID, e.now().UTC()); err != nil {
		zap.L().Warn("failed to stamp connection sync time", zap.Error(err))
	}
	return leads, nil
}

// apply makes the create/update/skip decision for one candidate.
func (e *Engine) apply(ctx context.Context, tenantID, formID string, guard *loopGuard, cand model.CanonicalLead) (resilience.Outcome, error) {
	if guard.Reflected(cand.SourceProvider, cand.ExternalID) {
		return resilience.OutcomeSkipped, nil
	}

	existing, err := e.store.FindMatch(ctx, tenantID, cand.SourceProvider, cand.Email, cand.ExternalID)
	if err != nil {
		return resilience.OutcomeFailed, err
	}

	if existing == nil {
		return e.create(ctx, tenantID, formID, cand)
	}
	if existing.Origin == model.OriginPlatform {
		// Platform-authored data is authoritative.
		return resilience.OutcomeSkipped, nil
	}
	return e.update(ctx, existing, cand)
}

func (e *Engine) create(ctx context.Context, tenantID, formID string, cand model.CanonicalLead) (resilience.Outcome, error) {
	now := e.now().UTC()
	lead := &model.PlatformLead{
		TenantID:     tenantID,
		FormID:       formID,
		Email:        cand.Email,
		FirstName:    cand.FirstName,
		LastName:     cand.LastName,
		FullName:     cand.FullName,
		Phone:        cand.Phone,
		Company:      cand.Company,
		JobTitle:     cand.JobTitle,
		Status:       model.MapInboundStatus(cand.RawStatus),
		Origin:       model.OriginCRM,
		CRMID:        cand.ExternalID,
		CRMProvider:  cand.SourceProvider,
		SyncStatus:   model.SyncStatusSynced,
		LastSyncedAt: &now,
	}

	if err := e.store.InsertLead(ctx, lead); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// A concurrent run won the create race; the record exists.
			return resilience.OutcomeSkipped, nil
		}
		return resilience.OutcomeFailed, err
	}
	return resilience.OutcomeCreated, nil
}

// update overwrites mutable display fields only when the candidate supplies
// a non-empty value; an empty inbound field never blanks a stored one.
func (e *Engine) update(ctx context.Context, existing *model.PlatformLead, cand model.CanonicalLead) (resilience.Outcome, error) {
	fields := map[string]any{
		"crm_sync_status": string(model.SyncStatusSynced),
		"last_synced_at":  e.now().UTC(),
	}
	setIfPresent(fields, "first_name", cand.FirstName)
	setIfPresent(fields, "last_name", cand.LastName)
	setIfPresent(fields, "full_name", cand.FullName)
	setIfPresent(fields, "phone", cand.Phone)
	setIfPresent(fields, "company", cand.Company)
	setIfPresent(fields, "job_title", cand.JobTitle)
	if cand.RawStatus != "" {
		fields["status"] = string(model.MapInboundStatus(cand.RawStatus))
	}

	if err := e.store.UpdateLeadFields(ctx, existing.ID, fields); err != nil {
		return resilience.OutcomeFailed, err
	}
	return resilience.OutcomeUpdated, nil
}

func setIfPresent(fields map[string]any, col, val string) {
	if val != "" {
		fields[col] = val
	}
}
