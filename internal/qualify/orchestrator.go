// Package qualify implements the batch qualification orchestrator: it sends
// selected leads to the external scoring service and persists the score and
// category on each lead.
package qualify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/crm-sync/internal/config"
	"github.com/sells-group/crm-sync/internal/model"
	"github.com/sells-group/crm-sync/internal/resilience"
	"github.com/sells-group/crm-sync/internal/scorer"
	"github.com/sells-group/crm-sync/internal/store"
)

// ScoredLead is the per-lead outcome of a successful scoring call.
type ScoredLead struct {
	LeadID   string  `json:"lead_id"`
	Score    float64 `json:"score"`
	Category string  `json:"category"`
}

// BatchResult reports what one qualification batch did.
type BatchResult struct {
	Scored  int          `json:"scored"`
	Failed  int          `json:"failed"`
	Skipped int          `json:"skipped"`
	Total   int          `json:"total"`
	Results []ScoredLead `json:"results,omitempty"`
	Errors  []string     `json:"errors,omitempty"`
}

// Orchestrator scores leads in bounded batches. Per-lead failures are
// isolated; one scoring error never aborts the batch.
type Orchestrator struct {
	store   store.LeadStore
	scorer  scorer.Scorer
	cfg     config.QualifyConfig
	limiter *rate.Limiter
	now     func() time.Time
}

// NewOrchestrator creates a qualification orchestrator.
func NewOrchestrator(st store.LeadStore, sc scorer.Scorer, cfg config.QualifyConfig) *Orchestrator {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 1
	}
	return &Orchestrator{
		store:   st,
		scorer:  sc,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		now:     time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (o *Orchestrator) WithNow(fn func() time.Time) *Orchestrator {
	o.now = fn
	return o
}

// QualifyBatch scores the leads identified by ids for the tenant. The batch
// is capped at the configured maximum; ids beyond the cap are reported as
// skipped. Leads already qualified are skipped rather than re-scored.
func (o *Orchestrator) QualifyBatch(ctx context.Context, tenantID string, ids []string) (*BatchResult, error) {
	log := zap.L().With(zap.String("tenant", tenantID))

	capped := ids
	overflow := 0
	if max := o.cfg.MaxBatchSize; max > 0 && len(capped) > max {
		overflow = len(capped) - max
		capped = capped[:max]
		log.Warn("batch exceeds maximum size, truncating",
			zap.Int("requested", len(ids)),
			zap.Int("max", max),
		)
	}

	leads, err := o.store.ListLeads(ctx, store.LeadFilter{TenantID: tenantID, IDs: capped})
	if err != nil {
		return nil, eris.Wrapf(err, "qualify: load leads for %s", tenantID)
	}

	// ForEachIsolated runs sequentially, so the score map needs no lock.
	scores := make(map[string]*scorer.Result, len(leads))
	results := resilience.ForEachIsolated(ctx, leads, func(ctx context.Context, lead model.PlatformLead) (resilience.Outcome, error) {
		return o.scoreLead(ctx, lead, scores)
	})

	res := &BatchResult{Total: len(ids)}
	for _, r := range results {
		switch {
		case r.Err != nil:
			res.Failed++
			res.Errors = append(res.Errors, r.Item.ID+": "+r.Err.Error())
			log.Warn("lead scoring failed", zap.String("lead", r.Item.ID), zap.Error(r.Err))
		case r.Outcome == resilience.OutcomeSkipped:
			res.Skipped++
		default:
			res.Scored++
			if sc := scores[r.Item.ID]; sc != nil {
				res.Results = append(res.Results, ScoredLead{
					LeadID:   r.Item.ID,
					Score:    sc.Score,
					Category: sc.Category,
				})
			}
		}
	}
	// Unknown ids, the truncated overflow, and leads abandoned at deadline
	// expiry all count as skipped.
	res.Skipped += overflow + (len(capped) - len(results))

	log.Info("qualification batch complete",
		zap.Int("scored", res.Scored),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("total", res.Total),
	)
	return res, nil
}

func (o *Orchestrator) scoreLead(ctx context.Context, lead model.PlatformLead, scores map[string]*scorer.Result) (resilience.Outcome, error) {
	if lead.Status == model.LeadStatusQualified {
		return resilience.OutcomeSkipped, nil
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return resilience.OutcomeFailed, err
	}

	result, err := o.scorer.Score(ctx, lead)
	if err != nil {
		return resilience.OutcomeFailed, err
	}

	fields := map[string]any{
		"qualification_score":    result.Score,
		"qualification_category": result.Category,
	}
	if err := o.store.UpdateLeadFields(ctx, lead.ID, fields); err != nil {
		return resilience.OutcomeFailed, err
	}
	scores[lead.ID] = result
	return resilience.OutcomeUpdated, nil
}
