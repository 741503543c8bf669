package reconcile

import "github.com/sells-group/crm-sync/internal/model"

// loopGuard recognizes inbound candidates that are reflections of the
// platform's own data: a lead the platform pushed out to a CRM must not be
// re-imported as a new duplicate when that CRM hands it back.
//
// The rule is directional and explicit: a candidate is a reflection exactly
// when an exported-to sync edge already points at its external id. Edges
// recorded before provider attribution existed carry no provider name and
// match on external id alone.
type loopGuard struct {
	byEdge map[model.SyncEdge]bool
	byID   map[string]bool
}

func newLoopGuard(edges []model.SyncEdge) *loopGuard {
	g := &loopGuard{
		byEdge: make(map[model.SyncEdge]bool, len(edges)),
		byID:   make(map[string]bool),
	}
	for _, e := range edges {
		if e.ExternalID == "" {
			continue
		}
		if e.Provider == "" {
			g.byID[e.ExternalID] = true
			continue
		}
		g.byEdge[e] = true
	}
	return g
}

// Reflected reports whether a candidate from the given provider with the
// given external id mirrors a lead the platform already exported.
func (g *loopGuard) Reflected(provider, externalID string) bool {
	if externalID == "" {
		return false
	}
	return g.byEdge[model.SyncEdge{Provider: provider, ExternalID: externalID}] || g.byID[externalID]
}
