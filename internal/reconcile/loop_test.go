package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/crm-sync/internal/model"
)

func TestLoopGuard(t *testing.T) {
	t.Parallel()

	g := newLoopGuard([]model.SyncEdge{
		{Provider: "hubspot", ExternalID: "hs-1"},
		{Provider: "", ExternalID: "legacy-9"},
		{Provider: "zoho", ExternalID: ""},
	})

	assert.True(t, g.Reflected("hubspot", "hs-1"))
	// Provider-qualified edges do not match other providers.
	assert.False(t, g.Reflected("zoho", "hs-1"))
	// Legacy edges without provider attribution match on id alone.
	assert.True(t, g.Reflected("pipedrive", "legacy-9"))
	assert.True(t, g.Reflected("", "legacy-9"))
	// Empty external ids never match anything.
	assert.False(t, g.Reflected("zoho", ""))
	assert.False(t, g.Reflected("hubspot", "hs-2"))
}

func TestLoopGuard_Empty(t *testing.T) {
	t.Parallel()

	g := newLoopGuard(nil)
	assert.False(t, g.Reflected("hubspot", "hs-1"))
}
