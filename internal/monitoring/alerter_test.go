package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-sync/internal/config"
)

func testSnapshot(conns ...ConnectionHealth) *HealthSnapshot {
	return &HealthSnapshot{
		TenantID:    "t1",
		Connections: conns,
		CollectedAt: time.Now().UTC(),
	}
}

func TestEvaluate_HealthySnapshot(t *testing.T) {
	t.Parallel()

	a := NewAlerter(config.MonitorConfig{FailureCountThreshold: 3, StaleAfterHours: 24})
	alerts := a.Evaluate(testSnapshot(
		ConnectionHealth{Provider: "hubspot", Status: "active"},
	))
	assert.Empty(t, alerts)
}

func TestEvaluate_InactiveConnection(t *testing.T) {
	t.Parallel()

	a := NewAlerter(config.MonitorConfig{FailureCountThreshold: 3})
	alerts := a.Evaluate(testSnapshot(
		ConnectionHealth{Provider: "salesforce", Status: "inactive", FailureCount: 5, LastError: "invalid_grant"},
	))

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertConnectionInactive, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Equal(t, "t1", alerts[0].TenantID)
	assert.Contains(t, alerts[0].Message, "salesforce")
	assert.Equal(t, "invalid_grant", alerts[0].Details["last_error"])
}

func TestEvaluate_FailingConnection(t *testing.T) {
	t.Parallel()

	a := NewAlerter(config.MonitorConfig{FailureCountThreshold: 3})

	// Below threshold, no alert.
	alerts := a.Evaluate(testSnapshot(
		ConnectionHealth{Provider: "zoho", Status: "active", FailureCount: 2},
	))
	assert.Empty(t, alerts)

	// At threshold.
	alerts = a.Evaluate(testSnapshot(
		ConnectionHealth{Provider: "zoho", Status: "active", FailureCount: 3},
	))
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertConnectionFailing, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestEvaluate_FailureThresholdDisabled(t *testing.T) {
	t.Parallel()

	a := NewAlerter(config.MonitorConfig{FailureCountThreshold: 0})
	alerts := a.Evaluate(testSnapshot(
		ConnectionHealth{Provider: "zoho", Status: "active", FailureCount: 99},
	))
	assert.Empty(t, alerts)
}

func TestEvaluate_StaleConnection(t *testing.T) {
	t.Parallel()

	a := NewAlerter(config.MonitorConfig{StaleAfterHours: 24})
	alerts := a.Evaluate(testSnapshot(
		ConnectionHealth{Provider: "pipedrive", Status: "active", Stale: true},
	))

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertConnectionStale, alerts[0].Type)
	assert.Equal(t, "low", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "24h")
}

func TestEvaluate_InactiveTakesPrecedence(t *testing.T) {
	t.Parallel()

	// An inactive connection that is also stale and over the failure
	// threshold raises only the inactive alert.
	a := NewAlerter(config.MonitorConfig{FailureCountThreshold: 3, StaleAfterHours: 24})
	alerts := a.Evaluate(testSnapshot(
		ConnectionHealth{Provider: "hubspot", Status: "inactive", FailureCount: 10, Stale: true},
	))

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertConnectionInactive, alerts[0].Type)
}

func TestSendAlerts(t *testing.T) {
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var a Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		received = append(received, a)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitorConfig{WebhookURL: srv.URL})
	alerts := []Alert{
		{Type: AlertConnectionInactive, Severity: "high", TenantID: "t1", Message: "down"},
		{Type: AlertConnectionStale, Severity: "low", TenantID: "t1", Message: "stale"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	require.Len(t, received, 2)
	assert.Equal(t, AlertConnectionInactive, received[0].Type)
}

func TestSendAlerts_WebhookFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitorConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertConnectionInactive},
		{Type: AlertConnectionStale},
	})

	// First delivery fails, second succeeds.
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, calls)
}

func TestSendAlerts_NoWebhookConfigured(t *testing.T) {
	t.Parallel()

	a := NewAlerter(config.MonitorConfig{})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertConnectionStale}}))
}
