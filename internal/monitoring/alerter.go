package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-sync/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertConnectionInactive AlertType = "connection_inactive"
	AlertConnectionFailing  AlertType = "connection_failing"
	AlertConnectionStale    AlertType = "connection_stale"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	TenantID  string         `json:"tenant_id"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a HealthSnapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitorConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitorConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *HealthSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, conn := range snap.Connections {
		if conn.Status != "active" {
			alerts = append(alerts, Alert{
				Type:     AlertConnectionInactive,
				Severity: "high",
				TenantID: snap.TenantID,
				Message: fmt.Sprintf(
					"%s connection is inactive after %d consecutive failures; re-authorization required",
					conn.Provider, conn.FailureCount,
				),
				Details: map[string]any{
					"provider":      conn.Provider,
					"failure_count": conn.FailureCount,
					"last_error":    conn.LastError,
				},
				Timestamp: now,
			})
			continue
		}

		if t := a.cfg.FailureCountThreshold; t > 0 && conn.FailureCount >= t {
			alerts = append(alerts, Alert{
				Type:     AlertConnectionFailing,
				Severity: "medium",
				TenantID: snap.TenantID,
				Message: fmt.Sprintf(
					"%s connection has failed %d times in a row (threshold %d)",
					conn.Provider, conn.FailureCount, t,
				),
				Details: map[string]any{
					"provider":      conn.Provider,
					"failure_count": conn.FailureCount,
					"last_error":    conn.LastError,
				},
				Timestamp: now,
			})
			continue
		}

		if conn.Stale {
			alerts = append(alerts, Alert{
				Type:     AlertConnectionStale,
				Severity: "low",
				TenantID: snap.TenantID,
				Message: fmt.Sprintf(
					"%s connection has not synced in over %dh",
					conn.Provider, a.cfg.StaleAfterHours,
				),
				Details: map[string]any{
					"provider":     conn.Provider,
					"last_sync_at": conn.LastSyncAt,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
