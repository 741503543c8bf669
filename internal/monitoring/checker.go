package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/crm-sync/internal/config"
)

// TenantLister supplies the set of tenants to check. The webhook server
// tracks tenants it has seen; schedulers can pin a fixed list.
type TenantLister interface {
	Tenants() []string
}

// StaticTenants is a fixed TenantLister.
type StaticTenants []string

// Tenants returns the fixed tenant list.
func (s StaticTenants) Tenants() []string { return s }

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	tenants   TenantLister
	cfg       config.MonitorConfig
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, tenants TenantLister, cfg config.MonitorConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		tenants:   tenants,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	for _, tenant := range c.tenants.Tenants() {
		snap, err := c.collector.Collect(ctx, tenant)
		if err != nil {
			log.Error("monitoring: failed to collect health",
				zap.String("tenant", tenant),
				zap.Error(err),
			)
			continue
		}

		alerts := c.alerter.Evaluate(snap)
		if len(alerts) == 0 {
			continue
		}

		sent := c.alerter.SendAlerts(ctx, alerts)
		log.Info("monitoring: health check complete",
			zap.String("tenant", tenant),
			zap.Int("alerts_triggered", len(alerts)),
			zap.Int("alerts_sent", sent),
		)
	}
}
