package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-sync/internal/credential"
	"github.com/sells-group/crm-sync/internal/monitoring"
	"github.com/sells-group/crm-sync/internal/provider"
	"github.com/sells-group/crm-sync/internal/qualify"
	"github.com/sells-group/crm-sync/internal/reconcile"
	"github.com/sells-group/crm-sync/internal/scorer"
	"github.com/sells-group/crm-sync/internal/store"
)

// syncEnv holds the initialized store, provider registry, and orchestrators
// needed by the reconcile/qualify/serve/schedule commands.
type syncEnv struct {
	Store     store.Store
	Registry  *provider.Registry
	Creds     *credential.Manager
	Engine    *reconcile.Engine
	Qualifier *qualify.Orchestrator
	Collector *monitoring.Collector
}

// Close releases resources held by the environment.
func (se *syncEnv) Close() {
	if se.Store != nil {
		_ = se.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "open postgres store")
		}
		zap.L().Info("using postgres store")
		return st, nil
	case "", "sqlite":
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "open sqlite store")
		}
		zap.L().Info("using sqlite store", zap.String("path", cfg.Store.DatabaseURL))
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv sets up the store, registers the provider adapters, and builds the
// reconciliation engine and qualification orchestrator. Callers should defer
// env.Close().
func initEnv(ctx context.Context) (*syncEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	timeout := time.Duration(cfg.Providers.TimeoutSecs) * time.Second
	rps := cfg.Providers.RequestsPerSec

	registry := provider.NewRegistry()
	registry.Register(provider.NewHubSpot(cfg.Providers.HubSpotBaseURL, timeout, rps))
	registry.Register(provider.NewSalesforce(rps))
	registry.Register(provider.NewPipedrive(cfg.Providers.PipedriveBaseURL, timeout, rps))
	registry.Register(provider.NewZoho(cfg.Providers.ZohoBaseURL, timeout, rps))
	zap.L().Info("provider registry ready", zap.Strings("providers", registry.List()))

	creds := credential.NewManager(cfg.OAuth, st)
	engine := reconcile.NewEngine(st, creds, registry, cfg.Sync)

	var sc scorer.Scorer
	if cfg.Scorer.URL != "" {
		sc = scorer.NewHTTPScorer(cfg.Scorer.URL, cfg.Scorer.APIKey, time.Duration(cfg.Scorer.TimeoutSecs)*time.Second)
	} else {
		zap.L().Debug("CRMSYNC_SCORER_URL not set, using heuristic scorer")
		sc = scorer.NewHeuristic()
	}
	qualifier := qualify.NewOrchestrator(st, sc, cfg.Qualify)

	collector := monitoring.NewCollector(st, cfg.Monitor.StaleAfterHours)

	return &syncEnv{
		Store:     st,
		Registry:  registry,
		Creds:     creds,
		Engine:    engine,
		Qualifier: qualifier,
		Collector: collector,
	}, nil
}
