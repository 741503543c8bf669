package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-sync/internal/monitoring"
)

var servePort int

// tenantTracker remembers tenants seen by the webhook endpoints so the
// background health checker knows what to watch.
type tenantTracker struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newTenantTracker() *tenantTracker {
	return &tenantTracker{seen: make(map[string]bool)}
}

func (t *tenantTracker) Track(tenant string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[tenant] = true
}

func (t *tenantTracker) Tenants() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	tenants := make([]string, 0, len(t.seen))
	for tenant := range t.seen {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for reconciliation and qualification requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tracker := newTenantTracker()
		mux := buildMux(ctx, env, tracker)

		// Background connection-health checks for every tenant the server
		// has handled.
		alerter := monitoring.NewAlerter(cfg.Monitor)
		checker := monitoring.NewChecker(env.Collector, alerter, tracker, cfg.Monitor)
		go checker.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func buildMux(ctx context.Context, env *syncEnv, tracker *tenantTracker) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /health/{tenant}", func(w http.ResponseWriter, r *http.Request) {
		tenant := r.PathValue("tenant")
		snap, err := env.Collector.Collect(r.Context(), tenant)
		if err != nil {
			zap.L().Error("health collection failed", zap.String("tenant", tenant), zap.Error(err))
			http.Error(w, `{"error":"health collection failed"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(snap)
	})

	mux.HandleFunc("POST /webhook/reconcile", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TenantID string `json:"tenant_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.TenantID == "" {
			http.Error(w, `{"error":"tenant_id is required"}`, http.StatusBadRequest)
			return
		}
		tracker.Track(req.TenantID)

		// Run reconciliation asynchronously; the pass is bounded by the
		// configured run timeout, not the request lifetime.
		go func() {
			runCtx, cancel := context.WithTimeout(ctx, cfg.Sync.RunTimeout())
			defer cancel()

			summary, err := env.Engine.Reconcile(runCtx, req.TenantID)
			if err != nil {
				zap.L().Error("webhook reconciliation failed",
					zap.String("tenant", req.TenantID),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("webhook reconciliation complete",
				zap.String("tenant", req.TenantID),
				zap.Int("imported", summary.Imported),
				zap.Int("updated", summary.Updated),
				zap.Int("skipped", summary.Skipped),
			)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "accepted",
			"tenant": req.TenantID,
		})
	})

	mux.HandleFunc("POST /webhook/qualify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TenantID string   `json:"tenant_id"`
			LeadIDs  []string `json:"lead_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.TenantID == "" {
			http.Error(w, `{"error":"tenant_id is required"}`, http.StatusBadRequest)
			return
		}
		if len(req.LeadIDs) == 0 {
			http.Error(w, `{"error":"lead_ids is required"}`, http.StatusBadRequest)
			return
		}
		tracker.Track(req.TenantID)

		result, err := env.Qualifier.QualifyBatch(r.Context(), req.TenantID, req.LeadIDs)
		if err != nil {
			zap.L().Error("webhook qualification failed",
				zap.String("tenant", req.TenantID),
				zap.Error(err),
			)
			http.Error(w, `{"error":"qualification failed"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(result)
	})

	return mux
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
