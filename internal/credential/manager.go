// Package credential manages per-tenant, per-provider OAuth credential state
// and transparently refreshes stale access tokens before use.
package credential

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/sells-group/crm-sync/internal/config"
	"github.com/sells-group/crm-sync/internal/model"
	"github.com/sells-group/crm-sync/internal/store"
)

// Manager decides when a connection's access token is stale and exchanges
// the refresh token for a fresh pair via the provider's token endpoint.
// Token mutation is persisted only on success; refresh failure marks the
// provider unavailable for the current pass and never aborts a run.
type Manager struct {
	cfg   config.OAuthConfig
	conns store.ConnectionStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex // one refresh in flight per connection

	// now is injectable for testing.
	now func() time.Time
}

// NewManager creates a credential manager backed by the connection store.
func NewManager(cfg config.OAuthConfig, conns store.ConnectionStore) *Manager {
	return &Manager{
		cfg:   cfg,
		conns: conns,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (m *Manager) WithNow(fn func() time.Time) *Manager {
	m.now = fn
	return m
}

// connLock returns the per-connection mutex, creating it on first use.
func (m *Manager) connLock(connectionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[connectionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[connectionID] = l
	}
	return l
}

// EnsureFreshToken returns a usable access token for the connection,
// refreshing it first when the stored token has expired or is within the
// configured safety margin of expiring. The refreshed tokens are persisted
// on the connection (and mirrored into conn) before returning.
func (m *Manager) EnsureFreshToken(ctx context.Context, conn *model.ProviderConnection) (string, error) {
	lock := m.connLock(conn.ID)
	lock.Lock()
	defer lock.Unlock()

	margin := time.Duration(m.cfg.ExpirySafetyMarginSecs) * time.Second
	if conn.Tokens.AccessToken != "" && m.now().Add(margin).Before(conn.Tokens.TokenExpiry) {
		return conn.Tokens.AccessToken, nil
	}

	if conn.Tokens.RefreshToken == "" {
		return "", eris.Errorf("credential: connection %s has no refresh token", conn.ID)
	}

	oc := m.cfg.Client(conn.Provider)
	if oc == nil || oc.TokenURL == "" {
		return "", eris.Errorf("credential: no oauth client configured for provider %s", conn.Provider)
	}

	tok, err := m.exchange(ctx, oc, conn.Tokens.RefreshToken)
	if err != nil {
		m.recordFailure(ctx, conn, err)
		return "", eris.Wrapf(err, "credential: refresh %s/%s", conn.TenantID, conn.Provider)
	}

	tokens := model.OAuthTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenExpiry:  tok.Expiry,
	}
	// Some providers do not rotate the refresh token on exchange.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = conn.Tokens.RefreshToken
	}

	if err := m.conns.UpdateConnectionTokens(ctx, conn.ID, tokens); err != nil {
		return "", eris.Wrapf(err, "credential: persist tokens %s", conn.ID)
	}
	conn.Tokens = tokens

	zap.L().Debug("refreshed access token",
		zap.String("tenant", conn.TenantID),
		zap.String("provider", conn.Provider),
		zap.Time("expiry", tokens.TokenExpiry),
	)
	return tokens.AccessToken, nil
}

// exchange performs the refresh-token grant against the provider's token
// endpoint.
func (m *Manager) exchange(ctx context.Context, oc *config.OAuthClient, refreshToken string) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: oc.TokenURL},
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// recordFailure stores the refresh error on the connection and deactivates
// it once the consecutive failure count reaches the configured threshold.
func (m *Manager) recordFailure(ctx context.Context, conn *model.ProviderConnection, refreshErr error) {
	count, err := m.conns.RecordConnectionFailure(ctx, conn.ID, refreshErr.Error())
	if err != nil {
		zap.L().Warn("failed to record connection failure",
			zap.String("connection", conn.ID),
			zap.Error(err),
		)
		return
	}

	threshold := m.cfg.DeactivateAfterFailures
	if threshold > 0 && count >= threshold {
		if err := m.conns.SetConnectionStatus(ctx, conn.ID, model.ConnectionInactive); err != nil {
			zap.L().Warn("failed to deactivate connection",
				zap.String("connection", conn.ID),
				zap.Error(err),
			)
			return
		}
		zap.L().Warn("deactivated connection after repeated auth failures",
			zap.String("tenant", conn.TenantID),
			zap.String("provider", conn.Provider),
			zap.Int("failures", count),
		)
	}
}
