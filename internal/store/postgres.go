package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-sync/internal/model"
)

// Pool abstracts the pgxpool methods the store uses, so tests can substitute
// pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                     TEXT PRIMARY KEY,
	tenant_id              TEXT NOT NULL,
	form_id                TEXT NOT NULL,
	email                  TEXT NOT NULL DEFAULT '',
	first_name             TEXT NOT NULL DEFAULT '',
	last_name              TEXT NOT NULL DEFAULT '',
	full_name              TEXT NOT NULL DEFAULT '',
	phone                  TEXT NOT NULL DEFAULT '',
	company                TEXT NOT NULL DEFAULT '',
	job_title              TEXT NOT NULL DEFAULT '',
	status                 TEXT NOT NULL DEFAULT 'new',
	origin                 TEXT NOT NULL,
	crm_id                 TEXT NOT NULL DEFAULT '',
	crm_provider           TEXT NOT NULL DEFAULT '',
	origin_crm_id          TEXT NOT NULL DEFAULT '',
	origin_crm_provider    TEXT NOT NULL DEFAULT '',
	crm_sync_status        TEXT NOT NULL DEFAULT '',
	last_synced_at         TIMESTAMPTZ,
	qualification_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	qualification_category TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS provider_connections (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	provider      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'active',
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	token_expiry  TIMESTAMPTZ,
	credentials   JSONB NOT NULL DEFAULT '{}',
	last_sync_at  TIMESTAMPTZ,
	last_error    TEXT NOT NULL DEFAULT '',
	failure_count INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS forms (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	name           TEXT NOT NULL,
	is_crm_default BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_tenant_email
	ON leads(tenant_id, email) WHERE email != '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_tenant_crm_id
	ON leads(tenant_id, crm_provider, crm_id) WHERE crm_id != '';
CREATE INDEX IF NOT EXISTS idx_leads_tenant_origin_crm_id
	ON leads(tenant_id, origin_crm_id) WHERE origin_crm_id != '';
CREATE INDEX IF NOT EXISTS idx_leads_tenant_status ON leads(tenant_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_tenant_provider
	ON provider_connections(tenant_id, provider);
CREATE UNIQUE INDEX IF NOT EXISTS idx_forms_tenant_default
	ON forms(tenant_id) WHERE is_crm_default;
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.PlatformLead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadSelectCols+` FROM leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return lead, nil
}

func (s *PostgresStore) FindMatch(ctx context.Context, tenantID, provider, email, externalID string) (*model.PlatformLead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadSelectCols+` FROM leads
		 WHERE tenant_id = $1
		   AND ((email != '' AND email = $2)
		     OR (crm_id != '' AND crm_provider = $3 AND crm_id = $4)
		     OR (origin_crm_id != '' AND origin_crm_provider = $3 AND origin_crm_id = $4))
		 LIMIT 1`,
		tenantID, email, provider, externalID)

	lead, err := scanLead(row)
	if err == nil {
		return lead, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return nil, eris.Wrap(err, "postgres: find match")
}

func (s *PostgresStore) InsertLead(ctx context.Context, lead *model.PlatformLead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO leads (id, tenant_id, form_id, email, first_name, last_name, full_name,
			phone, company, job_title, status, origin, crm_id, crm_provider,
			origin_crm_id, origin_crm_provider, crm_sync_status, last_synced_at,
			qualification_score, qualification_category, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22)`,
		lead.ID, lead.TenantID, lead.FormID, lead.Email, lead.FirstName, lead.LastName,
		lead.FullName, lead.Phone, lead.Company, lead.JobTitle, string(lead.Status),
		string(lead.Origin), lead.CRMID, lead.CRMProvider, lead.OriginCRMID,
		lead.OriginCRMProvider, string(lead.SyncStatus), lead.LastSyncedAt,
		lead.QualificationScore, lead.QualificationCategory, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return eris.Wrap(err, "postgres: insert lead")
	}
	return nil
}

func (s *PostgresStore) UpdateLeadFields(ctx context.Context, id string, fields map[string]any) error {
	setSQL, args, err := buildLeadUpdate(fields, "$")
	if err != nil {
		return err
	}
	args = append(args, id)

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET `+setSQL+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("lead not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.PlatformLead, error) {
	query := `SELECT ` + leadSelectCols + ` FROM leads WHERE tenant_id = $1`
	args := []any{filter.TenantID}

	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		query += ` AND id = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Origin != "" {
		args = append(args, string(filter.Origin))
		query += ` AND origin = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.PlatformLead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) ExportedEdges(ctx context.Context, tenantID string) ([]model.SyncEdge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT origin_crm_provider, origin_crm_id FROM leads
		 WHERE tenant_id = $1 AND origin_crm_id != ''`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: exported edges")
	}
	defer rows.Close()

	var edges []model.SyncEdge
	for rows.Next() {
		var e model.SyncEdge
		if err := rows.Scan(&e.Provider, &e.ExternalID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan edge")
		}
		edges = append(edges, e)
	}
	return edges, eris.Wrap(rows.Err(), "postgres: exported edges iterate")
}

func (s *PostgresStore) CountLeadsByOrigin(ctx context.Context, tenantID string) (map[model.LeadOrigin]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT origin, COUNT(*) FROM leads WHERE tenant_id = $1 GROUP BY origin`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count leads by origin")
	}
	defer rows.Close()

	counts := make(map[model.LeadOrigin]int)
	for rows.Next() {
		var origin string
		var n int
		if err := rows.Scan(&origin, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan origin count")
		}
		counts[model.LeadOrigin(origin)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count leads iterate")
}

func (s *PostgresStore) ListConnections(ctx context.Context, tenantID string) ([]model.ProviderConnection, error) {
	return s.queryConnections(ctx,
		`SELECT `+connectionSelectCols+` FROM provider_connections
		 WHERE tenant_id = $1 ORDER BY provider`, tenantID)
}

func (s *PostgresStore) ActiveConnections(ctx context.Context, tenantID string) ([]model.ProviderConnection, error) {
	return s.queryConnections(ctx,
		`SELECT `+connectionSelectCols+` FROM provider_connections
		 WHERE tenant_id = $1 AND status = 'active' ORDER BY provider`, tenantID)
}

func (s *PostgresStore) queryConnections(ctx context.Context, query string, args ...any) ([]model.ProviderConnection, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query connections")
	}
	defer rows.Close()

	var conns []model.ProviderConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, eris.Wrap(rows.Err(), "postgres: connections iterate")
}

func (s *PostgresStore) InsertConnection(ctx context.Context, conn *model.ProviderConnection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	credsJSON, err := json.Marshal(conn.Credentials)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal credentials")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO provider_connections (id, tenant_id, provider, status, access_token,
			refresh_token, token_expiry, credentials, last_sync_at, last_error,
			failure_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		conn.ID, conn.TenantID, conn.Provider, string(conn.Status),
		conn.Tokens.AccessToken, conn.Tokens.RefreshToken, conn.Tokens.TokenExpiry,
		string(credsJSON), conn.LastSyncAt, conn.LastError, conn.FailureCount,
		conn.CreatedAt, conn.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert connection")
}

func (s *PostgresStore) UpdateConnectionTokens(ctx context.Context, connectionID string, tokens model.OAuthTokens) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE provider_connections
		 SET access_token = $1, refresh_token = $2, token_expiry = $3,
		     last_error = '', failure_count = 0, updated_at = $4
		 WHERE id = $5`,
		tokens.AccessToken, tokens.RefreshToken, tokens.TokenExpiry,
		time.Now().UTC(), connectionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update tokens %s", connectionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("connection not found: %s", connectionID)
	}
	return nil
}

func (s *PostgresStore) MarkConnectionSynced(ctx context.Context, connectionID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE provider_connections SET last_sync_at = $1, updated_at = $2 WHERE id = $3`,
		at, time.Now().UTC(), connectionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark synced %s", connectionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("connection not found: %s", connectionID)
	}
	return nil
}

func (s *PostgresStore) RecordConnectionFailure(ctx context.Context, connectionID string, message string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`UPDATE provider_connections
		 SET last_error = $1, failure_count = failure_count + 1, updated_at = $2
		 WHERE id = $3
		 RETURNING failure_count`,
		message, time.Now().UTC(), connectionID,
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: record failure %s", connectionID)
	}
	return count, nil
}

func (s *PostgresStore) SetConnectionStatus(ctx context.Context, connectionID string, status model.ConnectionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE provider_connections SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), connectionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set status %s", connectionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("connection not found: %s", connectionID)
	}
	return nil
}

func (s *PostgresStore) FindOrCreateImportForm(ctx context.Context, tenantID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM forms WHERE tenant_id = $1 AND is_crm_default`, tenantID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return "", eris.Wrap(err, "postgres: find import form")
	}

	id = uuid.New().String()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO forms (id, tenant_id, name, is_crm_default, created_at)
		 VALUES ($1, $2, 'CRM Import', true, $3)`,
		id, tenantID, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = s.pool.QueryRow(ctx,
				`SELECT id FROM forms WHERE tenant_id = $1 AND is_crm_default`, tenantID,
			).Scan(&id)
			if err != nil {
				return "", eris.Wrap(err, "postgres: re-read import form")
			}
			return id, nil
		}
		return "", eris.Wrap(err, "postgres: create import form")
	}
	return id, nil
}
