package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crm-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	last_synced_at         DATETIME,
	qualification_score    REAL NOT NULL DEFAULT 0,
	qualification_category TEXT NOT NULL DEFAULT '',
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS provider_connections (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	provider      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'active',
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	token_expiry  DATETIME,
	credentials   TEXT NOT NULL DEFAULT '{}',
	last_sync_at  DATETIME,
	last_error    TEXT NOT NULL DEFAULT '',
	failure_count INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS forms (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	name           TEXT NOT NULL,
	is_crm_default INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
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
	ON forms(tenant_id) WHERE is_crm_default = 1;
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const leadSelectCols = `id, tenant_id, form_id, email, first_name, last_name, full_name,
	phone, company, job_title, status, origin, crm_id, crm_provider,
	origin_crm_id, origin_crm_provider, crm_sync_status, last_synced_at,
	qualification_score, qualification_category, created_at, updated_at`

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.PlatformLead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadSelectCols+` FROM leads WHERE id = ?`, id)
	return scanLead(row)
}

func (s *SQLiteStore) FindMatch(ctx context.Context, tenantID, provider, email, externalID string) (*model.PlatformLead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadSelectCols+` FROM leads
		 WHERE tenant_id = ?
		   AND ((email != '' AND email = ?)
		     OR (crm_id != '' AND crm_provider = ? AND crm_id = ?)
		     OR (origin_crm_id != '' AND origin_crm_provider = ? AND origin_crm_id = ?))
		 LIMIT 1`,
		tenantID, email, provider, externalID, provider, externalID)

	lead, err := scanLead(row)
	if err == nil {
		return lead, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

func (s *SQLiteStore) InsertLead(ctx context.Context, lead *model.PlatformLead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, tenant_id, form_id, email, first_name, last_name, full_name,
			phone, company, job_title, status, origin, crm_id, crm_provider,
			origin_crm_id, origin_crm_provider, crm_sync_status, last_synced_at,
			qualification_score, qualification_category, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.TenantID, lead.FormID, lead.Email, lead.FirstName, lead.LastName,
		lead.FullName, lead.Phone, lead.Company, lead.JobTitle, string(lead.Status),
		string(lead.Origin), lead.CRMID, lead.CRMProvider, lead.OriginCRMID,
		lead.OriginCRMProvider, string(lead.SyncStatus), lead.LastSyncedAt,
		lead.QualificationScore, lead.QualificationCategory, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return eris.Wrap(err, "sqlite: insert lead")
	}
	return nil
}

func (s *SQLiteStore) UpdateLeadFields(ctx context.Context, id string, fields map[string]any) error {
	setSQL, args, err := buildLeadUpdate(fields, "?")
	if err != nil {
		return err
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE leads SET `+setSQL+` WHERE id = ?`, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.PlatformLead, error) {
	query := `SELECT ` + leadSelectCols + ` FROM leads WHERE tenant_id = ?`
	args := []any{filter.TenantID}

	if len(filter.IDs) > 0 {
		query += ` AND id IN (?` + strings.Repeat(",?", len(filter.IDs)-1) + `)`
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Origin != "" {
		query += ` AND origin = ?`
		args = append(args, string(filter.Origin))
	}
	query += ` ORDER BY created_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
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
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) ExportedEdges(ctx context.Context, tenantID string) ([]model.SyncEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT origin_crm_provider, origin_crm_id FROM leads
		 WHERE tenant_id = ? AND origin_crm_id != ''`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: exported edges")
	}
	defer rows.Close()

	var edges []model.SyncEdge
	for rows.Next() {
		var e model.SyncEdge
		if err := rows.Scan(&e.Provider, &e.ExternalID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan edge")
		}
		edges = append(edges, e)
	}
	return edges, eris.Wrap(rows.Err(), "sqlite: exported edges iterate")
}

func (s *SQLiteStore) CountLeadsByOrigin(ctx context.Context, tenantID string) (map[model.LeadOrigin]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT origin, COUNT(*) FROM leads WHERE tenant_id = ? GROUP BY origin`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count leads by origin")
	}
	defer rows.Close()

	counts := make(map[model.LeadOrigin]int)
	for rows.Next() {
		var origin string
		var n int
		if err := rows.Scan(&origin, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan origin count")
		}
		counts[model.LeadOrigin(origin)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count leads iterate")
}

const connectionSelectCols = `id, tenant_id, provider, status, access_token, refresh_token,
	token_expiry, credentials, last_sync_at, last_error, failure_count, created_at, updated_at`

func (s *SQLiteStore) ListConnections(ctx context.Context, tenantID string) ([]model.ProviderConnection, error) {
	return s.queryConnections(ctx,
		`SELECT `+connectionSelectCols+` FROM provider_connections
		 WHERE tenant_id = ? ORDER BY provider`, tenantID)
}

func (s *SQLiteStore) ActiveConnections(ctx context.Context, tenantID string) ([]model.ProviderConnection, error) {
	return s.queryConnections(ctx,
		`SELECT `+connectionSelectCols+` FROM provider_connections
		 WHERE tenant_id = ? AND status = 'active' ORDER BY provider`, tenantID)
}

func (s *SQLiteStore) queryConnections(ctx context.Context, query string, args ...any) ([]model.ProviderConnection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query connections")
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
	return conns, eris.Wrap(rows.Err(), "sqlite: connections iterate")
}

func (s *SQLiteStore) InsertConnection(ctx context.Context, conn *model.ProviderConnection) error {
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
		return eris.Wrap(err, "sqlite: marshal credentials")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO provider_connections (id, tenant_id, provider, status, access_token,
			refresh_token, token_expiry, credentials, last_sync_at, last_error,
			failure_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.TenantID, conn.Provider, string(conn.Status),
		conn.Tokens.AccessToken, conn.Tokens.RefreshToken, conn.Tokens.TokenExpiry,
		string(credsJSON), conn.LastSyncAt, conn.LastError, conn.FailureCount,
		conn.CreatedAt, conn.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert connection")
}

func (s *SQLiteStore) UpdateConnectionTokens(ctx context.Context, connectionID string, tokens model.OAuthTokens) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE provider_connections
		 SET access_token = ?, refresh_token = ?, token_expiry = ?,
		     last_error = '', failure_count = 0, updated_at = ?
		 WHERE id = ?`,
		tokens.AccessToken, tokens.RefreshToken, tokens.TokenExpiry,
		time.Now().UTC(), connectionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update tokens %s", connectionID)
	}
	return checkRowsAffected(res, "connection", connectionID)
}

func (s *SQLiteStore) MarkConnectionSynced(ctx context.Context, connectionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE provider_connections SET last_sync_at = ?, updated_at = ? WHERE id = ?`,
		at, time.Now().UTC(), connectionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark synced %s", connectionID)
	}
	return checkRowsAffected(res, "connection", connectionID)
}

func (s *SQLiteStore) RecordConnectionFailure(ctx context.Context, connectionID string, message string) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE provider_connections
		 SET last_error = ?, failure_count = failure_count + 1, updated_at = ?
		 WHERE id = ?`,
		message, time.Now().UTC(), connectionID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: record failure %s", connectionID)
	}

	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT failure_count FROM provider_connections WHERE id = ?`, connectionID,
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: read failure count %s", connectionID)
	}
	return count, nil
}

func (s *SQLiteStore) SetConnectionStatus(ctx context.Context, connectionID string, status model.ConnectionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE provider_connections SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), connectionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set status %s", connectionID)
	}
	return checkRowsAffected(res, "connection", connectionID)
}

func (s *SQLiteStore) FindOrCreateImportForm(ctx context.Context, tenantID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM forms WHERE tenant_id = ? AND is_crm_default = 1`, tenantID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", eris.Wrap(err, "sqlite: find import form")
	}

	id = uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO forms (id, tenant_id, name, is_crm_default, created_at)
		 VALUES (?, ?, 'CRM Import', 1, ?)`,
		id, tenantID, time.Now().UTC(),
	)
	if err != nil {
		// A concurrent run may have created it between the lookup and the
		// insert; the partial unique index makes the re-read authoritative.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			err = s.db.QueryRowContext(ctx,
				`SELECT id FROM forms WHERE tenant_id = ? AND is_crm_default = 1`, tenantID,
			).Scan(&id)
			if err != nil {
				return "", eris.Wrap(err, "sqlite: re-read import form")
			}
			return id, nil
		}
		return "", eris.Wrap(err, "sqlite: create import form")
	}
	return id, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
