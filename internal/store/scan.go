package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-sync/internal/model"
)

// scannable covers both database/sql and pgx row types.
type scannable interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

func scanLead(row scannable) (*model.PlatformLead, error) {
	var l model.PlatformLead
	var status, origin, syncStatus string
	var lastSynced sql.NullTime

	err := row.Scan(&l.ID, &l.TenantID, &l.FormID, &l.Email, &l.FirstName, &l.LastName,
		&l.FullName, &l.Phone, &l.Company, &l.JobTitle, &status, &origin,
		&l.CRMID, &l.CRMProvider, &l.OriginCRMID, &l.OriginCRMProvider,
		&syncStatus, &lastSynced, &l.QualificationScore, &l.QualificationCategory,
		&l.CreatedAt, &l.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan lead")
	}

	l.Status = model.LeadStatus(status)
	l.Origin = model.LeadOrigin(origin)
	l.SyncStatus = model.SyncStatus(syncStatus)
	if lastSynced.Valid {
		t := lastSynced.Time
		l.LastSyncedAt = &t
	}
	return &l, nil
}

func scanConnection(row scannable) (*model.ProviderConnection, error) {
	var c model.ProviderConnection
	var status, credsJSON string
	var expiry, lastSync sql.NullTime

	err := row.Scan(&c.ID, &c.TenantID, &c.Provider, &status,
		&c.Tokens.AccessToken, &c.Tokens.RefreshToken, &expiry, &credsJSON,
		&lastSync, &c.LastError, &c.FailureCount, &c.CreatedAt, &c.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan connection")
	}

	c.Status = model.ConnectionStatus(status)
	if expiry.Valid {
		c.Tokens.TokenExpiry = expiry.Time
	}
	if lastSync.Valid {
		t := lastSync.Time
		c.LastSyncAt = &t
	}
	if credsJSON != "" {
		if err := json.Unmarshal([]byte(credsJSON), &c.Credentials); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal credentials")
		}
	}
	return &c, nil
}

// buildLeadUpdate renders a SET clause from a whitelisted field map, using
// "?" placeholders for SQLite or numbered "$" placeholders for Postgres.
// Keys are sorted so the statement text is deterministic. An updated_at
// stamp is appended when the caller did not set one.
func buildLeadUpdate(fields map[string]any, placeholder string) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, eris.New("store: no fields to update")
	}

	cols := make([]string, 0, len(fields)+1)
	for col := range fields {
		if !leadColumns[col] {
			return "", nil, eris.Errorf("store: column not updateable: %s", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	if _, ok := fields["updated_at"]; !ok {
		cols = append(cols, "updated_at")
		fields["updated_at"] = time.Now().UTC()
	}

	var sb strings.Builder
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(col)
		if placeholder == "?" {
			sb.WriteString(" = ?")
		} else {
			sb.WriteString(" = $")
			sb.WriteString(strconv.Itoa(i + 1))
		}
		args = append(args, fields[col])
	}
	return sb.String(), args, nil
}
