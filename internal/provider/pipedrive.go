package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-sync/internal/model"
)

// Pipedrive adapts the Pipedrive v1 persons API. Pagination is
// start/limit; one page per pass starting at 0. Connections may carry an
// api_domain overriding the configured base URL.
type Pipedrive struct {
	baseURL string
	api     *apiClient
}

// NewPipedrive creates the Pipedrive adapter.
func NewPipedrive(baseURL string, timeout time.Duration, rps float64) *Pipedrive {
	return &Pipedrive{
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     newAPIClient("pipedrive", timeout, rps),
	}
}

func (p *Pipedrive) Name() string { return "pipedrive" }

type pipedrivePage struct {
	Success bool `json:"success"`
	Data    []struct {
		ID    int    `json:"id"`
		Name  string `json:"name"`
		Email []struct {
			Value   string `json:"value"`
			Primary bool   `json:"primary"`
		} `json:"email"`
		Phone []struct {
			Value   string `json:"value"`
			Primary bool   `json:"primary"`
		} `json:"phone"`
		OrgName  string `json:"org_name"`
		JobTitle string `json:"job_title"`
		Label    string `json:"label_text"`
		AddTime  string `json:"add_time"`
		UpdTime  string `json:"update_time"`
	} `json:"data"`
}

func (p *Pipedrive) FetchLeads(ctx context.Context, accessToken string, creds map[string]string, page PageOptions) ([]NativeRecord, error) {
	base := p.baseURL
	if d := creds["api_domain"]; d != "" {
		base = strings.TrimRight(d, "/")
	}

	var resp pipedrivePage
	endpoint := fmt.Sprintf("%s/v1/persons?start=0&limit=%d", base, page.Limit)
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	if err := p.api.getJSON(ctx, endpoint, headers, &resp); err != nil {
		return nil, eris.Wrap(err, "pipedrive: fetch persons")
	}
	if !resp.Success {
		return nil, eris.New("pipedrive: API reported failure")
	}

	records := make([]NativeRecord, 0, len(resp.Data))
	for _, d := range resp.Data {
		email, phone := "", ""
		for _, e := range d.Email {
			if email == "" || e.Primary {
				email = e.Value
			}
		}
		for _, ph := range d.Phone {
			if phone == "" || ph.Primary {
				phone = ph.Value
			}
		}
		records = append(records, NativeRecord{
			"id":          fmt.Sprintf("%d", d.ID),
			"name":        d.Name,
			"email":       email,
			"phone":       phone,
			"org_name":    d.OrgName,
			"job_title":   d.JobTitle,
			"label_text":  d.Label,
			"add_time":    d.AddTime,
			"update_time": d.UpdTime,
		})
	}
	return records, nil
}

func (p *Pipedrive) Normalize(rec NativeRecord) model.CanonicalLead {
	name := rec.Str("name")
	first, last := splitName(name)
	return model.CanonicalLead{
		ExternalID:     rec.Str("id"),
		FirstName:      first,
		LastName:       last,
		FullName:       fullName(first, last, name),
		Email:          rec.Str("email"),
		Phone:          rec.Str("phone"),
		Company:        rec.Str("org_name"),
		JobTitle:       rec.Str("job_title"),
		RawStatus:      strings.ToLower(rec.Str("label_text")),
		CreatedAt:      parseTime(rec.Str("add_time")),
		UpdatedAt:      parseTime(rec.Str("update_time")),
		SourceProvider: p.Name(),
	}
}

// splitName breaks a display name into first and last parts. Everything
// after the first space is the last name; a single token is a first name.
func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}
