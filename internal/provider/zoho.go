package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-sync/internal/model"
)

// Zoho adapts the Zoho CRM v2 Leads API. Pagination is page/per_page; one
// page per pass starting at page 1. Connections may carry an api_domain for
// region-specific instances.
type Zoho struct {
	baseURL string
	api     *apiClient
}

// NewZoho creates the Zoho adapter.
func NewZoho(baseURL string, timeout time.Duration, rps float64) *Zoho {
	return &Zoho{
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     newAPIClient("zoho", timeout, rps),
	}
}

func (z *Zoho) Name() string { return "zoho" }

type zohoPage struct {
	Data []map[string]any `json:"data"`
	Info struct {
		MoreRecords bool `json:"more_records"`
	} `json:"info"`
}

func (z *Zoho) FetchLeads(ctx context.Context, accessToken string, creds map[string]string, page PageOptions) ([]NativeRecord, error) {
	base := z.baseURL
	if d := creds["api_domain"]; d != "" {
		base = strings.TrimRight(d, "/")
	}

	var resp zohoPage
	endpoint := fmt.Sprintf("%s/crm/v2/Leads?page=1&per_page=%d", base, page.Limit)
	headers := map[string]string{"Authorization": "Zoho-oauthtoken " + accessToken}
	if err := z.api.getJSON(ctx, endpoint, headers, &resp); err != nil {
		return nil, eris.Wrap(err, "zoho: fetch leads")
	}

	records := make([]NativeRecord, 0, len(resp.Data))
	for _, d := range resp.Data {
		records = append(records, NativeRecord(d))
	}
	return records, nil
}

func (z *Zoho) Normalize(rec NativeRecord) model.CanonicalLead {
	first := rec.Str("First_Name")
	last := rec.Str("Last_Name")
	return model.CanonicalLead{
		ExternalID:     rec.Str("id"),
		FirstName:      first,
		LastName:       last,
		FullName:       fullName(first, last, rec.Str("Full_Name")),
		Email:          rec.Str("Email"),
		Phone:          rec.Str("Phone"),
		Company:        rec.Str("Company"),
		JobTitle:       rec.Str("Designation"),
		RawStatus:      strings.ToLower(rec.Str("Lead_Status")),
		CreatedAt:      parseTime(rec.Str("Created_Time")),
		UpdatedAt:      parseTime(rec.Str("Modified_Time")),
		SourceProvider: z.Name(),
	}
}
