package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-sync/internal/model"
)

// hubspotProperties are the contact properties requested from the CRM API.
var hubspotProperties = []string{
	"firstname", "lastname", "email", "phone", "company", "jobtitle",
	"hs_lead_status", "createdate", "lastmodifieddate",
}

// HubSpot adapts the HubSpot CRM v3 contacts API. Pagination is
// cursor-based: the `after` token from the previous page's paging block.
type HubSpot struct {
	baseURL string
	api     *apiClient
}

// NewHubSpot creates the HubSpot adapter.
func NewHubSpot(baseURL string, timeout time.Duration, rps float64) *HubSpot {
	return &HubSpot{
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     newAPIClient("hubspot", timeout, rps),
	}
}

func (h *HubSpot) Name() string { return "hubspot" }

type hubspotPage struct {
	Results []struct {
		ID         string            `json:"id"`
		Properties map[string]string `json:"properties"`
		CreatedAt  string            `json:"createdAt"`
		UpdatedAt  string            `json:"updatedAt"`
	} `json:"results"`
	Paging struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (h *HubSpot) FetchLeads(ctx context.Context, accessToken string, creds map[string]string, page PageOptions) ([]NativeRecord, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", page.Limit))
	q.Set("properties", strings.Join(hubspotProperties, ","))

	var resp hubspotPage
	endpoint := h.baseURL + "/crm/v3/objects/contacts?" + q.Encode()
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	if err := h.api.getJSON(ctx, endpoint, headers, &resp); err != nil {
		return nil, eris.Wrap(err, "hubspot: fetch contacts")
	}

	records := make([]NativeRecord, 0, len(resp.Results))
	for _, r := range resp.Results {
		props := make(map[string]any, len(r.Properties))
		for k, v := range r.Properties {
			props[k] = v
		}
		records = append(records, NativeRecord{
			"id":         r.ID,
			"properties": props,
			"createdAt":  r.CreatedAt,
			"updatedAt":  r.UpdatedAt,
		})
	}
	return records, nil
}

func (h *HubSpot) Normalize(rec NativeRecord) model.CanonicalLead {
	first := rec.Str("properties", "firstname")
	last := rec.Str("properties", "lastname")
	return model.CanonicalLead{
		ExternalID:     rec.Str("id"),
		FirstName:      first,
		LastName:       last,
		FullName:       fullName(first, last, ""),
		Email:          rec.Str("properties", "email"),
		Phone:          rec.Str("properties", "phone"),
		Company:        rec.Str("properties", "company"),
		JobTitle:       rec.Str("properties", "jobtitle"),
		RawStatus:      strings.ToLower(rec.Str("properties", "hs_lead_status")),
		CreatedAt:      parseTime(rec.Str("createdAt")),
		UpdatedAt:      parseTime(rec.Str("updatedAt")),
		SourceProvider: h.Name(),
	}
}
