package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-sync/internal/model"
	"github.com/sells-group/crm-sync/pkg/salesforce"
)

// Salesforce adapts the Salesforce REST API through pkg/salesforce.
// Pagination is SOQL LIMIT/OFFSET; one page per pass starting at offset 0.
// The connection's addressing info must carry the instance URL.
type Salesforce struct {
	connect salesforce.Connector
	rps     float64
}

// NewSalesforce creates the Salesforce adapter with the default connector.
func NewSalesforce(rps float64) *Salesforce {
	return &Salesforce{
		connect: func(instanceURL, accessToken string) (salesforce.Client, error) {
			return salesforce.NewClient(instanceURL, accessToken, salesforce.WithRateLimit(rps))
		},
		rps: rps,
	}
}

// WithConnector substitutes the client constructor (used by tests).
func (s *Salesforce) WithConnector(c salesforce.Connector) *Salesforce {
	s.connect = c
	return s
}

func (s *Salesforce) Name() string { return "salesforce" }

// sfLead mirrors the queried Lead SObject fields.
type sfLead struct {
	Id               string `json:"Id"`
	FirstName        string `json:"FirstName"`
	LastName         string `json:"LastName"`
	Email            string `json:"Email"`
	Phone            string `json:"Phone"`
	Company          string `json:"Company"`
	Title            string `json:"Title"`
	Status           string `json:"Status"`
	CreatedDate      string `json:"CreatedDate"`
	LastModifiedDate string `json:"LastModifiedDate"`
}

func (s *Salesforce) FetchLeads(ctx context.Context, accessToken string, creds map[string]string, page PageOptions) ([]NativeRecord, error) {
	instanceURL := creds["instance_url"]
	if instanceURL == "" {
		return nil, eris.New("salesforce: connection missing instance_url")
	}

	client, err := s.connect(instanceURL, accessToken)
	if err != nil {
		return nil, eris.Wrap(err, "salesforce: connect")
	}

	soql := fmt.Sprintf(
		`SELECT Id, FirstName, LastName, Email, Phone, Company, Title, Status,
			CreatedDate, LastModifiedDate
		 FROM Lead ORDER BY CreatedDate LIMIT %d`, page.Limit)

	var leads []sfLead
	if err := client.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, "salesforce: query leads")
	}

	records := make([]NativeRecord, 0, len(leads))
	for _, l := range leads {
		records = append(records, NativeRecord{
			"Id":               l.Id,
			"FirstName":        l.FirstName,
			"LastName":         l.LastName,
			"Email":            l.Email,
			"Phone":            l.Phone,
			"Company":          l.Company,
			"Title":            l.Title,
			"Status":           l.Status,
			"CreatedDate":      l.CreatedDate,
			"LastModifiedDate": l.LastModifiedDate,
		})
	}
	return records, nil
}

func (s *Salesforce) Normalize(rec NativeRecord) model.CanonicalLead {
	first := rec.Str("FirstName")
	last := rec.Str("LastName")
	return model.CanonicalLead{
		ExternalID:     rec.Str("Id"),
		FirstName:      first,
		LastName:       last,
		FullName:       fullName(first, last, ""),
		Email:          rec.Str("Email"),
		Phone:          rec.Str("Phone"),
		Company:        rec.Str("Company"),
		JobTitle:       rec.Str("Title"),
		RawStatus:      strings.ToLower(rec.Str("Status")),
		CreatedAt:      parseTime(rec.Str("CreatedDate")),
		UpdatedAt:      parseTime(rec.Str("LastModifiedDate")),
		SourceProvider: s.Name(),
	}
}
