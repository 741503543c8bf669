package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-sync/pkg/salesforce"
)

// fakeSFClient serves canned lead rows for any SOQL query.
type fakeSFClient struct {
	soql  string
	leads []sfLead
	err   error
}

func (f *fakeSFClient) Query(_ context.Context, soql string, out any) error {
	f.soql = soql
	if f.err != nil {
		return f.err
	}
	*(out.(*[]sfLead)) = f.leads
	return nil
}

func TestSalesforceFetchLeads(t *testing.T) {
	fake := &fakeSFClient{
		leads: []sfLead{
			{
				Id: "00Q1", FirstName: "Dana", LastName: "Wu",
				Email: "dana@acme.com", Company: "Acme", Title: "CEO",
				Status: "Working - Contacted", CreatedDate: "2026-02-01T12:00:00.000-0700",
			},
		},
	}

	var gotInstance, gotToken string
	s := NewSalesforce(10).WithConnector(func(instanceURL, accessToken string) (salesforce.Client, error) {
		gotInstance = instanceURL
		gotToken = accessToken
		return fake, nil
	})

	records, err := s.FetchLeads(context.Background(), "tok-sf",
		map[string]string{"instance_url": "https://acme.my.salesforce.com"}, PageOptions{Limit: 25})
	require.NoError(t, err)

	assert.Equal(t, "https://acme.my.salesforce.com", gotInstance)
	assert.Equal(t, "tok-sf", gotToken)
	assert.True(t, strings.Contains(fake.soql, "FROM Lead"))
	assert.True(t, strings.Contains(fake.soql, "LIMIT 25"))
	require.Len(t, records, 1)
	assert.Equal(t, "00Q1", records[0].Str("Id"))
}

func TestSalesforceFetchLeads_MissingInstanceURL(t *testing.T) {
	s := NewSalesforce(10).WithConnector(func(string, string) (salesforce.Client, error) {
		t.Fatal("connector must not be called without an instance URL")
		return nil, nil
	})

	_, err := s.FetchLeads(context.Background(), "tok", nil, PageOptions{Limit: 10})
	assert.Error(t, err)
}

func TestSalesforceFetchLeads_QueryError(t *testing.T) {
	fake := &fakeSFClient{err: errors.New("INVALID_SESSION_ID")}
	s := NewSalesforce(10).WithConnector(func(string, string) (salesforce.Client, error) {
		return fake, nil
	})

	_, err := s.FetchLeads(context.Background(), "tok",
		map[string]string{"instance_url": "https://acme.my.salesforce.com"}, PageOptions{Limit: 10})
	assert.Error(t, err)
}

func TestSalesforceNormalize(t *testing.T) {
	t.Parallel()

	s := NewSalesforce(10)
	lead := s.Normalize(NativeRecord{
		"Id":        "00Q1",
		"FirstName": "Dana",
		"LastName":  "Wu",
		"Email":     "dana@acme.com",
		"Company":   "Acme",
		"Title":     "CEO",
		"Status":    "Qualified",
	})

	assert.Equal(t, "00Q1", lead.ExternalID)
	assert.Equal(t, "Dana Wu", lead.FullName)
	assert.Equal(t, "CEO", lead.JobTitle)
	assert.Equal(t, "qualified", lead.RawStatus)
	assert.Equal(t, "salesforce", lead.SourceProvider)
}
