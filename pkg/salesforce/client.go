// Package salesforce provides token-authenticated REST API access to a
// Salesforce instance for lead sync.
package salesforce

import (
	"context"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Salesforce operations the sync engine uses.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
}

// Connector builds a Client from a connection's access token and instance
// URL. Indirected so tests can substitute a fake without a live org.
type Connector func(instanceURL, accessToken string) (Client, error)

// ClientOption configures the Salesforce client.
type ClientOption func(*sfClient)

// WithRateLimit sets a per-second rate limit for Salesforce API calls.
// A burst equal to the integer portion of rps is allowed.
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// sfClient wraps the go-salesforce/v3 Salesforce struct.
//
// NOTE: The underlying go-salesforce/v3 library does not accept
// context.Context, so the ctx parameter only governs the rate limiter wait.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient builds a Client from an instance URL and a valid access token.
func NewClient(instanceURL, accessToken string, opts ...ClientOption) (Client, error) {
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:      instanceURL,
		AccessToken: accessToken,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: init")
	}

	c := &sfClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *sfClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *sfClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sf: rate limit")
	}
	if err := c.sf.Query(soql, out); err != nil {
		return eris.Wrap(err, "sf: query")
	}
	return nil
}
