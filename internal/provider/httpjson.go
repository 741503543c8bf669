package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/crm-sync/internal/resilience"
)

// apiClient is the shared JSON-over-HTTP transport for the REST adapters,
// with retry on transient failures and a per-provider rate limiter.
type apiClient struct {
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	name    string
}

func newAPIClient(name string, timeout time.Duration, rps float64) *apiClient {
	c := &apiClient{
		http:  &http.Client{Timeout: timeout},
		retry: resilience.DefaultRetryConfig(),
		name:  name,
	}
	c.retry.OnRetry = resilience.RetryLogger(name, "fetch_leads")
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
	return c
}

// getJSON performs a GET with auth header, decoding the response into out.
// Transient HTTP statuses are retried; 4xx auth errors are returned as-is so
// the engine treats the provider as unavailable for the pass.
func (c *apiClient) getJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	_, err := resilience.Do(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.getOnce(ctx, url, headers, out)
	})
	return err
}

func (c *apiClient) getOnce(ctx context.Context, url string, headers map[string]string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrapf(err, "%s: rate limit", c.name)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrapf(err, "%s: build request", c.name)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s: request", c.name)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := eris.Errorf("%s: HTTP %d: %s", c.name, resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "%s: decode response", c.name)
	}
	return nil
}
