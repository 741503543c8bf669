// Package scorer consumes the external qualification scorer as a black box.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-sync/internal/model"
	"github.com/sells-group/crm-sync/internal/resilience"
)

// Result is the scorer's verdict for one lead.
type Result struct {
	Score    float64 `json:"score"`
	Category string  `json:"category"`
}

// Scorer scores a single lead, or fails.
type Scorer interface {
	Score(ctx context.Context, lead model.PlatformLead) (*Result, error)
}

// HTTPScorer calls a scoring service over HTTP. The scoring heuristics live
// entirely on the remote side.
type HTTPScorer struct {
	url    string
	apiKey string
	http   *http.Client
	retry  resilience.RetryConfig
}

// NewHTTPScorer creates a scorer client for the given endpoint.
func NewHTTPScorer(url, apiKey string, timeout time.Duration) *HTTPScorer {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("scorer", "score")
	return &HTTPScorer{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
		retry:  retry,
	}
}

type scoreRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Company  string `json:"company"`
	JobTitle string `json:"job_title"`
	Status   string `json:"status"`
}

// Score submits the lead to the scoring service and returns its verdict.
func (s *HTTPScorer) Score(ctx context.Context, lead model.PlatformLead) (*Result, error) {
	payload, err := json.Marshal(scoreRequest{
		Email:    lead.Email,
		FullName: lead.FullName,
		Company:  lead.Company,
		JobTitle: lead.JobTitle,
		Status:   string(lead.Status),
	})
	if err != nil {
		return nil, eris.Wrap(err, "scorer: marshal request")
	}

	return resilience.Do(ctx, s.retry, func(ctx context.Context) (*Result, error) {
		return s.scoreOnce(ctx, payload)
	})
}

func (s *HTTPScorer) scoreOnce(ctx context.Context, payload []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "scorer: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := eris.Errorf("scorer: HTTP %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, eris.Wrap(err, "scorer: decode response")
	}
	return &result, nil
}
