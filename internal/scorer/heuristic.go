package scorer

import (
	"context"
	"strings"

	"github.com/sells-group/crm-sync/internal/model"
)

// Heuristic is a local fallback scorer used when no scoring service is
// configured. It grades on profile completeness and inbound status.
type Heuristic struct{}

// NewHeuristic creates the fallback scorer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Score grades the lead locally. It never fails.
func (h *Heuristic) Score(ctx context.Context, lead model.PlatformLead) (*Result, error) {
	var score float64

	if lead.Email != "" {
		score += 25
		// Company mailboxes outrank free-mail ones.
		if !freeMailbox(lead.Email) {
			score += 10
		}
	}
	if lead.Phone != "" {
		score += 15
	}
	if lead.Company != "" {
		score += 20
	}
	if lead.JobTitle != "" {
		score += 10
	}

	switch lead.Status {
	case model.LeadStatusHot:
		score += 20
	case model.LeadStatusWarm:
		score += 10
	}

	category := "low"
	switch {
	case score >= 70:
		category = "high"
	case score >= 40:
		category = "medium"
	}

	return &Result{Score: score, Category: category}, nil
}

func freeMailbox(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return true
	}
	switch strings.ToLower(email[at+1:]) {
	case "gmail.com", "yahoo.com", "hotmail.com", "outlook.com", "aol.com", "icloud.com":
		return true
	}
	return false
}
