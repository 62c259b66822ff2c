package model

import "time"

type HackathonStatus string

const (
	HackathonDraft  HackathonStatus = "draft"
	HackathonActive HackathonStatus = "active"
	HackathonClosed HackathonStatus = "closed"
)

type ScoringPolicyKind string

const (
	PolicyFixed ScoringPolicyKind = "fixed"
	PolicyDecay ScoringPolicyKind = "decay"
)

// Aggregation decides how a participant's attempts on one problem add up.
type Aggregation string

const (
	AggregationBestOf        Aggregation = "best_of"
	AggregationSumOfAttempts Aggregation = "sum_of_attempts"
)

type ScoringConfig struct {
	Policy            ScoringPolicyKind `json:"policy"`
	Aggregation       Aggregation       `json:"aggregation"`
	PenaltyPerAttempt float64           `json:"penalty_per_attempt,omitempty"` // points lost per earlier attempt (decay)
	MinScoreRatio     float64           `json:"min_score_ratio,omitempty"`     // floor as a fraction of the problem's points (decay)
}

type Hackathon struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Description string          `json:"description"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     time.Time       `json:"end_time"`
	Status      HackathonStatus `json:"status"`
	Scoring     ScoringConfig   `json:"scoring"`
	CreatedByID *string         `json:"created_by_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AcceptsSubmissions reports whether the hackathon is active and now falls inside its window.
func (h *Hackathon) AcceptsSubmissions(now time.Time) bool {
	return h.Status == HackathonActive && !now.Before(h.StartTime) && now.Before(h.EndTime)
}
