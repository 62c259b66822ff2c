package model

import "time"

type LeaderboardEntry struct {
	Rank          int     `json:"rank"`
	HackathonID   string  `json:"hackathon_id"`
	ParticipantID string  `json:"participant_id"`
	DisplayName   string  `json:"display_name,omitempty"`
	BestScore     float64 `json:"best_score"`
	TotalScore    float64 `json:"total_score"`
	SolvedCount   int     `json:"solved_count"`
	// AttemptedCount is the number of problems with at least one judged submission.
	AttemptedCount   int        `json:"attempted_count"`
	TotalSubmissions int        `json:"total_submissions"`
	SuccessRate      float64    `json:"success_rate"`               // solved / attempted, in percent
	LastUpdateTime   *time.Time `json:"last_update_time,omitempty"` // when the current total was first reached
}

// ProblemScore is the per-(participant, problem) fold the entry is derived from.
type ProblemScore struct {
	HackathonID   string     `json:"hackathon_id"`
	ParticipantID string     `json:"participant_id"`
	ProblemID     string     `json:"problem_id"`
	BestScore     float64    `json:"best_score"`
	BestAt        *time.Time `json:"best_at,omitempty"`
	SumScore      float64    `json:"sum_score"`
	SumAt         *time.Time `json:"sum_at,omitempty"`
	Solved        bool       `json:"solved"`
	Submissions   int        `json:"submissions"`
}
