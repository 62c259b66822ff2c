package model

import "time"

type Verdict string

const (
	VerdictPending          Verdict = "pending"
	VerdictAccepted         Verdict = "accepted"
	VerdictWrongAnswer      Verdict = "wrong_answer"
	VerdictRuntimeError     Verdict = "runtime_error"
	VerdictTimeout          Verdict = "timeout"
	VerdictResourceExceeded Verdict = "resource_exceeded"
)

func (v Verdict) IsTerminal() bool {
	switch v {
	case VerdictAccepted, VerdictWrongAnswer, VerdictRuntimeError, VerdictTimeout, VerdictResourceExceeded:
		return true
	}
	return false
}

type Submission struct {
	ID              string     `json:"id"`
	HackathonID     string     `json:"hackathon_id"`
	ProblemID       string     `json:"problem_id"`
	ParticipantID   string     `json:"participant_id"`
	Query           string     `json:"query"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	Verdict         Verdict    `json:"verdict"`
	Score           float64    `json:"score"`
	ExecutionTimeMs *int64     `json:"execution_time_ms,omitempty"`
	ResultDigest    *string    `json:"result_digest,omitempty"`
	Feedback        *string    `json:"feedback,omitempty"`
	FeedbackDetail  *string    `json:"feedback_detail,omitempty"` // admins only
	FailedTest      *int       `json:"failed_test,omitempty"`
	AttemptNumber   *int       `json:"attempt_number,omitempty"`
	JudgeAttempts   int        `json:"judge_attempts"`
	JudgedAt        *time.Time `json:"judged_at,omitempty"`
}

// Judgement is the single terminal write a submission ever receives.
type Judgement struct {
	Verdict         Verdict
	Score           float64
	ExecutionTimeMs int64
	ResultDigest    string
	Feedback        string
	FeedbackDetail  string
	FailedTest      *int
	AttemptNumber   int
	JudgedAt        time.Time
}
