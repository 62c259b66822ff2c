package model

import (
	"time"
)

type ProblemDifficulty string
type ComparisonMode string

const (
	DifficultyEasy   ProblemDifficulty = "easy"
	DifficultyMedium ProblemDifficulty = "medium"
	DifficultyHard   ProblemDifficulty = "hard"

	ModeExactOrder        ComparisonMode = "exact-order"
	ModeSetEquality       ComparisonMode = "set-equality"
	ModeUnorderedMultiset ComparisonMode = "unordered-multiset"
	ModeNumericTolerance  ComparisonMode = "numeric-tolerance"
)

func (d ProblemDifficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

func (m ComparisonMode) Valid() bool {
	switch m {
	case ModeExactOrder, ModeSetEquality, ModeUnorderedMultiset, ModeNumericTolerance:
		return true
	}
	return false
}

// ResourceLimits bound a single sandboxed execution.
type ResourceLimits struct {
	MaxRows        int `json:"max_rows"`
	TimeoutMs      int `json:"timeout_ms"`
	WorkMemKb      int `json:"work_mem_kb"`
	MaxResultBytes int `json:"max_result_bytes"`
}

func (l ResourceLimits) Timeout() time.Duration {
	return time.Duration(l.TimeoutMs) * time.Millisecond
}

type Problem struct {
	ID                string            `json:"id"`
	HackathonID       string            `json:"hackathon_id"`
	Title             string            `json:"title"`
	Slug              string            `json:"slug"`
	Statement         string            `json:"statement"`
	Difficulty        ProblemDifficulty `json:"difficulty"`
	Points            int               `json:"points"`
	ComparisonMode    ComparisonMode    `json:"comparison_mode"`
	StrictColumnOrder bool              `json:"strict_column_order"`
	Tolerance         float64           `json:"tolerance,omitempty"`
	Limits            ResourceLimits    `json:"limits"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	TestCases         []TestCase        `json:"test_cases,omitempty"` // Admin only view
}

// TestCase is one seed dataset of a problem together with its oracle.
type TestCase struct {
	ID         string     `json:"id"`
	ProblemID  string     `json:"problem_id"`
	Seq        int        `json:"seq"`
	SeedSchema string     `json:"seed_schema"`
	SeedData   string     `json:"seed_data"`
	Expected   ResultSpec `json:"expected"`
}

// ResultSpec is either a canonical result set or a reference query whose live output is the oracle.
type ResultSpec struct {
	Columns        []string `json:"columns,omitempty"`
	Rows           [][]any  `json:"rows,omitempty"`
	ReferenceQuery string   `json:"reference_query,omitempty"`
}

func (r ResultSpec) IsReference() bool {
	return r.ReferenceQuery != ""
}
