// Package scoring turns a judged submission into points. Policies are pure and chosen per hackathon.
package scoring

import (
	"fmt"
	"math"
	"time"

	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
)

var difficultyPoints = map[model.ProblemDifficulty]float64{
	model.DifficultyEasy:   10,
	model.DifficultyMedium: 20,
	model.DifficultyHard:   30,
}

type Input struct {
	Verdict       model.Verdict
	ExecutionTime time.Duration
	AttemptNumber int // 1-based
	Difficulty    model.ProblemDifficulty
	Points        int // 0 means the difficulty default
}

// BasePoints is what an accepted first attempt is worth.
func (in Input) BasePoints() float64 {
	if in.Points > 0 {
		return float64(in.Points)
	}
	if p, ok := difficultyPoints[in.Difficulty]; ok {
		return p
	}
	return difficultyPoints[model.DifficultyEasy]
}

type Policy interface {
	Score(in Input) float64
	Aggregation() model.Aggregation
}

// Fixed awards the full points for an accepted verdict and nothing otherwise.
type Fixed struct {
	Agg model.Aggregation
}

func (p Fixed) Score(in Input) float64 {
	if in.Verdict != model.VerdictAccepted {
		return 0
	}
	return in.BasePoints()
}

func (p Fixed) Aggregation() model.Aggregation { return p.Agg }

// Decay subtracts a penalty for every earlier attempt, never going below MinRatio of the points.
type Decay struct {
	Agg               model.Aggregation
	PenaltyPerAttempt float64
	MinRatio          float64
}

func (p Decay) Score(in Input) float64 {
	if in.Verdict != model.VerdictAccepted {
		return 0
	}
	base := in.BasePoints()
	earlier := in.AttemptNumber - 1
	if earlier < 0 {
		earlier = 0
	}
	score := base - p.PenaltyPerAttempt*float64(earlier)
	return math.Max(score, base*p.MinRatio)
}

func (p Decay) Aggregation() model.Aggregation { return p.Agg }

// FromConfig builds the policy a hackathon is configured with. The zero config is Fixed + best_of.
func FromConfig(cfg model.ScoringConfig) (Policy, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	agg := cfg.Aggregation
	if agg == "" {
		agg = model.AggregationBestOf
	}
	switch cfg.Policy {
	case model.PolicyDecay:
		return Decay{Agg: agg, PenaltyPerAttempt: cfg.PenaltyPerAttempt, MinRatio: cfg.MinScoreRatio}, nil
	default:
		return Fixed{Agg: agg}, nil
	}
}

func Validate(cfg model.ScoringConfig) error {
	switch cfg.Policy {
	case "", model.PolicyFixed, model.PolicyDecay:
	default:
		return fmt.Errorf("unknown scoring policy %q: %w", cfg.Policy, common.ErrValidation)
	}
	switch cfg.Aggregation {
	case "", model.AggregationBestOf, model.AggregationSumOfAttempts:
	default:
		return fmt.Errorf("unknown aggregation %q: %w", cfg.Aggregation, common.ErrValidation)
	}
	if cfg.PenaltyPerAttempt < 0 {
		return fmt.Errorf("penalty_per_attempt must not be negative: %w", common.ErrValidation)
	}
	if cfg.MinScoreRatio < 0 || cfg.MinScoreRatio > 1 {
		return fmt.Errorf("min_score_ratio must be within [0, 1]: %w", common.ErrValidation)
	}
	return nil
}
