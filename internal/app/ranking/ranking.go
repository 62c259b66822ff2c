// Package ranking folds terminal submissions into leaderboard state.
//
// Fold is commutative and, together with an applied-submission ledger, idempotent: any delivery
// order of the same terminal submissions yields the same ProblemScores, entries and ranking.
package ranking

import (
	"math"
	"sort"
	"time"

	"sql_arena/internal/domain/model"
)

// Terminal is the part of a judged submission the leaderboard consumes.
type Terminal struct {
	SubmissionID  string
	HackathonID   string
	ParticipantID string
	ProblemID     string
	Verdict       model.Verdict
	Score         float64
	SubmittedAt   time.Time
}

func FromSubmission(s model.Submission) Terminal {
	return Terminal{
		SubmissionID:  s.ID,
		HackathonID:   s.HackathonID,
		ParticipantID: s.ParticipantID,
		ProblemID:     s.ProblemID,
		Verdict:       s.Verdict,
		Score:         s.Score,
		SubmittedAt:   s.SubmittedAt,
	}
}

// Points are kept on a micro-point grid so float sums do not depend on addition order.
func roundPoints(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Fold merges t into the participant's score for t's problem. The caller guarantees each
// submission is folded at most once.
func Fold(ps model.ProblemScore, t Terminal) model.ProblemScore {
	ps.HackathonID, ps.ParticipantID, ps.ProblemID = t.HackathonID, t.ParticipantID, t.ProblemID
	score := roundPoints(t.Score)
	at := t.SubmittedAt

	// best: max score, earliest submission among equals
	if ps.BestAt == nil || score > ps.BestScore || (score == ps.BestScore && at.Before(*ps.BestAt)) {
		ps.BestScore = score
		ps.BestAt = &at
	}
	// sum: addition and max are order independent
	ps.SumScore = roundPoints(ps.SumScore + score)
	if score > 0 && (ps.SumAt == nil || at.After(*ps.SumAt)) {
		ps.SumAt = &at
	}
	ps.Solved = ps.Solved || t.Verdict == model.VerdictAccepted
	ps.Submissions++
	return ps
}

// Entry derives a participant's leaderboard entry from all of their problem scores.
func Entry(hackathonID, participantID string, scores []model.ProblemScore, agg model.Aggregation) model.LeaderboardEntry {
	sorted := make([]model.ProblemScore, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProblemID < sorted[j].ProblemID })

	e := model.LeaderboardEntry{HackathonID: hackathonID, ParticipantID: participantID}
	for _, ps := range sorted {
		value, at := ps.BestScore, ps.BestAt
		if agg == model.AggregationSumOfAttempts {
			value, at = ps.SumScore, ps.SumAt
		}
		e.TotalScore = roundPoints(e.TotalScore + value)
		if ps.BestScore > e.BestScore {
			e.BestScore = ps.BestScore
		}
		if ps.Solved {
			e.SolvedCount++
		}
		if ps.Submissions > 0 {
			e.AttemptedCount++
		}
		e.TotalSubmissions += ps.Submissions
		// the total was reached when its last contributing part was
		if value > 0 && at != nil && (e.LastUpdateTime == nil || at.After(*e.LastUpdateTime)) {
			t := *at
			e.LastUpdateTime = &t
		}
	}
	if e.AttemptedCount > 0 {
		e.SuccessRate = math.Round(float64(e.SolvedCount)/float64(e.AttemptedCount)*10000) / 100
	}
	return e
}

// Rank orders entries by total score descending, then by when that total was reached, then by
// participant id, and numbers them from 1.
func Rank(entries []model.LeaderboardEntry) []model.LeaderboardEntry {
	out := make([]model.LeaderboardEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		switch {
		case a.LastUpdateTime != nil && b.LastUpdateTime == nil:
			return true
		case a.LastUpdateTime == nil && b.LastUpdateTime != nil:
			return false
		case a.LastUpdateTime != nil && !a.LastUpdateTime.Equal(*b.LastUpdateTime):
			return a.LastUpdateTime.Before(*b.LastUpdateTime)
		}
		return a.ParticipantID < b.ParticipantID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
