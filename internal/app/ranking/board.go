package ranking

import (
	"sort"

	"sql_arena/internal/domain/model"
)

type scoreKey struct {
	participantID string
	problemID     string
}

// Board is an in-memory leaderboard for one hackathon, used to replay the submission log.
type Board struct {
	hackathonID string
	agg         model.Aggregation
	applied     map[string]struct{}
	scores      map[scoreKey]model.ProblemScore
}

func NewBoard(hackathonID string, agg model.Aggregation) *Board {
	return &Board{
		hackathonID: hackathonID,
		agg:         agg,
		applied:     make(map[string]struct{}),
		scores:      make(map[scoreKey]model.ProblemScore),
	}
}

// Apply folds t once; a repeated submission id is ignored and reported as false.
func (b *Board) Apply(t Terminal) bool {
	if _, seen := b.applied[t.SubmissionID]; seen {
		return false
	}
	b.applied[t.SubmissionID] = struct{}{}
	k := scoreKey{t.ParticipantID, t.ProblemID}
	b.scores[k] = Fold(b.scores[k], t)
	return true
}

func (b *Board) AppliedIDs() []string {
	ids := make([]string, 0, len(b.applied))
	for id := range b.applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *Board) ProblemScores() []model.ProblemScore {
	out := make([]model.ProblemScore, 0, len(b.scores))
	for _, ps := range b.scores {
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParticipantID != out[j].ParticipantID {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].ProblemID < out[j].ProblemID
	})
	return out
}

// Entries returns the ranked leaderboard.
func (b *Board) Entries() []model.LeaderboardEntry {
	byParticipant := make(map[string][]model.ProblemScore)
	for k, ps := range b.scores {
		byParticipant[k.participantID] = append(byParticipant[k.participantID], ps)
	}
	entries := make([]model.LeaderboardEntry, 0, len(byParticipant))
	for pid, scores := range byParticipant {
		entries = append(entries, Entry(b.hackathonID, pid, scores, b.agg))
	}
	return Rank(entries)
}
