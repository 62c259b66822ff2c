package ranking

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"sql_arena/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func terminal(id, participant, problem string, score float64, minute int) Terminal {
	v := model.VerdictWrongAnswer
	if score > 0 {
		v = model.VerdictAccepted
	}
	return Terminal{
		SubmissionID:  id,
		HackathonID:   "h1",
		ParticipantID: participant,
		ProblemID:     problem,
		Verdict:       v,
		Score:         score,
		SubmittedAt:   t0.Add(time.Duration(minute) * time.Minute),
	}
}

func sampleLog() []Terminal {
	return []Terminal{
		terminal("s1", "alice", "p1", 0, 1),
		terminal("s2", "alice", "p1", 10, 3),
		terminal("s3", "bob", "p1", 10, 2),
		terminal("s4", "bob", "p2", 0.1, 4),
		terminal("s5", "carol", "p2", 20, 5),
		terminal("s6", "alice", "p2", 0.2, 6),
		terminal("s7", "bob", "p2", 0.3, 7),
		terminal("s8", "carol", "p1", 0, 8),
		terminal("s9", "alice", "p1", 10, 9),
		terminal("s10", "dave", "p1", 0, 10),
	}
}

func replay(log []Terminal, agg model.Aggregation) ([]model.LeaderboardEntry, []model.ProblemScore) {
	b := NewBoard("h1", agg)
	for _, t := range log {
		b.Apply(t)
	}
	return b.Entries(), b.ProblemScores()
}

func TestFoldIsOrderIndependent(t *testing.T) {
	for _, agg := range []model.Aggregation{model.AggregationBestOf, model.AggregationSumOfAttempts} {
		t.Run(string(agg), func(t *testing.T) {
			log := sampleLog()
			wantEntries, wantScores := replay(log, agg)

			r := rand.New(rand.NewSource(42))
			for trial := 0; trial < 200; trial++ {
				perm := make([]Terminal, len(log))
				copy(perm, log)
				r.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
				// redeliveries must not change anything either
				perm = append(perm, perm[r.Intn(len(perm))], perm[r.Intn(len(perm))])

				gotEntries, gotScores := replay(perm, agg)
				require.Equal(t, wantEntries, gotEntries, fmt.Sprintf("trial %d", trial))
				require.Equal(t, wantScores, gotScores, fmt.Sprintf("trial %d", trial))
			}
		})
	}
}

func TestBestOfRanking(t *testing.T) {
	entries, _ := replay(sampleLog(), model.AggregationBestOf)
	require.Len(t, entries, 4)

	// carol 20 (at 5), bob 10.3 , alice 10.2, dave 0
	assert.Equal(t, "carol", entries[0].ParticipantID)
	assert.Equal(t, 20.0, entries[0].TotalScore)
	assert.Equal(t, "bob", entries[1].ParticipantID)
	assert.Equal(t, 10.3, entries[1].TotalScore)
	assert.Equal(t, "alice", entries[2].ParticipantID)
	assert.Equal(t, 10.2, entries[2].TotalScore)
	assert.Equal(t, 2, entries[2].SolvedCount)
	assert.Equal(t, "dave", entries[3].ParticipantID)
	assert.Nil(t, entries[3].LastUpdateTime)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
	}
}

func TestBestOfKeepsEarliestTimeForEqualScore(t *testing.T) {
	_, scores := replay(sampleLog(), model.AggregationBestOf)
	for _, ps := range scores {
		if ps.ParticipantID == "alice" && ps.ProblemID == "p1" {
			assert.Equal(t, 10.0, ps.BestScore)
			assert.Equal(t, t0.Add(3*time.Minute), *ps.BestAt)
			assert.Equal(t, 20.0, ps.SumScore)
			return
		}
	}
	t.Fatal("alice/p1 missing")
}

func TestSumOfAttemptsRanking(t *testing.T) {
	entries, _ := replay(sampleLog(), model.AggregationSumOfAttempts)

	// alice 10+10+0.2 = 20.2 beats carol 20
	assert.Equal(t, "alice", entries[0].ParticipantID)
	assert.Equal(t, 20.2, entries[0].TotalScore)
	assert.Equal(t, "carol", entries[1].ParticipantID)
}

func TestTieBrokenByReachTimeThenParticipant(t *testing.T) {
	log := []Terminal{
		terminal("a", "zed", "p1", 10, 1),
		terminal("b", "amy", "p1", 10, 2),
		terminal("c", "bea", "p1", 10, 2),
	}
	entries, _ := replay(log, model.AggregationBestOf)
	ids := []string{entries[0].ParticipantID, entries[1].ParticipantID, entries[2].ParticipantID}
	assert.Equal(t, []string{"zed", "amy", "bea"}, ids)
}

func TestLaterEqualScoreDoesNotMoveReachTime(t *testing.T) {
	b := NewBoard("h1", model.AggregationBestOf)
	b.Apply(terminal("late", "amy", "p1", 10, 30))
	b.Apply(terminal("early", "amy", "p1", 10, 5))
	assert.False(t, b.Apply(terminal("early", "amy", "p1", 10, 5)))

	entries := b.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, t0.Add(5*time.Minute), *entries[0].LastUpdateTime)
	assert.Equal(t, []string{"early", "late"}, b.AppliedIDs())
}

func TestEntryCountsAttemptsAndSuccessRate(t *testing.T) {
	b := NewBoard("h1", model.AggregationBestOf)
	b.Apply(terminal("s1", "amy", "p1", 0, 1))
	b.Apply(terminal("s2", "amy", "p1", 10, 2))
	b.Apply(terminal("s3", "amy", "p2", 0, 3))
	b.Apply(terminal("s4", "bea", "p3", 0, 4))
	b.Apply(terminal("s2", "amy", "p1", 10, 2))

	entries := b.Entries()
	require.Len(t, entries, 2)
	amy, bea := entries[0], entries[1]
	require.Equal(t, "amy", amy.ParticipantID)
	assert.Equal(t, 1, amy.SolvedCount)
	assert.Equal(t, 2, amy.AttemptedCount)
	assert.Equal(t, 3, amy.TotalSubmissions)
	assert.Equal(t, 50.0, amy.SuccessRate)

	assert.Equal(t, 1, bea.AttemptedCount)
	assert.Equal(t, 1, bea.TotalSubmissions)
	assert.Equal(t, 0.0, bea.SuccessRate)
}

func TestSuccessRateRoundsToTwoDecimals(t *testing.T) {
	scores := []model.ProblemScore{
		{ProblemID: "p1", Submissions: 1, Solved: true},
		{ProblemID: "p2", Submissions: 2},
		{ProblemID: "p3", Submissions: 4},
	}
	e := Entry("h1", "amy", scores, model.AggregationBestOf)
	assert.Equal(t, 33.33, e.SuccessRate)
	assert.Equal(t, 7, e.TotalSubmissions)
}
