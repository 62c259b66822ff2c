package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"sql_arena/internal/app/sandbox"
	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
	"sql_arena/internal/platform/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// memStore is an in-memory stand-in for every repository the services use. A single mutex makes
// each call atomic, which is all the guarded UPDATE and ON CONFLICT statements promise.
type memStore struct {
	mu           sync.Mutex
	hackathons   map[string]model.Hackathon
	problems     map[string]model.Problem
	testCases    map[string][]model.TestCase
	participants map[string]model.Participant
	submissions  map[string]model.Submission
	applied      map[string]bool
	scores       map[string]model.ProblemScore
	entries      map[string]model.LeaderboardEntry

	applyErr error
}

func newMemStore() *memStore {
	return &memStore{
		hackathons:   map[string]model.Hackathon{},
		problems:     map[string]model.Problem{},
		testCases:    map[string][]model.TestCase{},
		participants: map[string]model.Participant{},
		submissions:  map[string]model.Submission{},
		applied:      map[string]bool{},
		scores:       map[string]model.ProblemScore{},
		entries:      map[string]model.LeaderboardEntry{},
	}
}

// hackathons

func (m *memStore) CreateHackathon(_ context.Context, _ *sql.Tx, h *model.Hackathon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.hackathons {
		if other.Slug == h.Slug {
			return common.ErrConflict
		}
	}
	m.hackathons[h.ID] = *h
	return nil
}

func (m *memStore) FindHackathonByID(_ context.Context, _ *sql.Tx, id string) (*model.Hackathon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hackathons[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &h, nil
}

func (m *memStore) ListHackathons(_ context.Context, status model.HackathonStatus) ([]model.Hackathon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Hackathon
	for _, h := range m.hackathons {
		if status == "" || h.Status == status {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memStore) TransitionStatus(_ context.Context, _ *sql.Tx, id string, from, to model.HackathonStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hackathons[id]
	if !ok {
		return common.ErrNotFound
	}
	if h.Status != from {
		return common.ErrInvalidState
	}
	h.Status = to
	m.hackathons[id] = h
	return nil
}

func (m *memStore) ListExpiredActive(_ context.Context, now time.Time) ([]model.Hackathon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Hackathon
	for _, h := range m.hackathons {
		if h.Status == model.HackathonActive && !h.EndTime.After(now) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) LockHackathon(_ context.Context, _ *sql.Tx, id string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hackathons[id]; !ok {
		return common.ErrNotFound
	}
	return nil
}

// problems

func (m *memStore) CreateProblem(_ context.Context, _ *sql.Tx, p *model.Problem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *p
	stored.TestCases = nil
	m.problems[p.ID] = stored
	return nil
}

func (m *memStore) FindProblemByID(_ context.Context, id string) (*model.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.problems[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) ListProblemsByHackathon(_ context.Context, hackathonID string) ([]model.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Problem
	for _, p := range m.problems {
		if p.HackathonID == hackathonID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *memStore) UpdateProblem(_ context.Context, _ *sql.Tx, p *model.Problem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.problems[p.ID]
	if !ok {
		return common.ErrNotFound
	}
	for _, other := range m.problems {
		if other.ID != p.ID && other.HackathonID == p.HackathonID && other.Slug == p.Slug {
			return common.ErrConflict
		}
	}
	stored := *p
	stored.TestCases = nil
	stored.CreatedAt = old.CreatedAt
	m.problems[p.ID] = stored
	return nil
}

func (m *memStore) DeleteTestCases(_ context.Context, _ *sql.Tx, problemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.testCases, problemID)
	return nil
}

func (m *memStore) AddTestCasesToProblem(_ context.Context, _ *sql.Tx, problemID string, tcs []model.TestCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testCases[problemID] = append(m.testCases[problemID], tcs...)
	return nil
}

func (m *memStore) GetTestCasesByProblemID(_ context.Context, problemID string) ([]model.TestCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.TestCase(nil), m.testCases[problemID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// participants

func (m *memStore) CreateParticipant(_ context.Context, _ *sql.Tx, p *model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.participants {
		if other.HackathonID == p.HackathonID && other.UserID == p.UserID {
			return common.ErrConflict
		}
	}
	m.participants[p.ID] = *p
	return nil
}

func (m *memStore) FindParticipantByID(_ context.Context, id string) (*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) FindParticipantByUser(_ context.Context, hackathonID, userID string) (*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.HackathonID == hackathonID && p.UserID == userID {
			return &p, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memStore) LockParticipant(_ context.Context, _ *sql.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[id]; !ok {
		return common.ErrNotFound
	}
	return nil
}

// submissions

func (m *memStore) CreateSubmission(_ context.Context, _ *sql.Tx, s *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[s.ID] = *s
	return nil
}

func (m *memStore) GetSubmissionByID(_ context.Context, id string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &s, nil
}

func (m *memStore) ApplyJudgement(_ context.Context, _ *sql.Tx, id string, j model.Judgement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return false, m.applyErr
	}
	s, ok := m.submissions[id]
	if !ok || s.Verdict != model.VerdictPending {
		return false, nil
	}
	s.Verdict, s.Score = j.Verdict, j.Score
	s.ExecutionTimeMs = &j.ExecutionTimeMs
	s.ResultDigest = &j.ResultDigest
	s.Feedback = &j.Feedback
	s.FeedbackDetail = &j.FeedbackDetail
	s.FailedTest = j.FailedTest
	s.AttemptNumber = &j.AttemptNumber
	s.JudgedAt = &j.JudgedAt
	m.submissions[id] = s
	return true, nil
}

func (m *memStore) CountEarlierAttempts(_ context.Context, _ *sql.Tx, participantID, problemID string, submittedAt time.Time, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.submissions {
		if s.ParticipantID != participantID || s.ProblemID != problemID {
			continue
		}
		if s.SubmittedAt.Before(submittedAt) || (s.SubmittedAt.Equal(submittedAt) && s.ID < id) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) IncrementJudgeAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return common.ErrNotFound
	}
	s.JudgeAttempts++
	m.submissions[id] = s
	return nil
}

func (m *memStore) ListPendingSubmittedBefore(_ context.Context, before time.Time, maxAttempts, limit int) ([]model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Submission
	for _, s := range m.submissions {
		if s.Verdict == model.VerdictPending && s.SubmittedAt.Before(before) && s.JudgeAttempts < maxAttempts {
			out = append(out, s)
		}
	}
	sortSubmissions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListByParticipant(_ context.Context, participantID, problemID string) ([]model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Submission
	for _, s := range m.submissions {
		if s.ParticipantID == participantID && (problemID == "" || s.ProblemID == problemID) {
			out = append(out, s)
		}
	}
	sortSubmissions(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *memStore) ListTerminalByHackathon(_ context.Context, _ *sql.Tx, hackathonID string) ([]model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Submission
	for _, s := range m.submissions {
		if s.HackathonID == hackathonID && s.Verdict.IsTerminal() {
			out = append(out, s)
		}
	}
	sortSubmissions(out)
	return out, nil
}

func sortSubmissions(subs []model.Submission) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].SubmittedAt.Equal(subs[j].SubmittedAt) {
			return subs[i].SubmittedAt.Before(subs[j].SubmittedAt)
		}
		return subs[i].ID < subs[j].ID
	})
}

// leaderboard

func (m *memStore) MarkApplied(_ context.Context, _ *sql.Tx, hackathonID, submissionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := hackathonID + "/" + submissionID
	if m.applied[key] {
		return false, nil
	}
	m.applied[key] = true
	return true, nil
}

func (m *memStore) ListProblemScores(_ context.Context, _ *sql.Tx, hackathonID, participantID string) ([]model.ProblemScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ProblemScore
	for _, ps := range m.scores {
		if ps.HackathonID == hackathonID && ps.ParticipantID == participantID {
			out = append(out, ps)
		}
	}
	return out, nil
}

func (m *memStore) UpsertProblemScore(_ context.Context, _ *sql.Tx, ps model.ProblemScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[ps.HackathonID+"/"+ps.ParticipantID+"/"+ps.ProblemID] = ps
	return nil
}

func (m *memStore) UpsertEntry(_ context.Context, _ *sql.Tx, e model.LeaderboardEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Rank, e.DisplayName = 0, ""
	m.entries[e.HackathonID+"/"+e.ParticipantID] = e
	return nil
}

func (m *memStore) ListEntries(_ context.Context, hackathonID string) ([]model.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LeaderboardEntry
	for _, e := range m.entries {
		if e.HackathonID == hackathonID {
			e.DisplayName = m.participants[e.ParticipantID].DisplayName
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ResetHackathon(_ context.Context, _ *sql.Tx, hackathonID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.scores {
		if v.HackathonID == hackathonID {
			delete(m.scores, k)
		}
	}
	for k, v := range m.entries {
		if v.HackathonID == hackathonID {
			delete(m.entries, k)
		}
	}
	for k := range m.applied {
		if len(k) > len(hackathonID) && k[:len(hackathonID)+1] == hackathonID+"/" {
			delete(m.applied, k)
		}
	}
	return nil
}

func (m *memStore) appliedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

// serialTx runs transactions one at a time against the in-memory store.
type serialTx struct{ mu sync.Mutex }

func (t *serialTx) WithinTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(nil)
}

// fakeRunner answers executions from a function of the dataset and query.
type fakeRunner struct {
	mu    sync.Mutex
	calls int
	fn    func(ds sandbox.Dataset, query string) (*sandbox.RunResult, error)
}

func (r *fakeRunner) Execute(_ context.Context, ds sandbox.Dataset, query string, _ sandbox.Limits) (*sandbox.RunResult, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.fn(ds, query)
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func rows(cols []string, values ...[]any) *sandbox.RunResult {
	return &sandbox.RunResult{Columns: cols, Rows: values, ExecutionTime: 3 * time.Millisecond}
}

var testLimits = sandbox.Limits{MaxRows: 100, Timeout: 2 * time.Second, WorkMemKb: 1024, MaxResultBytes: 1 << 20}

// fixture wires every service over one memStore, a fake runner and a miniredis instance.
type fixture struct {
	store  *memStore
	runner *fakeRunner
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	queue  *queue.JudgeQueue
	locker *queue.Locker
	now    time.Time

	hackathons   *HackathonService
	participants *ParticipantService
	problems     *ProblemService
	submissions  *SubmissionService
	leaderboard  *LeaderboardService
	judge        *JudgeService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &fixture{
		store:  newMemStore(),
		runner: &fakeRunner{fn: func(sandbox.Dataset, string) (*sandbox.RunResult, error) { return rows([]string{"?column?"}, []any{1.0}), nil }},
		mr:     mr,
		rdb:    rdb,
		queue:  queue.NewJudgeQueue(rdb, "judge_test"),
		locker: queue.NewLocker(rdb, "judge:lock:", time.Minute),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	log := zap.NewNop()
	tx := &serialTx{}
	clock := func() time.Time { return f.now }

	f.hackathons = NewHackathonService(f.store, f.store, log)
	f.hackathons.now = clock
	f.participants = NewParticipantService(f.store, f.store, log)
	f.problems = NewProblemService(f.store, f.store, f.runner, tx, testLimits, log)
	f.submissions = NewSubmissionService(f.store, f.store, f.store, f.store, f.queue, tx, 1000, log)
	f.submissions.now = clock
	f.leaderboard = NewLeaderboardService(f.store, f.store, f.store, f.store, tx, rdb, time.Minute, log)
	f.judge = NewJudgeService(f.store, f.store, f.store, f.leaderboard, f.runner, f.locker, tx, testLimits, log)
	f.judge.now = clock
	return f
}

// seedHackathon stores an active hackathon around f.now with one fixture-oracle problem.
func (f *fixture) seedHackathon(scoring model.ScoringConfig, cases ...model.TestCase) (*model.Hackathon, *model.Problem) {
	h := model.Hackathon{
		ID:        "h1",
		Name:      "Spring SQL",
		Slug:      "spring-sql",
		StartTime: f.now.Add(-time.Hour),
		EndTime:   f.now.Add(time.Hour),
		Status:    model.HackathonActive,
		Scoring:   scoring,
	}
	f.store.hackathons[h.ID] = h

	p := model.Problem{
		ID:             "p1",
		HackathonID:    h.ID,
		Title:          "Adult users",
		Slug:           "adult-users",
		Statement:      "List users older than 18.",
		Difficulty:     model.DifficultyEasy,
		ComparisonMode: model.ModeUnorderedMultiset,
	}
	f.store.problems[p.ID] = p
	if len(cases) == 0 {
		cases = []model.TestCase{{
			ID: "tc1", ProblemID: p.ID, Seq: 1, SeedSchema: "case1",
			Expected: model.ResultSpec{Columns: []string{"name"}, Rows: [][]any{{"ann"}, {"bob"}}},
		}}
	}
	f.store.testCases[p.ID] = cases
	return &h, &p
}

func (f *fixture) addParticipant(id, userID, name string) {
	f.store.participants[id] = model.Participant{ID: id, HackathonID: "h1", UserID: userID, DisplayName: name}
}

// addPending stores a pending submission offset minutes after f.now.
func (f *fixture) addPending(id, participantID, problemID, query string, minute int) {
	f.store.submissions[id] = model.Submission{
		ID:            id,
		HackathonID:   "h1",
		ProblemID:     problemID,
		ParticipantID: participantID,
		Query:         query,
		SubmittedAt:   f.now.Add(time.Duration(minute) * time.Minute),
		Verdict:       model.VerdictPending,
	}
}
