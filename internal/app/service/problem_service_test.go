package service

import (
	"context"
	"testing"

	"sql_arena/internal/app/sandbox"
	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draftFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.seedHackathon(model.ScoringConfig{})
	h := f.store.hackathons["h1"]
	h.Status = model.HackathonDraft
	f.store.hackathons["h1"] = h
	return f
}

func TestCreateProblemAppliesDefaults(t *testing.T) {
	f := draftFixture(t)

	p, err := f.problems.CreateProblem(context.Background(), "h1", CreateProblemRequest{
		Title:      "Top Customers",
		Statement:  "Return the three best customers.",
		SeedSchema: "CREATE TABLE customers (id int, spent numeric);",
		Expected:   &model.ResultSpec{Columns: []string{"id"}, Rows: [][]any{{1.0}, {2.0}, {3.0}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "top-customers", p.Slug)
	assert.Equal(t, model.DifficultyEasy, p.Difficulty)
	assert.Equal(t, model.ModeUnorderedMultiset, p.ComparisonMode)
	assert.Equal(t, testLimits.MaxRows, p.Limits.MaxRows)
	assert.Equal(t, 2000, p.Limits.TimeoutMs)
	require.Len(t, p.TestCases, 1)
	assert.Equal(t, 1, p.TestCases[0].Seq)

	assert.Contains(t, f.store.problems, p.ID)
	assert.Len(t, f.store.testCases[p.ID], 1)
	assert.Equal(t, 1, f.runner.callCount(), "seed is dry-run once")
}

func TestCreateProblemDryRunsReferenceQueries(t *testing.T) {
	f := draftFixture(t)
	var ran []string
	f.runner.fn = func(ds sandbox.Dataset, q string) (*sandbox.RunResult, error) {
		ran = append(ran, q)
		return rows([]string{"n"}, []any{1.0}), nil
	}

	_, err := f.problems.CreateProblem(context.Background(), "h1", CreateProblemRequest{
		Title:     "Counts",
		Statement: "Count things.",
		TestCases: []TestCaseRequest{
			{SeedSchema: "CREATE TABLE t (x int);", Expected: model.ResultSpec{ReferenceQuery: "SELECT count(*) AS n FROM t"}},
			{SeedSchema: "CREATE TABLE t (x int);", Expected: model.ResultSpec{ReferenceQuery: "SELECT 1 AS n"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT count(*) AS n FROM t", "SELECT 1 AS n"}, ran)
}

func TestCreateProblemRejectsBadAuthoring(t *testing.T) {
	valid := &model.ResultSpec{Columns: []string{"x"}, Rows: [][]any{{1.0}}}
	tests := []struct {
		name   string
		req    CreateProblemRequest
		runner func(sandbox.Dataset, string) (*sandbox.RunResult, error)
	}{
		{name: "no title", req: CreateProblemRequest{Statement: "s", Expected: valid}},
		{name: "no test cases", req: CreateProblemRequest{Title: "t", Statement: "s"}},
		{name: "unknown mode", req: CreateProblemRequest{Title: "t", Statement: "s", ComparisonMode: "fuzzy", Expected: valid}},
		{name: "unknown difficulty", req: CreateProblemRequest{Title: "t", Statement: "s", Difficulty: "brutal", Expected: valid}},
		{name: "negative limits", req: CreateProblemRequest{Title: "t", Statement: "s", Limits: model.ResourceLimits{MaxRows: -1}, Expected: valid}},
		{name: "both oracles", req: CreateProblemRequest{Title: "t", Statement: "s",
			Expected: &model.ResultSpec{Columns: []string{"x"}, ReferenceQuery: "SELECT 1 AS x"}}},
		{name: "ragged rows", req: CreateProblemRequest{Title: "t", Statement: "s",
			Expected: &model.ResultSpec{Columns: []string{"x", "y"}, Rows: [][]any{{1.0, 2.0}, {3.0}}}}},
		{name: "writing reference", req: CreateProblemRequest{Title: "t", Statement: "s",
			Expected: &model.ResultSpec{ReferenceQuery: "DELETE FROM t"}}},
		{
			name: "reference fails in sandbox",
			req: CreateProblemRequest{Title: "t", Statement: "s",
				Expected: &model.ResultSpec{ReferenceQuery: "SELECT missing FROM t"}},
			runner: func(sandbox.Dataset, string) (*sandbox.RunResult, error) {
				return nil, &sandbox.RunnerError{Kind: sandbox.KindRuntimeError, Message: `column "missing" does not exist`}
			},
		},
		{
			name: "seed does not load",
			req:  CreateProblemRequest{Title: "t", Statement: "s", SeedSchema: "CREATE TABLE", Expected: valid},
			runner: func(sandbox.Dataset, string) (*sandbox.RunResult, error) {
				return nil, sandbox.ErrDatasetUnavailable
			},
		},
		{
			name: "reference output truncated",
			req: CreateProblemRequest{Title: "t", Statement: "s",
				Expected: &model.ResultSpec{ReferenceQuery: "SELECT generate_series(1, 1000000)"}},
			runner: func(sandbox.Dataset, string) (*sandbox.RunResult, error) {
				res := rows([]string{"generate_series"}, []any{1.0})
				res.Truncated = true
				return res, nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := draftFixture(t)
			if tt.runner != nil {
				f.runner.fn = tt.runner
			}
			_, err := f.problems.CreateProblem(context.Background(), "h1", tt.req)
			assert.ErrorIs(t, err, common.ErrValidation)
			assert.Len(t, f.store.problems, 1, "only the seeded problem remains")
		})
	}
}

func TestCreateProblemSandboxOutageIsNotValidation(t *testing.T) {
	f := draftFixture(t)
	f.runner.fn = func(sandbox.Dataset, string) (*sandbox.RunResult, error) { return nil, sandbox.ErrSandboxUnavailable }

	_, err := f.problems.CreateProblem(context.Background(), "h1", CreateProblemRequest{
		Title: "t", Statement: "s", Expected: &model.ResultSpec{Columns: []string{"x"}, Rows: [][]any{}},
	})
	assert.ErrorIs(t, err, common.ErrServiceUnavailable)
	assert.NotErrorIs(t, err, common.ErrValidation)
}

func TestCreateProblemRequiresDraftHackathon(t *testing.T) {
	f := newFixture(t)
	f.seedHackathon(model.ScoringConfig{}) // active

	_, err := f.problems.CreateProblem(context.Background(), "h1", CreateProblemRequest{
		Title: "t", Statement: "s", Expected: &model.ResultSpec{Columns: []string{"x"}, Rows: [][]any{{1.0}}},
	})
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestProblemVisibility(t *testing.T) {
	f := draftFixture(t)
	ctx := context.Background()

	_, err := f.problems.GetProblem(ctx, "p1", model.RoleParticipant)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = f.problems.ListProblems(ctx, "h1", model.RoleParticipant)
	assert.ErrorIs(t, err, common.ErrNotFound)

	p, err := f.problems.GetProblem(ctx, "p1", model.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, p.TestCases, 1)

	h := f.store.hackathons["h1"]
	h.Status = model.HackathonActive
	f.store.hackathons["h1"] = h

	p, err = f.problems.GetProblem(ctx, "p1", model.RoleParticipant)
	require.NoError(t, err)
	assert.Empty(t, p.TestCases)
	list, err := f.problems.ListProblems(ctx, "h1", model.RoleParticipant)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdateProblemWhileDraft(t *testing.T) {
	f := draftFixture(t)
	ctx := context.Background()

	p, err := f.problems.UpdateProblem(ctx, "p1", CreateProblemRequest{
		Title:          "Adult users, sorted",
		Statement:      "List users older than 18 by name.",
		Difficulty:     model.DifficultyMedium,
		ComparisonMode: model.ModeExactOrder,
		TestCases: []TestCaseRequest{
			{SeedSchema: "case1", Expected: model.ResultSpec{Columns: []string{"name"}, Rows: [][]any{{"ann"}, {"bob"}}}},
			{SeedSchema: "case2", Expected: model.ResultSpec{Columns: []string{"name"}, Rows: [][]any{}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "adult-users-sorted", p.Slug)

	stored := f.store.problems["p1"]
	assert.Equal(t, model.DifficultyMedium, stored.Difficulty)
	assert.Equal(t, model.ModeExactOrder, stored.ComparisonMode)
	cases := f.store.testCases["p1"]
	require.Len(t, cases, 2, "old test cases are replaced, not appended")
	assert.Equal(t, "case2", cases[1].SeedSchema)
	assert.Equal(t, 2, f.runner.callCount(), "every new seed is dry-run")
}

func TestUpdateProblemRejectedOnceActive(t *testing.T) {
	f := newFixture(t)
	f.seedHackathon(model.ScoringConfig{})

	_, err := f.problems.UpdateProblem(context.Background(), "p1", CreateProblemRequest{
		Title: "Changed", Statement: "Changed.",
		Expected: &model.ResultSpec{Columns: []string{"name"}, Rows: [][]any{{"zed"}}},
	})
	assert.ErrorIs(t, err, common.ErrInvalidState)
	assert.Equal(t, "Adult users", f.store.problems["p1"].Title)
	assert.Len(t, f.store.testCases["p1"], 1)

	_, err = f.problems.UpdateProblem(context.Background(), "missing", CreateProblemRequest{})
	assert.ErrorIs(t, err, common.ErrNotFound)
}
