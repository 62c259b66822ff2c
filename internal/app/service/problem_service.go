package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"sql_arena/internal/app/sandbox"
	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
	"sql_arena/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

type ProblemService struct {
	problemRepo   repository.ProblemRepository
	hackathonRepo repository.HackathonRepository
	runner        sandbox.Runner
	tx            repository.Transactor
	defaults      sandbox.Limits
	log           *zap.Logger
}

func NewProblemService(
	problemRepo repository.ProblemRepository,
	hackathonRepo repository.HackathonRepository,
	runner sandbox.Runner,
	tx repository.Transactor,
	defaults sandbox.Limits,
	log *zap.Logger,
) *ProblemService {
	return &ProblemService{
		problemRepo:   problemRepo,
		hackathonRepo: hackathonRepo,
		runner:        runner,
		tx:            tx,
		defaults:      defaults,
		log:           log.Named("problem"),
	}
}

type TestCaseRequest struct {
	SeedSchema string           `json:"seed_schema"`
	SeedData   string           `json:"seed_data"`
	Expected   model.ResultSpec `json:"expected"`
}

type CreateProblemRequest struct {
	Title             string                  `json:"title"`
	Statement         string                  `json:"statement"`
	Difficulty        model.ProblemDifficulty `json:"difficulty"`
	Points            int                     `json:"points"`
	ComparisonMode    model.ComparisonMode    `json:"comparison_mode"`
	StrictColumnOrder bool                    `json:"strict_column_order"`
	Tolerance         float64                 `json:"tolerance"`
	Limits            model.ResourceLimits    `json:"limits"`

	// Shorthand for a single test case.
	SeedSchema string            `json:"seed_schema,omitempty"`
	SeedData   string            `json:"seed_data,omitempty"`
	Expected   *model.ResultSpec `json:"expected,omitempty"`

	TestCases []TestCaseRequest `json:"test_cases,omitempty"`
}

// CreateProblem adds a problem to a draft hackathon. Every seed and reference query is dry-run in
// the sandbox first so a broken oracle is caught at authoring time rather than while judging.
func (s *ProblemService) CreateProblem(ctx context.Context, hackathonID string, req CreateProblemRequest) (*model.Problem, error) {
	h, err := s.hackathonRepo.FindHackathonByID(ctx, nil, hackathonID)
	if err != nil {
		return nil, err
	}
	if h.Status != model.HackathonDraft {
		return nil, common.Errorf("problems can only be added while the hackathon is a draft: %w", common.ErrInvalidState)
	}

	problem, testCases, err := s.buildProblem(uuid.NewString(), hackathonID, req)
	if err != nil {
		return nil, err
	}
	if err := s.dryRun(ctx, problem, testCases); err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireDraft(ctx, tx, hackathonID); err != nil {
			return err
		}
		if err := s.problemRepo.CreateProblem(ctx, tx, problem); err != nil {
			return common.Errorf("failed to create problem in DB: %w", err)
		}
		if err := s.problemRepo.AddTestCasesToProblem(ctx, tx, problem.ID, testCases); err != nil {
			return common.Errorf("failed to add test cases to problem: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	problem.TestCases = testCases // admin view
	s.log.Info("problem created",
		zap.String("hackathon_id", hackathonID),
		zap.String("problem_id", problem.ID),
		zap.Int("test_cases", len(testCases)))
	return problem, nil
}

// UpdateProblem replaces a problem's statement, settings and test cases. Like creation it is
// only allowed while the hackathon is a draft, so no submission was ever judged against the
// old version.
func (s *ProblemService) UpdateProblem(ctx context.Context, id string, req CreateProblemRequest) (*model.Problem, error) {
	existing, err := s.problemRepo.FindProblemByID(ctx, id)
	if err != nil {
		return nil, err
	}
	h, err := s.hackathonRepo.FindHackathonByID(ctx, nil, existing.HackathonID)
	if err != nil {
		return nil, err
	}
	if h.Status != model.HackathonDraft {
		return nil, common.Errorf("problems can only be edited while the hackathon is a draft: %w", common.ErrInvalidState)
	}

	problem, testCases, err := s.buildProblem(existing.ID, existing.HackathonID, req)
	if err != nil {
		return nil, err
	}
	if err := s.dryRun(ctx, problem, testCases); err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		// activation takes the same row lock, so the draft check holds until commit
		if err := s.requireDraft(ctx, tx, existing.HackathonID); err != nil {
			return err
		}
		if err := s.problemRepo.UpdateProblem(ctx, tx, problem); err != nil {
			return common.Errorf("failed to update problem: %w", err)
		}
		if err := s.problemRepo.DeleteTestCases(ctx, tx, problem.ID); err != nil {
			return common.Errorf("failed to replace test cases: %w", err)
		}
		if err := s.problemRepo.AddTestCasesToProblem(ctx, tx, problem.ID, testCases); err != nil {
			return common.Errorf("failed to replace test cases: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	problem.TestCases = testCases
	s.log.Info("problem updated",
		zap.String("hackathon_id", problem.HackathonID),
		zap.String("problem_id", problem.ID),
		zap.Int("test_cases", len(testCases)))
	return problem, nil
}

func (s *ProblemService) requireDraft(ctx context.Context, tx *sql.Tx, hackathonID string) error {
	if err := s.hackathonRepo.LockHackathon(ctx, tx, hackathonID, true); err != nil {
		return err
	}
	h, err := s.hackathonRepo.FindHackathonByID(ctx, tx, hackathonID)
	if err != nil {
		return err
	}
	if h.Status != model.HackathonDraft {
		return common.Errorf("hackathon %s is no longer a draft: %w", hackathonID, common.ErrInvalidState)
	}
	return nil
}

func (s *ProblemService) buildProblem(problemID, hackathonID string, req CreateProblemRequest) (*model.Problem, []model.TestCase, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || strings.TrimSpace(req.Statement) == "" {
		return nil, nil, common.Errorf("title and statement are required: %w", common.ErrValidation)
	}
	if req.Difficulty == "" {
		req.Difficulty = model.DifficultyEasy
	}
	if !req.Difficulty.Valid() {
		return nil, nil, common.Errorf("unknown difficulty %q: %w", req.Difficulty, common.ErrValidation)
	}
	if req.ComparisonMode == "" {
		req.ComparisonMode = model.ModeUnorderedMultiset
	}
	if !req.ComparisonMode.Valid() {
		return nil, nil, common.Errorf("unknown comparison mode %q: %w", req.ComparisonMode, common.ErrValidation)
	}
	if req.Points < 0 || req.Tolerance < 0 {
		return nil, nil, common.Errorf("points and tolerance must not be negative: %w", common.ErrValidation)
	}
	if req.Limits.MaxRows < 0 || req.Limits.TimeoutMs < 0 || req.Limits.WorkMemKb < 0 || req.Limits.MaxResultBytes < 0 {
		return nil, nil, common.Errorf("limits must not be negative: %w", common.ErrValidation)
	}

	cases := req.TestCases
	if req.Expected != nil {
		cases = append([]TestCaseRequest{{SeedSchema: req.SeedSchema, SeedData: req.SeedData, Expected: *req.Expected}}, cases...)
	}
	if len(cases) == 0 {
		return nil, nil, common.Errorf("at least one test case is required: %w", common.ErrValidation)
	}

	testCases := make([]model.TestCase, 0, len(cases))
	for i, c := range cases {
		if err := validateResultSpec(c.Expected); err != nil {
			return nil, nil, common.Errorf("test case %d: %w", i+1, err)
		}
		testCases = append(testCases, model.TestCase{
			ID:         uuid.NewString(),
			ProblemID:  problemID,
			Seq:        i + 1,
			SeedSchema: c.SeedSchema,
			SeedData:   c.SeedData,
			Expected:   c.Expected,
		})
	}

	limits := sandbox.LimitsFor(req.Limits, s.defaults)
	return &model.Problem{
		ID:                problemID,
		HackathonID:       hackathonID,
		Title:             title,
		Slug:              slug.Make(title),
		Statement:         req.Statement,
		Difficulty:        req.Difficulty,
		Points:            req.Points,
		ComparisonMode:    req.ComparisonMode,
		StrictColumnOrder: req.StrictColumnOrder,
		Tolerance:         req.Tolerance,
		Limits: model.ResourceLimits{
			MaxRows:        limits.MaxRows,
			TimeoutMs:      int(limits.Timeout.Milliseconds()),
			WorkMemKb:      limits.WorkMemKb,
			MaxResultBytes: limits.MaxResultBytes,
		},
	}, testCases, nil
}

func validateResultSpec(spec model.ResultSpec) error {
	if spec.IsReference() {
		if len(spec.Columns) > 0 || len(spec.Rows) > 0 {
			return common.Errorf("expected is either a reference query or a result set, not both: %w", common.ErrValidation)
		}
		if err := sandbox.Guard(spec.ReferenceQuery); err != nil {
			return common.Errorf("reference query rejected (%v): %w", err, common.ErrValidation)
		}
		return nil
	}
	if len(spec.Columns) == 0 && spec.Rows == nil {
		return common.Errorf("expected needs columns, rows or a reference query: %w", common.ErrValidation)
	}
	width := len(spec.Columns)
	for i, row := range spec.Rows {
		if width == 0 {
			width = len(row)
		}
		if len(row) != width {
			return common.Errorf("expected row %d has %d values, want %d: %w", i+1, len(row), width, common.ErrValidation)
		}
	}
	return nil
}

func (s *ProblemService) dryRun(ctx context.Context, p *model.Problem, testCases []model.TestCase) error {
	limits := sandbox.LimitsFor(p.Limits, s.defaults)
	for _, tc := range testCases {
		query := tc.Expected.ReferenceQuery
		if query == "" {
			query = "SELECT 1"
		}
		res, err := s.runner.Execute(ctx, sandbox.Dataset{Schema: tc.SeedSchema, Data: tc.SeedData}, query, limits)
		if err != nil {
			if re, ok := sandbox.AsRunnerError(err); ok {
				return common.Errorf("test case %d: reference query failed: %s: %w", tc.Seq, re.Error(), common.ErrValidation)
			}
			if errors.Is(err, sandbox.ErrDatasetUnavailable) {
				return common.Errorf("test case %d: seed dataset does not load (%v): %w", tc.Seq, err, common.ErrValidation)
			}
			return err
		}
		if res.Truncated {
			return common.Errorf("test case %d: reference output exceeds max_rows: %w", tc.Seq, common.ErrValidation)
		}
	}
	return nil
}

// GetProblem hides draft problems and test cases from non-admins.
func (s *ProblemService) GetProblem(ctx context.Context, id, role string) (*model.Problem, error) {
	p, err := s.problemRepo.FindProblemByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == model.RoleAdmin {
		tcs, err := s.problemRepo.GetTestCasesByProblemID(ctx, id)
		if err != nil {
			return nil, common.Errorf("failed to load test cases: %w", err)
		}
		p.TestCases = tcs
		return p, nil
	}
	h, err := s.hackathonRepo.FindHackathonByID(ctx, nil, p.HackathonID)
	if err != nil {
		return nil, err
	}
	if h.Status == model.HackathonDraft {
		return nil, common.ErrNotFound
	}
	return p, nil
}

func (s *ProblemService) ListProblems(ctx context.Context, hackathonID, role string) ([]model.Problem, error) {
	h, err := s.hackathonRepo.FindHackathonByID(ctx, nil, hackathonID)
	if err != nil {
		return nil, err
	}
	if h.Status == model.HackathonDraft && role != model.RoleAdmin {
		return nil, common.ErrNotFound
	}
	problems, err := s.problemRepo.ListProblemsByHackathon(ctx, hackathonID)
	if err != nil {
		return nil, err
	}
	if problems == nil {
		problems = []model.Problem{}
	}
	return problems, nil
}
