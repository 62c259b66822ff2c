package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sql_arena/internal/app/compare"
	"sql_arena/internal/app/ranking"
	"sql_arena/internal/app/sandbox"
	"sql_arena/internal/app/scoring"
	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
	"sql_arena/internal/domain/repository"
	"sql_arena/internal/platform/queue"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type JudgeOutcome string

const (
	OutcomeJudged          JudgeOutcome = "judged"
	OutcomeAlreadyTerminal JudgeOutcome = "already_terminal"
	OutcomeBusy            JudgeOutcome = "busy" // another worker holds the submission
)

// JudgeService drives a submission from pending to exactly one terminal verdict.
type JudgeService struct {
	submissionRepo repository.SubmissionRepository
	problemRepo    repository.ProblemRepository
	hackathonRepo  repository.HackathonRepository
	leaderboard    *LeaderboardService
	runner         sandbox.Runner
	locker         *queue.Locker
	tx             repository.Transactor
	defaults       sandbox.Limits
	log            *zap.Logger
	now            func() time.Time
}

func NewJudgeService(
	submissionRepo repository.SubmissionRepository,
	problemRepo repository.ProblemRepository,
	hackathonRepo repository.HackathonRepository,
	leaderboard *LeaderboardService,
	runner sandbox.Runner,
	locker *queue.Locker,
	tx repository.Transactor,
	defaults sandbox.Limits,
	log *zap.Logger,
) *JudgeService {
	return &JudgeService{
		submissionRepo: submissionRepo,
		problemRepo:    problemRepo,
		hackathonRepo:  hackathonRepo,
		leaderboard:    leaderboard,
		runner:         runner,
		locker:         locker,
		tx:             tx,
		defaults:       defaults,
		log:            log.Named("judge"),
		now:            time.Now,
	}
}

// verdictReport is the evaluation of a query across every test case of its problem.
type verdictReport struct {
	verdict       model.Verdict
	executionTime time.Duration
	digest        string
	feedback      string // shown to the participant
	detail        string // admin only; may quote hidden expected cells
	failedTest    *int
}

// Judge evaluates a pending submission and persists its verdict, score and leaderboard fold in
// one transaction. Judging an already-terminal submission is a no-op. A returned error means an
// infrastructure failure: the submission is still pending and may be retried.
func (s *JudgeService) Judge(ctx context.Context, submissionID string) (JudgeOutcome, error) {
	sub, err := s.submissionRepo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return "", err
	}
	if sub.Verdict.IsTerminal() {
		return OutcomeAlreadyTerminal, nil
	}

	lock, err := s.locker.TryAcquire(ctx, submissionID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrJobLockFailed, err)
	}
	if lock == nil {
		return OutcomeBusy, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := lock.Release(releaseCtx); err != nil {
			s.log.Warn("judge lock release failed", zap.String("submission_id", submissionID), zap.Error(err))
		}
	}()

	// Another worker may have finished between the first read and the lock.
	sub, err = s.submissionRepo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return "", err
	}
	if sub.Verdict.IsTerminal() {
		return OutcomeAlreadyTerminal, nil
	}

	problem, err := s.problemRepo.FindProblemByID(ctx, sub.ProblemID)
	if err != nil {
		return "", fmt.Errorf("load problem %s: %w", sub.ProblemID, err)
	}
	testCases, err := s.problemRepo.GetTestCasesByProblemID(ctx, problem.ID)
	if err != nil {
		return "", fmt.Errorf("load test cases: %w", err)
	}
	if len(testCases) == 0 {
		return "", fmt.Errorf("problem %s has no test cases: %w", problem.ID, sandbox.ErrDatasetUnavailable)
	}
	hackathon, err := s.hackathonRepo.FindHackathonByID(ctx, nil, sub.HackathonID)
	if err != nil {
		return "", fmt.Errorf("load hackathon %s: %w", sub.HackathonID, err)
	}
	policy, err := scoring.FromConfig(hackathon.Scoring)
	if err != nil {
		return "", fmt.Errorf("hackathon %s scoring: %w", hackathon.ID, err)
	}

	report, err := s.evaluate(ctx, problem, testCases, sub.Query)
	if err != nil {
		return "", err
	}

	var applied bool
	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		earlier, err := s.submissionRepo.CountEarlierAttempts(ctx, tx, sub.ParticipantID, sub.ProblemID, sub.SubmittedAt, sub.ID)
		if err != nil {
			return err
		}
		judgement := model.Judgement{
			Verdict:         report.verdict,
			ExecutionTimeMs: report.executionTime.Milliseconds(),
			ResultDigest:    report.digest,
			Feedback:        report.feedback,
			FeedbackDetail:  report.detail,
			FailedTest:      report.failedTest,
			AttemptNumber:   earlier + 1,
			JudgedAt:        s.now().UTC(),
		}
		judgement.Score = policy.Score(scoring.Input{
			Verdict:       report.verdict,
			ExecutionTime: report.executionTime,
			AttemptNumber: judgement.AttemptNumber,
			Difficulty:    problem.Difficulty,
			Points:        problem.Points,
		})

		applied, err = s.submissionRepo.ApplyJudgement(ctx, tx, sub.ID, judgement)
		if err != nil || !applied {
			return err
		}

		sub.Verdict, sub.Score = judgement.Verdict, judgement.Score
		_, err = s.leaderboard.ApplyTerminal(ctx, tx, ranking.FromSubmission(*sub), policy.Aggregation())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("persist verdict for %s (%v): %w", sub.ID, err, common.ErrPersistence)
	}
	if !applied {
		return OutcomeAlreadyTerminal, nil
	}
	s.leaderboard.Invalidate(ctx, sub.HackathonID)

	s.log.Info("submission judged",
		zap.String("submission_id", sub.ID),
		zap.String("verdict", string(sub.Verdict)),
		zap.Float64("score", sub.Score),
		zap.Duration("execution_time", report.executionTime))
	return OutcomeJudged, nil
}

// evaluate runs the query against every test case in order; the first failing case decides.
func (s *JudgeService) evaluate(ctx context.Context, problem *model.Problem, testCases []model.TestCase, query string) (*verdictReport, error) {
	limits := sandbox.LimitsFor(problem.Limits, s.defaults)
	opts := compare.Options{
		Mode:              problem.ComparisonMode,
		StrictColumnOrder: problem.StrictColumnOrder,
		Tolerance:         problem.Tolerance,
	}

	report := &verdictReport{verdict: model.VerdictAccepted}
	var outputs []compare.ResultSet
	passed := 0

	for _, tc := range testCases {
		actual, runErr, expected, err := s.runCase(ctx, tc, query, limits)
		if err != nil {
			return nil, err
		}

		if runErr != nil {
			report.verdict = verdictForRunnerError(runErr.Kind)
			if runErr.Kind == sandbox.KindTimeout {
				report.executionTime += limits.Timeout
			}
			s.fail(report, tc.Seq, passed, len(testCases), publicReason(runErr), runErr.Error())
			break
		}

		report.executionTime += actual.ExecutionTime
		got := compare.ResultSet{Columns: actual.Columns, Rows: actual.Rows}
		outputs = append(outputs, got)
		if actual.Truncated {
			report.verdict = model.VerdictResourceExceeded
			reason := fmt.Sprintf("output exceeds %d rows", limits.MaxRows)
			s.fail(report, tc.Seq, passed, len(testCases), reason, reason)
			break
		}
		if out := compare.Compare(got, expected, opts); !out.Equal {
			report.verdict = model.VerdictWrongAnswer
			s.fail(report, tc.Seq, passed, len(testCases), "wrong answer", out.Reason)
			break
		}
		passed++
	}

	if report.verdict == model.VerdictAccepted {
		report.feedback = fmt.Sprintf("Tests passed: %d/%d", passed, len(testCases))
		report.detail = report.feedback
	}
	report.digest = compare.Digest(outputs...)
	return report, nil
}

func (s *JudgeService) fail(r *verdictReport, seq, passed, total int, public, detail string) {
	failed := seq
	r.failedTest = &failed
	r.feedback = fmt.Sprintf("Tests passed: %d/%d; test %d: %s", passed, total, seq, public)
	r.detail = fmt.Sprintf("Tests passed: %d/%d; test %d: %s", passed, total, seq, detail)
}

// publicReason is what a participant may learn about their failing query. Runtime error
// messages can quote values from the hidden dataset, so only their kind is shown.
func publicReason(err *sandbox.RunnerError) string {
	if err.Kind == sandbox.KindRuntimeError {
		return "runtime error"
	}
	return err.Error()
}

// runCase executes the participant query and, for reference oracles, the reference query
// concurrently against separate copies of the test case's dataset. A *RunnerError from the
// participant's query is returned as runErr; err is reserved for infrastructure failures.
func (s *JudgeService) runCase(ctx context.Context, tc model.TestCase, query string, limits sandbox.Limits) (actual *sandbox.RunResult, runErr *sandbox.RunnerError, expected compare.ResultSet, err error) {
	ds := sandbox.Dataset{Schema: tc.SeedSchema, Data: tc.SeedData}
	expected = compare.ResultSet{Columns: tc.Expected.Columns, Rows: tc.Expected.Rows}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.runner.Execute(gctx, ds, query, limits)
		if err != nil {
			if re, ok := sandbox.AsRunnerError(err); ok {
				runErr = re
				return nil
			}
			return err
		}
		actual = res
		return nil
	})
	if tc.Expected.IsReference() {
		g.Go(func() error {
			ref, err := s.runner.Execute(gctx, ds, tc.Expected.ReferenceQuery, limits)
			if err != nil {
				// the oracle failing says nothing about the participant's query
				return fmt.Errorf("test case %d reference query: %v: %w", tc.Seq, err, sandbox.ErrDatasetUnavailable)
			}
			if ref.Truncated {
				return fmt.Errorf("test case %d reference output truncated: %w", tc.Seq, sandbox.ErrDatasetUnavailable)
			}
			expected = compare.ResultSet{Columns: ref.Columns, Rows: ref.Rows}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, compare.ResultSet{}, err
	}
	return actual, runErr, expected, nil
}

func verdictForRunnerError(kind sandbox.ErrorKind) model.Verdict {
	switch kind {
	case sandbox.KindTimeout:
		return model.VerdictTimeout
	case sandbox.KindResourceExceeded:
		return model.VerdictResourceExceeded
	}
	// syntax, runtime and forbidden statements
	return model.VerdictRuntimeError
}

// IsRetryable reports whether a Judge error may succeed on a later attempt.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, common.ErrNotFound)
}
