package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
)

type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error
	GetSubmissionByID(ctx context.Context, id string) (*model.Submission, error)

	// ApplyJudgement performs the single pending->terminal write. It reports false when the
	// submission was already terminal, in which case nothing is written.
	ApplyJudgement(ctx context.Context, tx *sql.Tx, submissionID string, j model.Judgement) (bool, error)
	// CountEarlierAttempts counts submissions by the same participant on the same problem ordered before
	// (submittedAt, id).
	CountEarlierAttempts(ctx context.Context, tx *sql.Tx, participantID, problemID string, submittedAt time.Time, id string) (int, error)
	IncrementJudgeAttempts(ctx context.Context, submissionID string) error

	// For recovery. Submissions that already used maxAttempts judge attempts are excluded.
	ListPendingSubmittedBefore(ctx context.Context, before time.Time, maxAttempts, limit int) ([]model.Submission, error)
	// ListByParticipant returns a participant's submissions, newest first. An empty problemID
	// means every problem.
	ListByParticipant(ctx context.Context, participantID, problemID string) ([]model.Submission, error)
	// For leaderboard rebuilds
	ListTerminalByHackathon(ctx context.Context, tx *sql.Tx, hackathonID string) ([]model.Submission, error)
}

type pgSubmissionRepository struct {
	db *sql.DB
}

func NewPgSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &pgSubmissionRepository{db: db}
}

const submissionColumns = `id, hackathon_id, problem_id, participant_id, query, submitted_at, verdict, score,
	execution_time_ms, result_digest, feedback, feedback_detail, failed_test, attempt_number, judge_attempts, judged_at`

func (r *pgSubmissionRepository) CreateSubmission(ctx context.Context, tx *sql.Tx, s *model.Submission) error {
	query := `INSERT INTO submissions (id, hackathon_id, problem_id, participant_id, query, submitted_at, verdict)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := pick(r.db, tx).ExecContext(ctx, query, s.ID, s.HackathonID, s.ProblemID, s.ParticipantID, s.Query, s.SubmittedAt, s.Verdict)
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.CreateSubmission: %w", err)
	}
	return nil
}

func (r *pgSubmissionRepository) GetSubmissionByID(ctx context.Context, id string) (*model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	s, err := scanSubmission(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgSubmissionRepository.GetSubmissionByID: %w", err)
	}
	return s, nil
}

func (r *pgSubmissionRepository) ApplyJudgement(ctx context.Context, tx *sql.Tx, submissionID string, j model.Judgement) (bool, error) {
	query := `UPDATE submissions SET
	              verdict = $1, score = $2, execution_time_ms = $3, result_digest = $4, feedback = $5,
	              feedback_detail = $6, failed_test = $7, attempt_number = $8, judged_at = $9
	          WHERE id = $10 AND verdict = 'pending'`
	res, err := pick(r.db, tx).ExecContext(ctx, query,
		j.Verdict, j.Score, j.ExecutionTimeMs, j.ResultDigest, j.Feedback, j.FeedbackDetail, j.FailedTest,
		j.AttemptNumber, j.JudgedAt, submissionID)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.ApplyJudgement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.ApplyJudgement rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *pgSubmissionRepository) CountEarlierAttempts(ctx context.Context, tx *sql.Tx, participantID, problemID string, submittedAt time.Time, id string) (int, error) {
	query := `SELECT COUNT(*) FROM submissions
	          WHERE participant_id = $1 AND problem_id = $2 AND (submitted_at, id) < ($3, $4)`
	var n int
	if err := pick(r.db, tx).QueryRowContext(ctx, query, participantID, problemID, submittedAt, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgSubmissionRepository.CountEarlierAttempts: %w", err)
	}
	return n, nil
}

func (r *pgSubmissionRepository) IncrementJudgeAttempts(ctx context.Context, submissionID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE submissions SET judge_attempts = judge_attempts + 1 WHERE id = $1`, submissionID)
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.IncrementJudgeAttempts: %w", err)
	}
	return nil
}

func (r *pgSubmissionRepository) ListPendingSubmittedBefore(ctx context.Context, before time.Time, maxAttempts, limit int) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE verdict = 'pending' AND submitted_at < $1 AND judge_attempts < $2
	          ORDER BY submitted_at, id LIMIT $3`
	return r.querySubmissions(ctx, nil, "ListPendingSubmittedBefore", query, before, maxAttempts, limit)
}

func (r *pgSubmissionRepository) ListByParticipant(ctx context.Context, participantID, problemID string) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE participant_id = $1 AND ($2 = '' OR problem_id = $2)
	          ORDER BY submitted_at DESC, id DESC`
	return r.querySubmissions(ctx, nil, "ListByParticipant", query, participantID, problemID)
}

func (r *pgSubmissionRepository) ListTerminalByHackathon(ctx context.Context, tx *sql.Tx, hackathonID string) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE hackathon_id = $1 AND verdict <> 'pending'
	          ORDER BY submitted_at, id`
	return r.querySubmissions(ctx, tx, "ListTerminalByHackathon", query, hackathonID)
}

func (r *pgSubmissionRepository) querySubmissions(ctx context.Context, tx *sql.Tx, op, query string, args ...any) ([]model.Submission, error) {
	rows, err := pick(r.db, tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.%s: %w", op, err)
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.%s scan: %w", op, err)
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.%s rows: %w", op, err)
	}
	return subs, nil
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	s := &model.Submission{}
	err := row.Scan(&s.ID, &s.HackathonID, &s.ProblemID, &s.ParticipantID, &s.Query, &s.SubmittedAt, &s.Verdict, &s.Score,
		&s.ExecutionTimeMs, &s.ResultDigest, &s.Feedback, &s.FeedbackDetail, &s.FailedTest, &s.AttemptNumber, &s.JudgeAttempts, &s.JudgedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}
