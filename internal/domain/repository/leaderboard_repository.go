package repository

import (
	"context"
	"database/sql"
	"fmt"

	"sql_arena/internal/domain/model"
)

// LeaderboardRepository stores the materialized leaderboard. Every row here can be rebuilt from
// terminal submissions.
type LeaderboardRepository interface {
	// MarkApplied records that a submission has been folded in; false means it already was.
	MarkApplied(ctx context.Context, tx *sql.Tx, hackathonID, submissionID string) (bool, error)
	ListProblemScores(ctx context.Context, tx *sql.Tx, hackathonID, participantID string) ([]model.ProblemScore, error)
	UpsertProblemScore(ctx context.Context, tx *sql.Tx, ps model.ProblemScore) error
	UpsertEntry(ctx context.Context, tx *sql.Tx, entry model.LeaderboardEntry) error
	ListEntries(ctx context.Context, hackathonID string) ([]model.LeaderboardEntry, error)
	ResetHackathon(ctx context.Context, tx *sql.Tx, hackathonID string) error
}

type pgLeaderboardRepository struct {
	db *sql.DB
}

func NewPgLeaderboardRepository(db *sql.DB) LeaderboardRepository {
	return &pgLeaderboardRepository{db: db}
}

func (r *pgLeaderboardRepository) MarkApplied(ctx context.Context, tx *sql.Tx, hackathonID, submissionID string) (bool, error) {
	query := `INSERT INTO leaderboard_applied (submission_id, hackathon_id) VALUES ($1, $2) ON CONFLICT (submission_id) DO NOTHING`
	res, err := pick(r.db, tx).ExecContext(ctx, query, submissionID, hackathonID)
	if err != nil {
		return false, fmt.Errorf("pgLeaderboardRepository.MarkApplied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgLeaderboardRepository.MarkApplied rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *pgLeaderboardRepository) ListProblemScores(ctx context.Context, tx *sql.Tx, hackathonID, participantID string) ([]model.ProblemScore, error) {
	query := `SELECT hackathon_id, participant_id, problem_id, best_score, best_at, sum_score, sum_at, solved, submissions
	          FROM leaderboard_problem_scores WHERE hackathon_id = $1 AND participant_id = $2 ORDER BY problem_id`
	rows, err := pick(r.db, tx).QueryContext(ctx, query, hackathonID, participantID)
	if err != nil {
		return nil, fmt.Errorf("pgLeaderboardRepository.ListProblemScores: %w", err)
	}
	defer rows.Close()

	var scores []model.ProblemScore
	for rows.Next() {
		var ps model.ProblemScore
		if err := rows.Scan(&ps.HackathonID, &ps.ParticipantID, &ps.ProblemID, &ps.BestScore, &ps.BestAt,
			&ps.SumScore, &ps.SumAt, &ps.Solved, &ps.Submissions); err != nil {
			return nil, fmt.Errorf("pgLeaderboardRepository.ListProblemScores scan: %w", err)
		}
		scores = append(scores, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgLeaderboardRepository.ListProblemScores rows: %w", err)
	}
	return scores, nil
}

func (r *pgLeaderboardRepository) UpsertProblemScore(ctx context.Context, tx *sql.Tx, ps model.ProblemScore) error {
	query := `INSERT INTO leaderboard_problem_scores (hackathon_id, participant_id, problem_id, best_score, best_at, sum_score, sum_at, solved, submissions)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (hackathon_id, participant_id, problem_id) DO UPDATE SET
	              best_score = EXCLUDED.best_score, best_at = EXCLUDED.best_at,
	              sum_score = EXCLUDED.sum_score, sum_at = EXCLUDED.sum_at, solved = EXCLUDED.solved,
	              submissions = EXCLUDED.submissions`
	_, err := pick(r.db, tx).ExecContext(ctx, query, ps.HackathonID, ps.ParticipantID, ps.ProblemID,
		ps.BestScore, ps.BestAt, ps.SumScore, ps.SumAt, ps.Solved, ps.Submissions)
	if err != nil {
		return fmt.Errorf("pgLeaderboardRepository.UpsertProblemScore: %w", err)
	}
	return nil
}

func (r *pgLeaderboardRepository) UpsertEntry(ctx context.Context, tx *sql.Tx, e model.LeaderboardEntry) error {
	query := `INSERT INTO leaderboard_entries (hackathon_id, participant_id, best_score, total_score, solved_count,
	                                           attempted_count, total_submissions, success_rate, last_update_time)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (hackathon_id, participant_id) DO UPDATE SET
	              best_score = EXCLUDED.best_score, total_score = EXCLUDED.total_score,
	              solved_count = EXCLUDED.solved_count, attempted_count = EXCLUDED.attempted_count,
	              total_submissions = EXCLUDED.total_submissions, success_rate = EXCLUDED.success_rate,
	              last_update_time = EXCLUDED.last_update_time,
	              updated_at = CURRENT_TIMESTAMP`
	_, err := pick(r.db, tx).ExecContext(ctx, query, e.HackathonID, e.ParticipantID, e.BestScore, e.TotalScore,
		e.SolvedCount, e.AttemptedCount, e.TotalSubmissions, e.SuccessRate, e.LastUpdateTime)
	if err != nil {
		return fmt.Errorf("pgLeaderboardRepository.UpsertEntry: %w", err)
	}
	return nil
}

// ListEntries returns unranked entries; ordering is the ranking package's job.
func (r *pgLeaderboardRepository) ListEntries(ctx context.Context, hackathonID string) ([]model.LeaderboardEntry, error) {
	query := `SELECT le.hackathon_id, le.participant_id, p.display_name, le.best_score, le.total_score,
	                 le.solved_count, le.attempted_count, le.total_submissions, le.success_rate, le.last_update_time
	          FROM leaderboard_entries le
	          JOIN participants p ON p.id = le.participant_id
	          WHERE le.hackathon_id = $1`
	rows, err := r.db.QueryContext(ctx, query, hackathonID)
	if err != nil {
		return nil, fmt.Errorf("pgLeaderboardRepository.ListEntries: %w", err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.HackathonID, &e.ParticipantID, &e.DisplayName, &e.BestScore, &e.TotalScore,
			&e.SolvedCount, &e.AttemptedCount, &e.TotalSubmissions, &e.SuccessRate, &e.LastUpdateTime); err != nil {
			return nil, fmt.Errorf("pgLeaderboardRepository.ListEntries scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgLeaderboardRepository.ListEntries rows: %w", err)
	}
	return entries, nil
}

func (r *pgLeaderboardRepository) ResetHackathon(ctx context.Context, tx *sql.Tx, hackathonID string) error {
	q := pick(r.db, tx)
	for _, table := range []string{"leaderboard_applied", "leaderboard_problem_scores", "leaderboard_entries"} {
		if _, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE hackathon_id = $1`, hackathonID); err != nil {
			return fmt.Errorf("pgLeaderboardRepository.ResetHackathon %s: %w", table, err)
		}
	}
	return nil
}
