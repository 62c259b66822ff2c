package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
)

type ProblemRepository interface {
	CreateProblem(ctx context.Context, tx *sql.Tx, problem *model.Problem) error
	FindProblemByID(ctx context.Context, id string) (*model.Problem, error)
	ListProblemsByHackathon(ctx context.Context, hackathonID string) ([]model.Problem, error)
	UpdateProblem(ctx context.Context, tx *sql.Tx, problem *model.Problem) error

	AddTestCasesToProblem(ctx context.Context, tx *sql.Tx, problemID string, testCases []model.TestCase) error
	DeleteTestCases(ctx context.Context, tx *sql.Tx, problemID string) error
	GetTestCasesByProblemID(ctx context.Context, problemID string) ([]model.TestCase, error) // For judging/admin
}

type pgProblemRepository struct {
	db *sql.DB
}

func NewPgProblemRepository(db *sql.DB) ProblemRepository {
	return &pgProblemRepository{db: db}
}

const problemColumns = `id, hackathon_id, title, slug, statement, difficulty, points, comparison_mode, strict_column_order,
	tolerance, max_rows, timeout_ms, work_mem_kb, max_result_bytes, created_at, updated_at`

func (r *pgProblemRepository) CreateProblem(ctx context.Context, tx *sql.Tx, p *model.Problem) error {
	query := `INSERT INTO problems (id, hackathon_id, title, slug, statement, difficulty, points, comparison_mode,
	              strict_column_order, tolerance, max_rows, timeout_ms, work_mem_kb, max_result_bytes)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	          RETURNING created_at, updated_at`
	err := pick(r.db, tx).QueryRowContext(ctx, query,
		p.ID, p.HackathonID, p.Title, p.Slug, p.Statement, p.Difficulty, p.Points, p.ComparisonMode,
		p.StrictColumnOrder, p.Tolerance, p.Limits.MaxRows, p.Limits.TimeoutMs, p.Limits.WorkMemKb, p.Limits.MaxResultBytes,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) { // Unique constraint for (hackathon, slug)
			return fmt.Errorf("problem with this slug already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgProblemRepository.CreateProblem: %w", err)
	}
	return nil
}

func (r *pgProblemRepository) FindProblemByID(ctx context.Context, id string) (*model.Problem, error) {
	query := `SELECT ` + problemColumns + ` FROM problems WHERE id = $1`
	p, err := scanProblem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgProblemRepository.FindProblemByID: %w", err)
	}
	return p, nil
}

func (r *pgProblemRepository) ListProblemsByHackathon(ctx context.Context, hackathonID string) ([]model.Problem, error) {
	query := `SELECT ` + problemColumns + ` FROM problems WHERE hackathon_id = $1 ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, hackathonID)
	if err != nil {
		return nil, fmt.Errorf("pgProblemRepository.ListProblemsByHackathon: %w", err)
	}
	defer rows.Close()

	var problems []model.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("pgProblemRepository.ListProblemsByHackathon scan: %w", err)
		}
		problems = append(problems, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgProblemRepository.ListProblemsByHackathon rows: %w", err)
	}
	return problems, nil
}

func (r *pgProblemRepository) UpdateProblem(ctx context.Context, tx *sql.Tx, p *model.Problem) error {
	query := `UPDATE problems SET title = $1, slug = $2, statement = $3, difficulty = $4, points = $5,
	              comparison_mode = $6, strict_column_order = $7, tolerance = $8, max_rows = $9, timeout_ms = $10,
	              work_mem_kb = $11, max_result_bytes = $12, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $13
	          RETURNING created_at, updated_at`
	err := pick(r.db, tx).QueryRowContext(ctx, query,
		p.Title, p.Slug, p.Statement, p.Difficulty, p.Points, p.ComparisonMode, p.StrictColumnOrder, p.Tolerance,
		p.Limits.MaxRows, p.Limits.TimeoutMs, p.Limits.WorkMemKb, p.Limits.MaxResultBytes, p.ID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrNotFound
		}
		if common.IsUniqueViolation(err) {
			return fmt.Errorf("problem with this slug already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgProblemRepository.UpdateProblem: %w", err)
	}
	return nil
}

func (r *pgProblemRepository) DeleteTestCases(ctx context.Context, tx *sql.Tx, problemID string) error {
	if _, err := pick(r.db, tx).ExecContext(ctx, `DELETE FROM test_cases WHERE problem_id = $1`, problemID); err != nil {
		return fmt.Errorf("pgProblemRepository.DeleteTestCases: %w", err)
	}
	return nil
}

func (r *pgProblemRepository) AddTestCasesToProblem(ctx context.Context, tx *sql.Tx, problemID string, testCases []model.TestCase) error {
	query := `INSERT INTO test_cases (id, problem_id, seq, seed_schema, seed_data, expected) VALUES ($1, $2, $3, $4, $5, $6)`
	q := pick(r.db, tx)
	for i := range testCases {
		tc := &testCases[i]
		tc.ProblemID = problemID
		expected, err := json.Marshal(tc.Expected)
		if err != nil {
			return fmt.Errorf("pgProblemRepository.AddTestCasesToProblem: marshal expected for seq %d: %w", tc.Seq, err)
		}
		if _, err := q.ExecContext(ctx, query, tc.ID, problemID, tc.Seq, tc.SeedSchema, tc.SeedData, expected); err != nil {
			if common.IsUniqueViolation(err) {
				return fmt.Errorf("duplicate test case seq %d: %w", tc.Seq, common.ErrConflict)
			}
			return fmt.Errorf("pgProblemRepository.AddTestCasesToProblem: %w", err)
		}
	}
	return nil
}

func (r *pgProblemRepository) GetTestCasesByProblemID(ctx context.Context, problemID string) ([]model.TestCase, error) {
	query := `SELECT id, problem_id, seq, seed_schema, seed_data, expected FROM test_cases WHERE problem_id = $1 ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, query, problemID)
	if err != nil {
		return nil, fmt.Errorf("pgProblemRepository.GetTestCasesByProblemID: %w", err)
	}
	defer rows.Close()

	var testCases []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		var expected []byte
		if err := rows.Scan(&tc.ID, &tc.ProblemID, &tc.Seq, &tc.SeedSchema, &tc.SeedData, &expected); err != nil {
			return nil, fmt.Errorf("pgProblemRepository.GetTestCasesByProblemID scan: %w", err)
		}
		if err := json.Unmarshal(expected, &tc.Expected); err != nil {
			return nil, fmt.Errorf("pgProblemRepository.GetTestCasesByProblemID decode expected: %w", err)
		}
		testCases = append(testCases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgProblemRepository.GetTestCasesByProblemID rows: %w", err)
	}
	return testCases, nil
}

func scanProblem(row rowScanner) (*model.Problem, error) {
	p := &model.Problem{}
	err := row.Scan(&p.ID, &p.HackathonID, &p.Title, &p.Slug, &p.Statement, &p.Difficulty, &p.Points,
		&p.ComparisonMode, &p.StrictColumnOrder, &p.Tolerance,
		&p.Limits.MaxRows, &p.Limits.TimeoutMs, &p.Limits.WorkMemKb, &p.Limits.MaxResultBytes,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}
