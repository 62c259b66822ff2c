package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
)

type HackathonRepository interface {
	CreateHackathon(ctx context.Context, tx *sql.Tx, h *model.Hackathon) error
	FindHackathonByID(ctx context.Context, tx *sql.Tx, id string) (*model.Hackathon, error)
	ListHackathons(ctx context.Context, status model.HackathonStatus) ([]model.Hackathon, error)
	// TransitionStatus moves a hackathon from one status to another; ErrInvalidState when it is not in `from`.
	TransitionStatus(ctx context.Context, tx *sql.Tx, id string, from, to model.HackathonStatus) error
	ListExpiredActive(ctx context.Context, now time.Time) ([]model.Hackathon, error)
	// LockHackathon holds the hackathon row until tx ends. Leaderboard folds take it shared,
	// rebuilds exclusive, so a rebuild never interleaves with a fold.
	LockHackathon(ctx context.Context, tx *sql.Tx, id string, exclusive bool) error
}

type pgHackathonRepository struct {
	db *sql.DB
}

func NewPgHackathonRepository(db *sql.DB) HackathonRepository {
	return &pgHackathonRepository{db: db}
}

const hackathonColumns = `id, name, slug, description, start_time, end_time, status, scoring, created_by, created_at, updated_at`

func (r *pgHackathonRepository) CreateHackathon(ctx context.Context, tx *sql.Tx, h *model.Hackathon) error {
	scoring, err := json.Marshal(h.Scoring)
	if err != nil {
		return fmt.Errorf("pgHackathonRepository.CreateHackathon: marshal scoring: %w", err)
	}
	query := `INSERT INTO hackathons (id, name, slug, description, start_time, end_time, status, scoring, created_by)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING created_at, updated_at`
	err = pick(r.db, tx).QueryRowContext(ctx, query,
		h.ID, h.Name, h.Slug, h.Description, h.StartTime, h.EndTime, h.Status, scoring, h.CreatedByID,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return fmt.Errorf("hackathon with this slug already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgHackathonRepository.CreateHackathon: %w", err)
	}
	return nil
}

func (r *pgHackathonRepository) FindHackathonByID(ctx context.Context, tx *sql.Tx, id string) (*model.Hackathon, error) {
	query := `SELECT ` + hackathonColumns + ` FROM hackathons WHERE id = $1`
	h, err := scanHackathon(pick(r.db, tx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgHackathonRepository.FindHackathonByID: %w", err)
	}
	return h, nil
}

func (r *pgHackathonRepository) ListHackathons(ctx context.Context, status model.HackathonStatus) ([]model.Hackathon, error) {
	query := `SELECT ` + hackathonColumns + ` FROM hackathons WHERE ($1 = '' OR status = $1) ORDER BY start_time DESC, id`
	return r.queryHackathons(ctx, "ListHackathons", query, string(status))
}

func (r *pgHackathonRepository) ListExpiredActive(ctx context.Context, now time.Time) ([]model.Hackathon, error) {
	query := `SELECT ` + hackathonColumns + ` FROM hackathons WHERE status = 'active' AND end_time <= $1 ORDER BY end_time`
	return r.queryHackathons(ctx, "ListExpiredActive", query, now)
}

func (r *pgHackathonRepository) queryHackathons(ctx context.Context, op, query string, args ...any) ([]model.Hackathon, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgHackathonRepository.%s: %w", op, err)
	}
	defer rows.Close()

	var out []model.Hackathon
	for rows.Next() {
		h, err := scanHackathon(rows)
		if err != nil {
			return nil, fmt.Errorf("pgHackathonRepository.%s scan: %w", op, err)
		}
		out = append(out, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgHackathonRepository.%s rows: %w", op, err)
	}
	return out, nil
}

func (r *pgHackathonRepository) TransitionStatus(ctx context.Context, tx *sql.Tx, id string, from, to model.HackathonStatus) error {
	query := `UPDATE hackathons SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = $3`
	res, err := pick(r.db, tx).ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("pgHackathonRepository.TransitionStatus: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgHackathonRepository.TransitionStatus rows affected: %w", err)
	}
	if n == 0 {
		if _, err := r.FindHackathonByID(ctx, tx, id); err != nil {
			return err
		}
		return fmt.Errorf("hackathon is not %s: %w", from, common.ErrInvalidState)
	}
	return nil
}

func (r *pgHackathonRepository) LockHackathon(ctx context.Context, tx *sql.Tx, id string, exclusive bool) error {
	query := `SELECT id FROM hackathons WHERE id = $1 FOR SHARE`
	if exclusive {
		query = `SELECT id FROM hackathons WHERE id = $1 FOR UPDATE`
	}
	var locked string
	if err := pick(r.db, tx).QueryRowContext(ctx, query, id).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrNotFound
		}
		return fmt.Errorf("pgHackathonRepository.LockHackathon: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHackathon(row rowScanner) (*model.Hackathon, error) {
	h := &model.Hackathon{}
	var scoring []byte
	if err := row.Scan(&h.ID, &h.Name, &h.Slug, &h.Description, &h.StartTime, &h.EndTime,
		&h.Status, &scoring, &h.CreatedByID, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	if len(scoring) > 0 {
		if err := json.Unmarshal(scoring, &h.Scoring); err != nil {
			return nil, fmt.Errorf("decode scoring: %w", err)
		}
	}
	return h, nil
}
