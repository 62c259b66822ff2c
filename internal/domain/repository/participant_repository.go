package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
)

type ParticipantRepository interface {
	CreateParticipant(ctx context.Context, tx *sql.Tx, p *model.Participant) error
	FindParticipantByID(ctx context.Context, id string) (*model.Participant, error)
	FindParticipantByUser(ctx context.Context, hackathonID, userID string) (*model.Participant, error)
	// LockParticipant serializes leaderboard folds for one participant until tx ends.
	LockParticipant(ctx context.Context, tx *sql.Tx, id string) error
}

type pgParticipantRepository struct {
	db *sql.DB
}

func NewPgParticipantRepository(db *sql.DB) ParticipantRepository {
	return &pgParticipantRepository{db: db}
}

func (r *pgParticipantRepository) CreateParticipant(ctx context.Context, tx *sql.Tx, p *model.Participant) error {
	query := `INSERT INTO participants (id, hackathon_id, user_id, display_name) VALUES ($1, $2, $3, $4) RETURNING created_at`
	err := pick(r.db, tx).QueryRowContext(ctx, query, p.ID, p.HackathonID, p.UserID, p.DisplayName).Scan(&p.CreatedAt)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return fmt.Errorf("user already registered for this hackathon: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgParticipantRepository.CreateParticipant: %w", err)
	}
	return nil
}

func (r *pgParticipantRepository) FindParticipantByID(ctx context.Context, id string) (*model.Participant, error) {
	query := `SELECT id, hackathon_id, user_id, display_name, created_at FROM participants WHERE id = $1`
	return r.findOne(ctx, "FindParticipantByID", query, id)
}

func (r *pgParticipantRepository) FindParticipantByUser(ctx context.Context, hackathonID, userID string) (*model.Participant, error) {
	query := `SELECT id, hackathon_id, user_id, display_name, created_at FROM participants WHERE hackathon_id = $1 AND user_id = $2`
	return r.findOne(ctx, "FindParticipantByUser", query, hackathonID, userID)
}

func (r *pgParticipantRepository) findOne(ctx context.Context, op, query string, args ...any) (*model.Participant, error) {
	p := &model.Participant{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.HackathonID, &p.UserID, &p.DisplayName, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgParticipantRepository.%s: %w", op, err)
	}
	return p, nil
}

func (r *pgParticipantRepository) LockParticipant(ctx context.Context, tx *sql.Tx, id string) error {
	var locked string
	err := pick(r.db, tx).QueryRowContext(ctx, `SELECT id FROM participants WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrNotFound
		}
		return fmt.Errorf("pgParticipantRepository.LockParticipant: %w", err)
	}
	return nil
}
