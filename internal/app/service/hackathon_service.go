package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sql_arena/internal/app/scoring"
	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
	"sql_arena/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

type HackathonService struct {
	hackathonRepo repository.HackathonRepository
	problemRepo   repository.ProblemRepository
	log           *zap.Logger
	now           func() time.Time
}

func NewHackathonService(hackathonRepo repository.HackathonRepository, problemRepo repository.ProblemRepository, log *zap.Logger) *HackathonService {
	return &HackathonService{
		hackathonRepo: hackathonRepo,
		problemRepo:   problemRepo,
		log:           log.Named("hackathon"),
		now:           time.Now,
	}
}

type CreateHackathonRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	StartTime   time.Time           `json:"start_time"`
	EndTime     time.Time           `json:"end_time"`
	Scoring     model.ScoringConfig `json:"scoring"`
}

func (s *HackathonService) CreateHackathon(ctx context.Context, userID string, req CreateHackathonRequest) (*model.Hackathon, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, common.Errorf("name is required: %w", common.ErrValidation)
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() || !req.EndTime.After(req.StartTime) {
		return nil, common.Errorf("end_time must be after start_time: %w", common.ErrValidation)
	}
	if err := scoring.Validate(req.Scoring); err != nil {
		return nil, err
	}
	if req.Scoring.Policy == "" {
		req.Scoring.Policy = model.PolicyFixed
	}
	if req.Scoring.Aggregation == "" {
		req.Scoring.Aggregation = model.AggregationBestOf
	}

	h := &model.Hackathon{
		ID:          uuid.NewString(),
		Name:        name,
		Slug:        slug.Make(name),
		Description: req.Description,
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
		Status:      model.HackathonDraft,
		Scoring:     req.Scoring,
		CreatedByID: &userID,
	}
	if err := s.hackathonRepo.CreateHackathon(ctx, nil, h); err != nil {
		return nil, common.Errorf("failed to create hackathon: %w", err)
	}
	s.log.Info("hackathon created", zap.String("hackathon_id", h.ID), zap.String("slug", h.Slug))
	return h, nil
}

// GetHackathon hides drafts from everyone but admins.
func (s *HackathonService) GetHackathon(ctx context.Context, id, role string) (*model.Hackathon, error) {
	h, err := s.hackathonRepo.FindHackathonByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if h.Status == model.HackathonDraft && role != model.RoleAdmin {
		return nil, common.ErrNotFound
	}
	return h, nil
}

func (s *HackathonService) ListHackathons(ctx context.Context, status model.HackathonStatus, role string) ([]model.Hackathon, error) {
	switch status {
	case "", model.HackathonDraft, model.HackathonActive, model.HackathonClosed:
	default:
		return nil, common.Errorf("unknown status %q: %w", status, common.ErrValidation)
	}
	if status == model.HackathonDraft && role != model.RoleAdmin {
		return []model.Hackathon{}, nil
	}
	all, err := s.hackathonRepo.ListHackathons(ctx, status)
	if err != nil {
		return nil, common.Errorf("failed to list hackathons: %w", err)
	}
	visible := make([]model.Hackathon, 0, len(all))
	for _, h := range all {
		if h.Status != model.HackathonDraft || role == model.RoleAdmin {
			visible = append(visible, h)
		}
	}
	return visible, nil
}

// Activate opens a draft hackathon for submissions. Its problems are frozen from here on.
func (s *HackathonService) Activate(ctx context.Context, id string) (*model.Hackathon, error) {
	h, err := s.hackathonRepo.FindHackathonByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !h.EndTime.After(s.now()) {
		return nil, common.Errorf("hackathon already ended: %w", common.ErrInvalidState)
	}
	problems, err := s.problemRepo.ListProblemsByHackathon(ctx, id)
	if err != nil {
		return nil, common.Errorf("failed to list problems: %w", err)
	}
	if len(problems) == 0 {
		return nil, common.Errorf("hackathon has no problems: %w", common.ErrInvalidState)
	}
	if err := s.hackathonRepo.TransitionStatus(ctx, nil, id, model.HackathonDraft, model.HackathonActive); err != nil {
		return nil, err
	}
	s.log.Info("hackathon activated", zap.String("hackathon_id", id))
	return s.hackathonRepo.FindHackathonByID(ctx, nil, id)
}

func (s *HackathonService) Close(ctx context.Context, id string) (*model.Hackathon, error) {
	if err := s.hackathonRepo.TransitionStatus(ctx, nil, id, model.HackathonActive, model.HackathonClosed); err != nil {
		return nil, err
	}
	s.log.Info("hackathon closed", zap.String("hackathon_id", id))
	return s.hackathonRepo.FindHackathonByID(ctx, nil, id)
}

// CloseExpired closes every active hackathon whose end time has passed.
func (s *HackathonService) CloseExpired(ctx context.Context) (int, error) {
	expired, err := s.hackathonRepo.ListExpiredActive(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list expired hackathons: %w", err)
	}
	closed := 0
	for _, h := range expired {
		if err := s.hackathonRepo.TransitionStatus(ctx, nil, h.ID, model.HackathonActive, model.HackathonClosed); err != nil {
			s.log.Warn("auto-close failed", zap.String("hackathon_id", h.ID), zap.Error(err))
			continue
		}
		s.log.Info("hackathon auto-closed", zap.String("hackathon_id", h.ID), zap.Time("end_time", h.EndTime))
		closed++
	}
	return closed, nil
}
