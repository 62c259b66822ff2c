package service

import (
	"context"
	"strings"

	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
	"sql_arena/internal/domain/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxDisplayNameLength = 64

type ParticipantService struct {
	participantRepo repository.ParticipantRepository
	hackathonRepo   repository.HackathonRepository
	log             *zap.Logger
}

func NewParticipantService(participantRepo repository.ParticipantRepository, hackathonRepo repository.HackathonRepository, log *zap.Logger) *ParticipantService {
	return &ParticipantService{participantRepo: participantRepo, hackathonRepo: hackathonRepo, log: log.Named("participant")}
}

type RegisterRequest struct {
	DisplayName string `json:"display_name"`
}

// Register enrols the authenticated user in a hackathon that has not closed yet.
func (s *ParticipantService) Register(ctx context.Context, hackathonID, userID string, req RegisterRequest) (*model.Participant, error) {
	name := strings.TrimSpace(req.DisplayName)
	if name == "" || len([]rune(name)) > maxDisplayNameLength {
		return nil, common.Errorf("display_name must be 1-%d characters: %w", maxDisplayNameLength, common.ErrValidation)
	}
	h, err := s.hackathonRepo.FindHackathonByID(ctx, nil, hackathonID)
	if err != nil {
		return nil, err
	}
	if h.Status == model.HackathonClosed {
		return nil, common.Errorf("hackathon is closed: %w", common.ErrInvalidState)
	}

	p := &model.Participant{
		ID:          uuid.NewString(),
		HackathonID: hackathonID,
		UserID:      userID,
		DisplayName: name,
	}
	if err := s.participantRepo.CreateParticipant(ctx, nil, p); err != nil {
		return nil, err
	}
	s.log.Info("participant registered", zap.String("hackathon_id", hackathonID), zap.String("participant_id", p.ID))
	return p, nil
}

func (s *ParticipantService) GetForUser(ctx context.Context, hackathonID, userID string) (*model.Participant, error) {
	return s.participantRepo.FindParticipantByUser(ctx, hackathonID, userID)
}
