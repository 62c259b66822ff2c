package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
	"sql_arena/internal/domain/repository"
	"sql_arena/internal/platform/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SubmissionService struct {
	submissionRepo  repository.SubmissionRepository
	problemRepo     repository.ProblemRepository
	hackathonRepo   repository.HackathonRepository
	participantRepo repository.ParticipantRepository
	judgeQueue      *queue.JudgeQueue
	tx              repository.Transactor
	maxQueryLength  int
	log             *zap.Logger
	now             func() time.Time
}

func NewSubmissionService(
	subRepo repository.SubmissionRepository,
	probRepo repository.ProblemRepository,
	hackathonRepo repository.HackathonRepository,
	participantRepo repository.ParticipantRepository,
	judgeQueue *queue.JudgeQueue,
	tx repository.Transactor,
	maxQueryLength int,
	log *zap.Logger,
) *SubmissionService {
	return &SubmissionService{
		submissionRepo:  subRepo,
		problemRepo:     probRepo,
		hackathonRepo:   hackathonRepo,
		participantRepo: participantRepo,
		judgeQueue:      judgeQueue,
		tx:              tx,
		maxQueryLength:  maxQueryLength,
		log:             log.Named("submission"),
		now:             time.Now,
	}
}

type CreateSubmissionRequest struct {
	ProblemID string `json:"problem_id"`
	Query     string `json:"query"`
}

// CreateSubmission validates and records a pending submission, then queues it for judging.
// Nothing is stored when validation fails.
func (s *SubmissionService) CreateSubmission(ctx context.Context, userID string, req CreateSubmissionRequest) (*model.Submission, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, common.Errorf("query is empty: %w", common.ErrValidation)
	}
	if s.maxQueryLength > 0 && len(req.Query) > s.maxQueryLength {
		return nil, common.Errorf("query exceeds %d bytes: %w", s.maxQueryLength, common.ErrValidation)
	}
	if strings.TrimSpace(req.ProblemID) == "" {
		return nil, common.Errorf("problem_id is required: %w", common.ErrValidation)
	}

	problem, err := s.problemRepo.FindProblemByID(ctx, req.ProblemID)
	if err != nil {
		return nil, common.Errorf("problem not found: %w", err)
	}
	participant, err := s.participantRepo.FindParticipantByUser(ctx, problem.HackathonID, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.Errorf("not registered for this hackathon: %w", common.ErrForbidden)
		}
		return nil, err
	}
	hackathon, err := s.hackathonRepo.FindHackathonByID(ctx, nil, problem.HackathonID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !hackathon.AcceptsSubmissions(now) {
		return nil, common.Errorf("hackathon is not accepting submissions: %w", common.ErrInvalidState)
	}

	submission := &model.Submission{
		ID:            uuid.NewString(),
		HackathonID:   hackathon.ID,
		ProblemID:     problem.ID,
		ParticipantID: participant.ID,
		Query:         req.Query,
		SubmittedAt:   now,
		Verdict:       model.VerdictPending,
	}

	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		return s.submissionRepo.CreateSubmission(ctx, tx, submission)
	})
	if err != nil {
		return nil, common.Errorf("failed to create submission (%v): %w", err, common.ErrPersistence)
	}

	// The row is committed; if the push is lost the stale-pending sweep requeues it.
	if err := s.judgeQueue.Push(ctx, queue.JudgeJob{SubmissionID: submission.ID}); err != nil {
		s.log.Warn("judge enqueue failed, leaving to recovery", zap.String("submission_id", submission.ID), zap.Error(err))
	}

	s.log.Info("submission created",
		zap.String("submission_id", submission.ID),
		zap.String("problem_id", problem.ID),
		zap.String("participant_id", participant.ID))
	return submission, nil
}

// GetSubmission returns a submission to its author or to an admin.
func (s *SubmissionService) GetSubmission(ctx context.Context, id, userID, role string) (*model.Submission, error) {
	sub, err := s.submissionRepo.GetSubmissionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role == model.RoleAdmin {
		return sub, nil
	}
	p, err := s.participantRepo.FindParticipantByID(ctx, sub.ParticipantID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, common.ErrNotFound
	}
	return forParticipant(*sub), nil
}

type ListSubmissionsQuery struct {
	HackathonID   string
	ProblemID     string
	ParticipantID string // admins only; empty means the caller's own submissions
}

// ListSubmissions returns submissions of one participant in a hackathon, newest first.
// Participants only ever see their own.
func (s *SubmissionService) ListSubmissions(ctx context.Context, q ListSubmissionsQuery, userID, role string) ([]model.Submission, error) {
	participantID := q.ParticipantID
	if participantID == "" || role != model.RoleAdmin {
		if participantID != "" {
			return nil, common.Errorf("participant_id is only available to admins: %w", common.ErrForbidden)
		}
		p, err := s.participantRepo.FindParticipantByUser(ctx, q.HackathonID, userID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, common.Errorf("not registered for this hackathon: %w", common.ErrNotFound)
			}
			return nil, err
		}
		participantID = p.ID
	} else {
		p, err := s.participantRepo.FindParticipantByID(ctx, participantID)
		if err != nil {
			return nil, err
		}
		if p.HackathonID != q.HackathonID {
			return nil, common.ErrNotFound
		}
	}

	subs, err := s.submissionRepo.ListByParticipant(ctx, participantID, q.ProblemID)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	if role != model.RoleAdmin {
		for i := range subs {
			subs[i] = *forParticipant(subs[i])
		}
	}
	return subs, nil
}

// forParticipant drops the admin-only explanation, which can quote hidden expected values.
func forParticipant(sub model.Submission) *model.Submission {
	sub.FeedbackDetail = nil
	return &sub
}
