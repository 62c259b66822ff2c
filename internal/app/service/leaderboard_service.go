package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"sql_arena/internal/app/ranking"
	"sql_arena/internal/app/scoring"
	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"
	"sql_arena/internal/domain/repository"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const leaderboardCachePrefix = "leaderboard:"

// LeaderboardService maintains the materialized leaderboard. It only ever reads terminal
// submissions and owns the leaderboard tables exclusively.
type LeaderboardService struct {
	leaderboardRepo repository.LeaderboardRepository
	hackathonRepo   repository.HackathonRepository
	participantRepo repository.ParticipantRepository
	submissionRepo  repository.SubmissionRepository
	tx              repository.Transactor
	rdb             *redis.Client
	cacheTTL        time.Duration
	log             *zap.Logger
}

func NewLeaderboardService(
	leaderboardRepo repository.LeaderboardRepository,
	hackathonRepo repository.HackathonRepository,
	participantRepo repository.ParticipantRepository,
	submissionRepo repository.SubmissionRepository,
	tx repository.Transactor,
	rdb *redis.Client,
	cacheTTL time.Duration,
	log *zap.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		leaderboardRepo: leaderboardRepo,
		hackathonRepo:   hackathonRepo,
		participantRepo: participantRepo,
		submissionRepo:  submissionRepo,
		tx:              tx,
		rdb:             rdb,
		cacheTTL:        cacheTTL,
		log:             log.Named("leaderboard"),
	}
}

// ApplyTerminal folds one terminal submission into the leaderboard inside tx and returns the
// participant's updated entry. A submission that was already folded changes nothing.
func (s *LeaderboardService) ApplyTerminal(ctx context.Context, tx *sql.Tx, t ranking.Terminal, agg model.Aggregation) (*model.LeaderboardEntry, error) {
	if err := s.hackathonRepo.LockHackathon(ctx, tx, t.HackathonID, false); err != nil {
		return nil, err
	}
	if err := s.participantRepo.LockParticipant(ctx, tx, t.ParticipantID); err != nil {
		return nil, err
	}
	fresh, err := s.leaderboardRepo.MarkApplied(ctx, tx, t.HackathonID, t.SubmissionID)
	if err != nil {
		return nil, err
	}
	scores, err := s.leaderboardRepo.ListProblemScores(ctx, tx, t.HackathonID, t.ParticipantID)
	if err != nil {
		return nil, err
	}
	if fresh {
		idx := -1
		for i := range scores {
			if scores[i].ProblemID == t.ProblemID {
				idx = i
				break
			}
		}
		var current model.ProblemScore
		if idx >= 0 {
			current = scores[idx]
		}
		folded := ranking.Fold(current, t)
		if idx >= 0 {
			scores[idx] = folded
		} else {
			scores = append(scores, folded)
		}
		if err := s.leaderboardRepo.UpsertProblemScore(ctx, tx, folded); err != nil {
			return nil, err
		}
	}

	entry := ranking.Entry(t.HackathonID, t.ParticipantID, scores, agg)
	if fresh {
		if err := s.leaderboardRepo.UpsertEntry(ctx, tx, entry); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}

// Ranking returns the ordered leaderboard, served from Redis while the cache is warm.
func (s *LeaderboardService) Ranking(ctx context.Context, hackathonID string) ([]model.LeaderboardEntry, error) {
	// read before the entries so a concurrent Invalidate strands this write under an old generation
	gen := s.generation(ctx, hackathonID)
	if cached, ok := s.cached(ctx, hackathonID, gen); ok {
		return cached, nil
	}
	if _, err := s.hackathonRepo.FindHackathonByID(ctx, nil, hackathonID); err != nil {
		return nil, err
	}
	entries, err := s.leaderboardRepo.ListEntries(ctx, hackathonID)
	if err != nil {
		return nil, common.Errorf("failed to load leaderboard: %w", err)
	}
	ranked := ranking.Rank(entries)
	s.store(ctx, hackathonID, gen, ranked)
	return ranked, nil
}

// Top returns the first n ranked entries, or all of them when n is not positive.
func (s *LeaderboardService) Top(ctx context.Context, hackathonID string, n int) ([]model.LeaderboardEntry, error) {
	ranked, err := s.Ranking(ctx, hackathonID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

// Standing returns the caller's own entry. A registered participant with nothing judged yet gets
// an empty entry with rank 0.
func (s *LeaderboardService) Standing(ctx context.Context, hackathonID, userID string) (*model.LeaderboardEntry, error) {
	participant, err := s.participantRepo.FindParticipantByUser(ctx, hackathonID, userID)
	if err != nil {
		return nil, err
	}
	ranked, err := s.Ranking(ctx, hackathonID)
	if err != nil {
		return nil, err
	}
	for i := range ranked {
		if ranked[i].ParticipantID == participant.ID {
			return &ranked[i], nil
		}
	}
	return &model.LeaderboardEntry{
		HackathonID:   hackathonID,
		ParticipantID: participant.ID,
		DisplayName:   participant.DisplayName,
	}, nil
}

// Rebuild discards the materialized leaderboard and replays every terminal submission.
func (s *LeaderboardService) Rebuild(ctx context.Context, hackathonID string) ([]model.LeaderboardEntry, error) {
	var ranked []model.LeaderboardEntry
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if err := s.hackathonRepo.LockHackathon(ctx, tx, hackathonID, true); err != nil {
			return err
		}
		h, err := s.hackathonRepo.FindHackathonByID(ctx, tx, hackathonID)
		if err != nil {
			return err
		}
		policy, err := scoring.FromConfig(h.Scoring)
		if err != nil {
			return err
		}
		subs, err := s.submissionRepo.ListTerminalByHackathon(ctx, tx, hackathonID)
		if err != nil {
			return err
		}

		board := ranking.NewBoard(hackathonID, policy.Aggregation())
		for _, sub := range subs {
			board.Apply(ranking.FromSubmission(sub))
		}

		if err := s.leaderboardRepo.ResetHackathon(ctx, tx, hackathonID); err != nil {
			return err
		}
		for _, id := range board.AppliedIDs() {
			if _, err := s.leaderboardRepo.MarkApplied(ctx, tx, hackathonID, id); err != nil {
				return err
			}
		}
		for _, ps := range board.ProblemScores() {
			if err := s.leaderboardRepo.UpsertProblemScore(ctx, tx, ps); err != nil {
				return err
			}
		}
		ranked = board.Entries()
		for _, e := range ranked {
			if err := s.leaderboardRepo.UpsertEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		s.log.Info("leaderboard rebuilt",
			zap.String("hackathon_id", hackathonID),
			zap.Int("submissions", len(subs)),
			zap.Int("entries", len(ranked)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Invalidate(ctx, hackathonID)
	return s.Ranking(ctx, hackathonID)
}

// Invalidate moves the hackathon to a new cache generation. Failures only delay freshness until
// the TTL expires.
func (s *LeaderboardService) Invalidate(ctx context.Context, hackathonID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Incr(ctx, generationKey(hackathonID)).Err(); err != nil {
		s.log.Warn("leaderboard cache invalidation failed", zap.String("hackathon_id", hackathonID), zap.Error(err))
	}
}

func generationKey(hackathonID string) string {
	return leaderboardCachePrefix + hackathonID + ":gen"
}

func rankingKey(hackathonID string, gen int64) string {
	return leaderboardCachePrefix + hackathonID + ":" + strconv.FormatInt(gen, 10)
}

// generation returns the current cache generation, or -1 when the cache is off or unreadable.
func (s *LeaderboardService) generation(ctx context.Context, hackathonID string) int64 {
	if s.rdb == nil || s.cacheTTL <= 0 {
		return -1
	}
	gen, err := s.rdb.Get(ctx, generationKey(hackathonID)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0
	case err != nil:
		s.log.Warn("leaderboard cache generation read failed", zap.Error(err))
		return -1
	}
	return gen
}

func (s *LeaderboardService) cached(ctx context.Context, hackathonID string, gen int64) ([]model.LeaderboardEntry, bool) {
	if gen < 0 {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, rankingKey(hackathonID, gen)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("leaderboard cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var entries []model.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (s *LeaderboardService) store(ctx context.Context, hackathonID string, gen int64, entries []model.LeaderboardEntry) {
	if gen < 0 {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, rankingKey(hackathonID, gen), raw, s.cacheTTL).Err(); err != nil {
		s.log.Warn("leaderboard cache write failed", zap.Error(err))
	}
}
