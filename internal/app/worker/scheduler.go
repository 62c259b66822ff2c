package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"sql_arena/internal/domain/model"
	"sql_arena/internal/platform/queue"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const recoveryBatch = 200

type pendingLister interface {
	ListPendingSubmittedBefore(ctx context.Context, before time.Time, maxAttempts, limit int) ([]model.Submission, error)
}

type hackathonCloser interface {
	CloseExpired(ctx context.Context) (int, error)
}

type SchedulerConfig struct {
	StalePendingAfter time.Duration
	RecoveryInterval  time.Duration
	HackathonSweep    time.Duration
	MaxAttempts       int
}

// Scheduler runs the periodic maintenance jobs: requeueing submissions whose judge job was lost
// and closing hackathons past their end time.
type Scheduler struct {
	sched      gocron.Scheduler
	queue      *queue.JudgeQueue
	pending    pendingLister
	hackathons hackathonCloser
	cfg        SchedulerConfig
	log        *zap.Logger
	now        func() time.Time
}

func NewScheduler(q *queue.JudgeQueue, pending pendingLister, hackathons hackathonCloser, cfg SchedulerConfig, log *zap.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		sched:      sched,
		queue:      q,
		pending:    pending,
		hackathons: hackathons,
		cfg:        cfg,
		log:        log.Named("scheduler"),
		now:        time.Now,
	}, nil
}

// Start registers the jobs and starts the scheduler. The jobs run with ctx until Shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.sched.NewJob(
		gocron.DurationJob(s.cfg.RecoveryInterval),
		gocron.NewTask(func() {
			if _, err := s.RequeueStale(ctx); err != nil {
				s.log.Error("stale submission sweep failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("schedule stale submission sweep: %w", err)
	}

	if _, err := s.sched.NewJob(
		gocron.DurationJob(s.cfg.HackathonSweep),
		gocron.NewTask(func() {
			if _, err := s.hackathons.CloseExpired(ctx); err != nil {
				s.log.Error("hackathon auto-close failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("schedule hackathon sweep: %w", err)
	}

	s.sched.Start()
	s.log.Info("scheduler started",
		zap.Duration("recovery_interval", s.cfg.RecoveryInterval),
		zap.Duration("hackathon_sweep", s.cfg.HackathonSweep))
	return nil
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// RequeueStale pushes a fresh judge job for every submission pending longer than
// StalePendingAfter. Submissions that used up their judge attempts are never listed, so they
// cannot crowd recoverable ones out of the batch; the pool already alerted on them.
func (s *Scheduler) RequeueStale(ctx context.Context) (int, error) {
	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = math.MaxInt32
	}
	stale, err := s.pending.ListPendingSubmittedBefore(ctx, s.now().Add(-s.cfg.StalePendingAfter), maxAttempts, recoveryBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale submissions: %w", err)
	}
	requeued := 0
	for _, sub := range stale {
		if err := s.queue.Push(ctx, queue.JudgeJob{SubmissionID: sub.ID, Attempt: sub.JudgeAttempts}); err != nil {
			return requeued, err
		}
		requeued++
	}
	if requeued > 0 {
		s.log.Info("requeued stale submissions", zap.Int("count", requeued))
	}
	return requeued, nil
}
