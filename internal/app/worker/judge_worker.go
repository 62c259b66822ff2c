package worker

import (
	"context"
	"sync"
	"time"

	"sql_arena/internal/app/service"
	"sql_arena/internal/platform/queue"

	"go.uber.org/zap"
)

const maxRetryBackoff = 30 * time.Second

// Judger is the part of the judge service the pool drives.
type Judger interface {
	Judge(ctx context.Context, submissionID string) (service.JudgeOutcome, error)
}

type attemptCounter interface {
	IncrementJudgeAttempts(ctx context.Context, submissionID string) error
}

type PoolConfig struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	PopTimeout  time.Duration
}

// JudgePool runs Workers goroutines that pop judge jobs and judge them independently.
type JudgePool struct {
	queue    *queue.JudgeQueue
	judge    Judger
	attempts attemptCounter
	cfg      PoolConfig
	log      *zap.Logger
}

func NewJudgePool(q *queue.JudgeQueue, judge Judger, attempts attemptCounter, cfg PoolConfig, log *zap.Logger) *JudgePool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	return &JudgePool{queue: q, judge: judge, attempts: attempts, cfg: cfg, log: log.Named("judge_pool")}
}

// Run blocks until ctx is cancelled and every worker has finished its current job.
func (p *JudgePool) Run(ctx context.Context) {
	p.log.Info("judge workers started", zap.Int("workers", p.cfg.Workers), zap.String("queue", p.queue.Name()))
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	p.log.Info("judge workers stopped")
}

func (p *JudgePool) loop(ctx context.Context, id int) {
	log := p.log.With(zap.Int("worker", id))
	for ctx.Err() == nil {
		job, err := p.queue.Pop(ctx, p.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to pop judge job", zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, *job, log)
	}
}

func (p *JudgePool) handle(ctx context.Context, job queue.JudgeJob, log *zap.Logger) {
	log = log.With(zap.String("submission_id", job.SubmissionID), zap.Int("attempt", job.Attempt))

	outcome, err := p.judge.Judge(ctx, job.SubmissionID)
	if err == nil {
		log.Debug("judge job done", zap.String("outcome", string(outcome)))
		return
	}
	if !service.IsRetryable(err) {
		log.Warn("dropping judge job", zap.Error(err))
		return
	}
	if ctx.Err() != nil {
		// shutting down; the stale-pending sweep picks it up again
		return
	}

	if incErr := p.attempts.IncrementJudgeAttempts(ctx, job.SubmissionID); incErr != nil {
		log.Warn("failed to record judge attempt", zap.Error(incErr))
	}
	next := job.Attempt + 1
	if next >= p.cfg.MaxAttempts {
		log.Error("judge attempts exhausted, submission left pending for an operator", zap.Error(err))
		return
	}

	log.Warn("judging failed, retrying", zap.Error(err))
	if !sleep(ctx, backoff(p.cfg.Backoff, job.Attempt)) {
		return
	}
	if err := p.queue.Push(ctx, queue.JudgeJob{SubmissionID: job.SubmissionID, Attempt: next}); err != nil {
		log.Error("failed to requeue judge job", zap.Error(err))
	}
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < maxRetryBackoff; i++ {
		d *= 2
	}
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
