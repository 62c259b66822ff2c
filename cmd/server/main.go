package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sql_arena/internal/api"
	"sql_arena/internal/app/sandbox"
	"sql_arena/internal/app/service"
	"sql_arena/internal/app/worker"
	"sql_arena/internal/common/security"
	"sql_arena/internal/domain/repository"
	"sql_arena/internal/platform/config"
	"sql_arena/internal/platform/database"
	"sql_arena/internal/platform/logger"
	"sql_arena/internal/platform/queue"

	"go.uber.org/zap"
)

func main() {
	// 1. Configuration and logging
	config.Load()
	cfg := config.AppConfig
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.L()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	// 2. JWT
	security.InitJWT(cfg.JWTKey)

	// 3. Application database
	if err := database.Connect(); err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer database.Close()
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.EnsureSchema(bootCtx, database.DB); err != nil {
		log.Fatal("schema bootstrap failed", zap.Error(err))
	}

	// 4. Redis
	if err := queue.ConnectRedis(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	defer queue.CloseRedis()

	// 5. Sandbox database
	sandboxPool, err := sandbox.NewPool(bootCtx, cfg.SandboxDSN, cfg.SandboxMaxConns)
	if err != nil {
		log.Fatal("sandbox connection failed", zap.Error(err))
	}
	defer sandboxPool.Close()
	if cfg.SandboxQueryRole != "" {
		if err := sandbox.CheckQueryRole(bootCtx, sandboxPool, cfg.SandboxQueryRole); err != nil {
			log.Fatal("sandbox query role unusable", zap.Error(err))
		}
	} else {
		log.Warn("SANDBOX_QUERY_ROLE is empty; queries run as the sandbox login role")
	}
	bootCancel()
	runner := sandbox.NewPgRunner(sandboxPool, cfg.SandboxQueryRole, log)
	defaults := sandbox.Limits{
		MaxRows:        cfg.DefaultMaxRows,
		Timeout:        time.Duration(cfg.DefaultTimeoutMs) * time.Millisecond,
		WorkMemKb:      cfg.DefaultWorkMemKb,
		MaxResultBytes: cfg.DefaultMaxResultBytes,
	}

	// 6. Repositories
	tx := repository.NewSQLTransactor(database.DB)
	hackathonRepo := repository.NewPgHackathonRepository(database.DB)
	problemRepo := repository.NewPgProblemRepository(database.DB)
	participantRepo := repository.NewPgParticipantRepository(database.DB)
	submissionRepo := repository.NewPgSubmissionRepository(database.DB)
	leaderboardRepo := repository.NewPgLeaderboardRepository(database.DB)

	// 7. Services
	judgeQueue := queue.NewJudgeQueue(queue.RDB, cfg.JudgeQueueName)
	locker := queue.NewLocker(queue.RDB, cfg.JudgeLockPrefix, cfg.JudgeLockTTL)

	hackathonService := service.NewHackathonService(hackathonRepo, problemRepo, log)
	participantService := service.NewParticipantService(participantRepo, hackathonRepo, log)
	problemService := service.NewProblemService(problemRepo, hackathonRepo, runner, tx, defaults, log)
	submissionService := service.NewSubmissionService(submissionRepo, problemRepo, hackathonRepo, participantRepo, judgeQueue, tx, cfg.MaxQueryLength, log)
	leaderboardService := service.NewLeaderboardService(leaderboardRepo, hackathonRepo, participantRepo, submissionRepo, tx, queue.RDB, cfg.LeaderboardCacheTTL, log)
	judgeService := service.NewJudgeService(submissionRepo, problemRepo, hackathonRepo, leaderboardService, runner, locker, tx, defaults, log)

	// 8. Judge workers and maintenance jobs
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	pool := worker.NewJudgePool(judgeQueue, judgeService, submissionRepo, worker.PoolConfig{
		Workers:     cfg.JudgeWorkers,
		MaxAttempts: cfg.JudgeMaxAttempts,
		Backoff:     cfg.JudgeRetryBackoff,
	}, log)
	poolDone := make(chan struct{})
	go func() {
		pool.Run(workerCtx)
		close(poolDone)
	}()

	scheduler, err := worker.NewScheduler(judgeQueue, submissionRepo, hackathonService, worker.SchedulerConfig{
		StalePendingAfter: cfg.StalePendingAfter,
		RecoveryInterval:  cfg.RecoveryInterval,
		HackathonSweep:    cfg.HackathonSweep,
		MaxAttempts:       cfg.JudgeMaxAttempts,
	}, log)
	if err != nil {
		log.Fatal("scheduler setup failed", zap.Error(err))
	}
	if err := scheduler.Start(workerCtx); err != nil {
		log.Fatal("scheduler start failed", zap.Error(err))
	}

	// 9. Router and HTTP server
	router := api.NewRouter(api.Services{
		Hackathons:   hackathonService,
		Participants: participantService,
		Problems:     problemService,
		Submissions:  submissionService,
		Leaderboard:  leaderboardService,
	}, cfg.CORSOrigins, log)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 10. Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("server starting", zap.String("port", cfg.APIPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("could not listen", zap.String("port", cfg.APIPort), zap.Error(err))
		}
	}()

	<-stop

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	if err := scheduler.Shutdown(); err != nil {
		log.Error("scheduler shutdown failed", zap.Error(err))
	}
	workerCancel()
	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		log.Warn("judge workers did not stop in time")
	}

	log.Info("server and workers stopped")
}
