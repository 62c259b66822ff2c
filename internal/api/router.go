package api

import (
	"net/http"
	"time"

	"sql_arena/internal/api/handler"
	"sql_arena/internal/api/middleware"
	"sql_arena/internal/app/service"
	"sql_arena/internal/common/security"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth/v5"
	"go.uber.org/zap"
)

type Services struct {
	Hackathons   *service.HackathonService
	Participants *service.ParticipantService
	Problems     *service.ProblemService
	Submissions  *service.SubmissionService
	Leaderboard  *service.LeaderboardService
}

func NewRouter(svc Services, allowedOrigins []string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Base Middlewares
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(log.Named("http")))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         600,
	}))

	// Searches "Authorization: Bearer T" and stores the verified token (or the error) in the context.
	r.Use(jwtauth.Verifier(security.TokenAuth))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	hackathonHandler := handler.NewHackathonHandler(svc.Hackathons, svc.Participants)
	problemHandler := handler.NewProblemHandler(svc.Problems)
	submissionHandler := handler.NewSubmissionHandler(svc.Submissions)
	leaderboardHandler := handler.NewLeaderboardHandler(svc.Leaderboard)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Route("/hackathons", func(hr chi.Router) {
			hackathonHandler.RegisterRoutes(hr)
			hr.Route("/{hackathonID}/problems", problemHandler.RegisterHackathonRoutes)
			hr.Route("/{hackathonID}/leaderboard", leaderboardHandler.RegisterRoutes)
			hr.Route("/{hackathonID}/submissions", submissionHandler.RegisterHackathonRoutes)
		})
		v1.Route("/problems", problemHandler.RegisterRoutes)
		v1.Route("/submissions", submissionHandler.RegisterRoutes)
	})

	return r
}
