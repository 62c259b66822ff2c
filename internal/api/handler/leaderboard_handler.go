package handler

import (
	"net/http"
	"strconv"

	"sql_arena/internal/api/middleware"
	"sql_arena/internal/app/service"
	"sql_arena/internal/common"

	"github.com/go-chi/chi/v5"
)

type LeaderboardHandler struct {
	leaderboardService *service.LeaderboardService
}

func NewLeaderboardHandler(ls *service.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{leaderboardService: ls}
}

// RegisterRoutes mounts under /hackathons/{hackathonID}/leaderboard.
func (h *LeaderboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.getLeaderboard)                               // GET ?limit=N for the top N
	r.With(middleware.Authenticator).Get("/me", h.getStanding) // caller's own rank

	r.Group(func(adminRouter chi.Router) {
		adminRouter.Use(middleware.Authenticator)
		adminRouter.Use(middleware.AdminOnly)
		adminRouter.Post("/rebuild", h.rebuild)
	})
}

func (h *LeaderboardHandler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			common.RespondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.leaderboardService.Top(r.Context(), chi.URLParam(r, "hackathonID"), limit)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entries)
}

func (h *LeaderboardHandler) getStanding(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	entry, err := h.leaderboardService.Standing(r.Context(), chi.URLParam(r, "hackathonID"), userID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entry)
}

func (h *LeaderboardHandler) rebuild(w http.ResponseWriter, r *http.Request) {
	entries, err := h.leaderboardService.Rebuild(r.Context(), chi.URLParam(r, "hackathonID"))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entries)
}
