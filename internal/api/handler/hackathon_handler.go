package handler

import (
	"encoding/json"
	"net/http"

	"sql_arena/internal/api/middleware"
	"sql_arena/internal/app/service"
	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type HackathonHandler struct {
	hackathonService   *service.HackathonService
	participantService *service.ParticipantService
}

func NewHackathonHandler(hs *service.HackathonService, ps *service.ParticipantService) *HackathonHandler {
	return &HackathonHandler{hackathonService: hs, participantService: ps}
}

func (h *HackathonHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.Identify).Get("/", h.listHackathons)            // GET /api/v1/hackathons?status=active
	r.With(middleware.Identify).Get("/{hackathonID}", h.getHackathon) // GET /api/v1/hackathons/{id}

	r.Group(func(authRouter chi.Router) {
		authRouter.Use(middleware.Authenticator)
		authRouter.Post("/{hackathonID}/participants", h.register)
		authRouter.Get("/{hackathonID}/participants/me", h.me)
	})

	r.Group(func(adminRouter chi.Router) {
		adminRouter.Use(middleware.Authenticator)
		adminRouter.Use(middleware.AdminOnly)
		adminRouter.Post("/", h.createHackathon)
		adminRouter.Post("/{hackathonID}/activate", h.activate)
		adminRouter.Post("/{hackathonID}/close", h.close)
	})
}

func (h *HackathonHandler) createHackathon(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	var req service.CreateHackathonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	hackathon, err := h.hackathonService.CreateHackathon(r.Context(), userID, req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, hackathon)
}

func (h *HackathonHandler) listHackathons(w http.ResponseWriter, r *http.Request) {
	status := model.HackathonStatus(r.URL.Query().Get("status"))
	userRole, _ := middleware.GetUserRoleFromContext(r.Context())

	hackathons, err := h.hackathonService.ListHackathons(r.Context(), status, userRole)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, hackathons)
}

func (h *HackathonHandler) getHackathon(w http.ResponseWriter, r *http.Request) {
	userRole, _ := middleware.GetUserRoleFromContext(r.Context())
	hackathon, err := h.hackathonService.GetHackathon(r.Context(), chi.URLParam(r, "hackathonID"), userRole)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, hackathon)
}

func (h *HackathonHandler) activate(w http.ResponseWriter, r *http.Request) {
	hackathon, err := h.hackathonService.Activate(r.Context(), chi.URLParam(r, "hackathonID"))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, hackathon)
}

func (h *HackathonHandler) close(w http.ResponseWriter, r *http.Request) {
	hackathon, err := h.hackathonService.Close(r.Context(), chi.URLParam(r, "hackathonID"))
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, hackathon)
}

func (h *HackathonHandler) register(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	participant, err := h.participantService.Register(r.Context(), chi.URLParam(r, "hackathonID"), userID, req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, participant)
}

func (h *HackathonHandler) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	participant, err := h.participantService.GetForUser(r.Context(), chi.URLParam(r, "hackathonID"), userID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, participant)
}
