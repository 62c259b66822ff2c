package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"sql_arena/internal/api/middleware"
	"sql_arena/internal/app/service"
	"sql_arena/internal/common"
	"sql_arena/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type SubmissionHandler struct {
	submissionService *service.SubmissionService
}

func NewSubmissionHandler(ss *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissionService: ss}
}

func (h *SubmissionHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator) // All submission routes require auth
	r.Post("/", h.createSubmission)
	r.Get("/{submissionID}", h.getSubmission)
}

// RegisterHackathonRoutes mounts under /hackathons/{hackathonID}/submissions.
// ?mine=true (the default for participants) lists the caller's own submissions; admins may
// pass ?participant_id= instead. ?problem_id= narrows either to one problem.
func (h *SubmissionHandler) RegisterHackathonRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/", h.listSubmissions)
}

type submissionAccepted struct {
	SubmissionID string        `json:"submission_id"`
	Verdict      model.Verdict `json:"verdict"`
	SubmittedAt  time.Time     `json:"submitted_at"`
}

func (h *SubmissionHandler) createSubmission(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	var req service.CreateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	submission, err := h.submissionService.CreateSubmission(r.Context(), userID, req)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	// judged asynchronously
	common.RespondWithJSON(w, http.StatusAccepted, submissionAccepted{
		SubmissionID: submission.ID,
		Verdict:      submission.Verdict,
		SubmittedAt:  submission.SubmittedAt,
	})
}

func (h *SubmissionHandler) listSubmissions(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	userRole, _ := middleware.GetUserRoleFromContext(r.Context())

	q := service.ListSubmissionsQuery{
		HackathonID: chi.URLParam(r, "hackathonID"),
		ProblemID:   r.URL.Query().Get("problem_id"),
	}
	if r.URL.Query().Get("mine") != "true" {
		q.ParticipantID = r.URL.Query().Get("participant_id")
	}

	submissions, err := h.submissionService.ListSubmissions(r.Context(), q, userID, userRole)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, submissions)
}

func (h *SubmissionHandler) getSubmission(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	userRole, _ := middleware.GetUserRoleFromContext(r.Context())

	submission, err := h.submissionService.GetSubmission(r.Context(), chi.URLParam(r, "submissionID"), userID, userRole)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, submission)
}
