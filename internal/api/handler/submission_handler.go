package handler

import (
	"errors"
	"net/http"

	"codeloom/internal/api/middleware"
	"codeloom/internal/app/service"
	"codeloom/internal/common"

	"github.com/go-chi/chi/v5"
)

type SubmissionHandler struct {
	gradingService *service.GradingService
}

func NewSubmissionHandler(gs *service.GradingService) *SubmissionHandler {
	return &SubmissionHandler{gradingService: gs}
}

func (h *SubmissionHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/topic/{topicID}", h.getLatestForTopic) // GET /api/v1/submissions/topic/{topicID}
}

// getLatestForTopic returns the user's most recent submission for a
// topic. No submission yet is an empty object, not a 404; the client
// probes every topic on page load.
func (h *SubmissionHandler) getLatestForTopic(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}
	topicID := chi.URLParam(r, "topicID")

	submission, err := h.gradingService.GetLatestSubmission(r.Context(), userID, topicID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{})
			return
		}
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"submission": submission})
}
