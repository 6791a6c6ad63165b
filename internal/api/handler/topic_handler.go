package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"codeloom/internal/api/middleware"
	"codeloom/internal/app/service"
	"codeloom/internal/common"
	"codeloom/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type TopicHandler struct {
	topicService *service.TopicService
}

func NewTopicHandler(ts *service.TopicService) *TopicHandler {
	return &TopicHandler{topicService: ts}
}

func (h *TopicHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.listTopics)          // GET /api/v1/topics
	r.Get("/{topicSlug}", h.getTopic) // GET /api/v1/topics/flex-layout

	r.Group(func(adminRouter chi.Router) {
		adminRouter.Use(middleware.Authenticator)
		adminRouter.Use(middleware.AdminOnly)
		adminRouter.Post("/", h.createTopic) // POST /api/v1/topics
	})
}

func (h *TopicHandler) createTopic(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	topic, err := h.topicService.CreateTopic(r.Context(), req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, topic)
}

func (h *TopicHandler) listTopics(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	topics, total, err := h.topicService.ListTopics(r.Context(), limit, offset)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	type paginatedTopicsResponse struct {
		Topics []model.Topic `json:"topics"`
		Total  int           `json:"total"`
	}
	common.RespondWithJSON(w, http.StatusOK, paginatedTopicsResponse{Topics: topics, Total: total})
}

func (h *TopicHandler) getTopic(w http.ResponseWriter, r *http.Request) {
	topicSlug := chi.URLParam(r, "topicSlug")

	topic, err := h.topicService.GetTopicBySlug(r.Context(), topicSlug)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, topic)
}

// LanguageHandler serves the supported language catalog.
type LanguageHandler struct {
	topicService *service.TopicService
}

func NewLanguageHandler(ts *service.TopicService) *LanguageHandler {
	return &LanguageHandler{topicService: ts}
}

func (h *LanguageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.listLanguages) // GET /api/v1/languages
}

func (h *LanguageHandler) listLanguages(w http.ResponseWriter, r *http.Request) {
	common.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"languages": h.topicService.ListLanguages(),
	})
}
