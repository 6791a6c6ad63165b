package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"codeloom/internal/api/middleware"
	"codeloom/internal/app/service"
	"codeloom/internal/common"
	"codeloom/internal/domain/model"
	"codeloom/internal/playground/relay"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The playground frontend is served from a different origin in
	// development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type PlaygroundHandler struct {
	playgroundService *service.PlaygroundService
}

func NewPlaygroundHandler(ps *service.PlaygroundService) *PlaygroundHandler {
	return &PlaygroundHandler{playgroundService: ps}
}

func (h *PlaygroundHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)

	r.Post("/sessions", h.openSession)
	r.Route("/sessions/{sessionID}", func(s chi.Router) {
		s.Get("/", h.getSession)
		s.Delete("/", h.closeSession)
		s.Put("/buffers", h.updateBuffers)
		s.Post("/run", h.run)
		s.Get("/document", h.document)
		s.Post("/events", h.ingestEvent)
		s.Get("/console", h.consoleStream)
		s.Post("/submit", h.submit)
		s.Post("/reset", h.reset)
	})
}

func (h *PlaygroundHandler) openSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing user context")
		return
	}

	var req struct {
		TopicSlug string `json:"topic_slug"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TopicSlug == "" {
		common.RespondWithError(w, http.StatusBadRequest, "topic_slug is required")
		return
	}

	view, err := h.playgroundService.OpenSession(r.Context(), userID, req.TopicSlug)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, view)
}

func (h *PlaygroundHandler) getSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	view, err := h.playgroundService.GetSession(chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, view)
}

func (h *PlaygroundHandler) closeSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())
	if err := h.playgroundService.CloseSession(chi.URLParam(r, "sessionID"), userID); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *PlaygroundHandler) updateBuffers(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	var buffers model.BufferSet
	if err := json.NewDecoder(r.Body).Decode(&buffers); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	view, err := h.playgroundService.UpdateBuffers(chi.URLParam(r, "sessionID"), userID, buffers)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, view)
}

func (h *PlaygroundHandler) run(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	var req struct {
		Inputs []string `json:"inputs,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
			return
		}
	}

	outcome, err := h.playgroundService.Run(r.Context(), chi.URLParam(r, "sessionID"), userID, req.Inputs)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, outcome)
}

func (h *PlaygroundHandler) document(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	doc, err := h.playgroundService.Document(chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}

// ingestEvent receives one forwarded sandbox message. The host page
// relays everything the frame posts; classification happens
// server-side.
func (h *PlaygroundHandler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	var msg relay.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid event payload: "+err.Error())
		return
	}

	if err := h.playgroundService.Ingest(chi.URLParam(r, "sessionID"), userID, msg); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// consoleStream upgrades to a WebSocket and pushes console entries as
// they arrive. The client only reads; its close frame ends the stream.
func (h *PlaygroundHandler) consoleStream(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	entries, cancel, err := h.playgroundService.SubscribeConsole(chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		log.Printf("WARN: console websocket upgrade failed: %v", err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		cancel()
		conn.Close()
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *PlaygroundHandler) submit(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	verdict, err := h.playgroundService.Submit(r.Context(), chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, verdict)
}

func (h *PlaygroundHandler) reset(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	view, err := h.playgroundService.Reset(chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, view)
}

// ScratchHandler serves the freeform scratch playground buffers.
type ScratchHandler struct {
	scratchService *service.ScratchService
}

func NewScratchHandler(ss *service.ScratchService) *ScratchHandler {
	return &ScratchHandler{scratchService: ss}
}

func (h *ScratchHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/", h.get)
	r.Put("/", h.put)
}

func (h *ScratchHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	state, err := h.scratchService.Get(r.Context(), userID, r.URL.Query().Get("language"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, state)
}

func (h *ScratchHandler) put(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	var state service.ScratchState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	if err := h.scratchService.Put(r.Context(), userID, state); err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
