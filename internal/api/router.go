package api

import (
	"net/http"

	"codeloom/internal/api/handler"
	"codeloom/internal/app/service"
	"codeloom/internal/common/security"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
)

func NewRouter(
	authService *service.AuthService,
	topicService *service.TopicService,
	playgroundService *service.PlaygroundService,
	gradingService *service.GradingService,
	scratchService *service.ScratchService,
) http.Handler {
	r := chi.NewRouter()

	// Base Middlewares
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	// No request timeout middleware: the console stream endpoint holds
	// its connection open for the playground's lifetime.

	// JWT verification. The console WebSocket cannot set an
	// Authorization header from the browser, so the query string is
	// also accepted.
	r.Use(jwtauth.Verify(security.TokenAuth, jwtauth.TokenFromHeader, jwtauth.TokenFromQuery, jwtauth.TokenFromCookie))

	// Public health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// API v1 Routes
	r.Route("/api/v1", func(v1 chi.Router) {
		// Auth routes (public)
		authHandler := handler.NewAuthHandler(authService)
		v1.Group(func(publicAuth chi.Router) {
			authHandler.RegisterRoutes(publicAuth)
		})

		// Topic catalog (public reads, admin writes)
		topicHandler := handler.NewTopicHandler(topicService)
		v1.Route("/topics", topicHandler.RegisterRoutes)

		// Supported language catalog (public)
		languageHandler := handler.NewLanguageHandler(topicService)
		v1.Route("/languages", languageHandler.RegisterRoutes)

		// Playground sessions and scratch buffers (authenticated)
		playgroundHandler := handler.NewPlaygroundHandler(playgroundService)
		scratchHandler := handler.NewScratchHandler(scratchService)
		v1.Route("/playground", func(p chi.Router) {
			playgroundHandler.RegisterRoutes(p)
			p.Route("/scratch", scratchHandler.RegisterRoutes)
		})

		// Prior submissions (authenticated)
		submissionHandler := handler.NewSubmissionHandler(gradingService)
		v1.Route("/submissions", submissionHandler.RegisterRoutes)
	})

	return r
}
