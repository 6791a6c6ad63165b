package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeloom/internal/api"
	"codeloom/internal/app/service"
	"codeloom/internal/app/worker"
	"codeloom/internal/common/security"
	"codeloom/internal/domain/model"
	"codeloom/internal/domain/repository"
	"codeloom/internal/platform/cache"
	"codeloom/internal/platform/config"
	"codeloom/internal/platform/database"
	"codeloom/internal/playground/remote"
	"codeloom/internal/playground/wasmrt"
)

func main() {
	// 1. Load Configuration
	config.Load()
	fmt.Println("Configuration loaded.")

	// 2. Initialize JWT
	security.InitJWT()
	fmt.Println("JWT initialized.")

	// 3. Initialize Database
	database.Connect()
	defer database.Close()
	fmt.Println("Database connected.")

	// 4. Initialize Redis
	cache.ConnectRedis()
	defer cache.CloseRedis()
	fmt.Println("Redis connected.")

	// 5. Initialize Repositories
	userRepo := repository.NewPgUserRepository(database.DB)
	topicRepo := repository.NewPgTopicRepository(database.DB)
	submissionRepo := repository.NewPgSubmissionRepository(database.DB)

	// 6. Initialize Runtimes & Executors
	registry := model.DefaultRegistry()
	remoteClient := remote.NewClient(
		config.AppConfig.RemoteExecURL,
		time.Duration(config.AppConfig.RemoteExecTimeoutMs)*time.Millisecond,
	)
	pythonFactory := wasmrt.WazeroFactory(config.AppConfig.PythonWasmPath)
	// Grading gets its own interpreter so a busy playground session
	// never delays a submission.
	gradingPython := wasmrt.NewPythonRuntime(pythonFactory)
	sqlRunner := func(ctx context.Context, script string) ([]model.SQLStatementResult, error) {
		sess, err := wasmrt.NewSQLSession()
		if err != nil {
			return nil, err
		}
		defer sess.Close()
		return sess.Execute(ctx, script), nil
	}

	// 7. Initialize Services
	authService := service.NewAuthService(userRepo, submissionRepo)
	topicService := service.NewTopicService(topicRepo, registry, database.DB)
	gradingService := service.NewGradingService(
		topicRepo, submissionRepo, registry, remoteClient, gradingPython, sqlRunner, database.DB,
	)
	scratchService := service.NewScratchService(cache.RDB, registry, config.AppConfig.ScratchKeyPrefix)

	onPass := func(ctx context.Context, userID, topicID string) {
		if err := submissionRepo.MarkTopicCompleted(ctx, nil, userID, topicID); err != nil {
			log.Printf("ERROR: Failed to mark topic %s completed for user %s: %v", topicID, userID, err)
		}
	}
	playgroundService := service.NewPlaygroundService(
		registry, topicRepo, submissionRepo, gradingService, remoteClient, pythonFactory,
		onPass,
		service.PlaygroundConfig{
			TestScriptDelay:    time.Duration(config.AppConfig.TestScriptDelayMs) * time.Millisecond,
			TestSignalDeadline: time.Duration(config.AppConfig.TestSignalDeadlineMs) * time.Millisecond,
			SessionIdleTTL:     time.Duration(config.AppConfig.SessionIdleTTLSeconds) * time.Second,
		},
	)
	defer playgroundService.CloseAll()

	// 8. Initialize Session Reaper (as a goroutine)
	reaper := worker.NewSessionReaper(
		playgroundService,
		time.Duration(config.AppConfig.SessionReapIntervalS)*time.Second,
	)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go reaper.Start(workerCtx)
	fmt.Println("Session reaper started.")

	// 9. Initialize Router & HTTP Server
	router := api.NewRouter(authService, topicService, playgroundService, gradingService, scratchService)

	server := &http.Server{
		Addr:        ":" + config.AppConfig.APIPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// No write timeout: the console stream holds its connection
		// open for the playground's lifetime.
		IdleTimeout: 120 * time.Second,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", config.AppConfig.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", config.AppConfig.APIPort, err)
		}
	}()
	log.Println("Server started successfully.")

	<-stop // Wait for interrupt signal

	log.Println("Shutting down server...")
	workerCancel() // Signal reaper to stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server and reaper stopped gracefully.")
}
