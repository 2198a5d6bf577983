package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"github.com/gin-gonic/gin"

	"pr-thread-notifier/internal/config"
	"pr-thread-notifier/internal/handlers"
	"pr-thread-notifier/internal/middleware"
	"pr-thread-notifier/internal/services"
)

// App holds the wired services and handlers for the HTTP server.
type App struct {
	config               *config.Config
	firestoreService     *services.FirestoreService
	slackService         *services.SlackService
	githubService        *services.GitHubService
	cloudTasksService    *services.CloudTasksService
	userSyncService      *services.UserSyncService
	githubHandler        *handlers.GitHubHandler
	webhookWorkerHandler *handlers.WebhookWorkerHandler
	slackHandler         *handlers.SlackHandler
	jobsHandler          *handlers.JobsHandler
}

func main() {
	cfg := config.Load()

	setupLogging(cfg)
	gin.SetMode(cfg.GinMode)

	ctx := context.Background()

	slog.Info("Connecting to Firestore", "project_id", cfg.FirestoreProjectID, "database_id", cfg.FirestoreDatabaseID)
	firestoreClient, err := firestore.NewClientWithDatabase(ctx, cfg.FirestoreProjectID, cfg.FirestoreDatabaseID)
	if err != nil {
		slog.Error("Failed to create Firestore client", "component", "startup", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := firestoreClient.Close(); err != nil {
			slog.Error("Error closing Firestore client", "component", "shutdown", "error", err)
		}
	}()

	firestoreService := services.NewFirestoreService(firestoreClient)
	slackService := services.NewSlackService()
	githubService := services.NewGitHubService(cfg)

	cloudTasksService, err := services.NewCloudTasksService(services.CloudTasksConfig{
		ProjectID:  cfg.GoogleCloudProject,
		Location:   cfg.GCPRegion,
		QueueName:  cfg.CloudTasksQueue,
		WorkerURL:  cfg.WebhookWorkerURL,
		TaskSecret: cfg.CloudTasksSecret,
	})
	if err != nil {
		slog.Error("Failed to create Cloud Tasks service", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cloudTasksService.Close(); err != nil {
			slog.Error("Error closing Cloud Tasks client", "error", err)
		}
	}()

	throttleService := services.NewThrottleService(firestoreService, cfg.SlackThrottleTTL)
	userSyncService := services.NewUserSyncService(githubService, slackService, firestoreService, throttleService)
	notifierService := services.NewNotifierService(firestoreService, slackService, cfg.ThreadLeaseTTL)
	reminderService := services.NewReminderService(firestoreService, slackService)
	slackVerifier := services.NewSlackVerifier(cfg.SlackSigningSecret, cfg.SlackTimestampMaxAge)

	app := &App{
		config:               cfg,
		firestoreService:     firestoreService,
		slackService:         slackService,
		githubService:        githubService,
		cloudTasksService:    cloudTasksService,
		userSyncService:      userSyncService,
		githubHandler:        handlers.NewGitHubHandler(cloudTasksService, cfg.GitHubWebhookSecret),
		webhookWorkerHandler: handlers.NewWebhookWorkerHandler(notifierService, firestoreService, cfg),
		slackHandler:         handlers.NewSlackHandler(slackVerifier, firestoreService),
		jobsHandler:          handlers.NewJobsHandler(reminderService, cfg.WebhookProcessingTimeout),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logging())

	router.POST("/webhooks/github", app.githubHandler.HandleWebhook)
	router.POST("/webhooks/slack", app.slackHandler.HandleWebhook)

	tasks := router.Group("/", middleware.TaskAuth(cfg.CloudTasksSecret))
	tasks.POST("/process-webhook", app.webhookWorkerHandler.ProcessWebhook)
	tasks.POST("/jobs/pr-reminder", app.jobsHandler.RunPRReminder)

	router.POST("/api/sync-users", app.handleUserSync)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	slog.Info("Starting server", "component", "server", "port", cfg.Port)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "component", "server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...", "component", "server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "component", "server", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited gracefully", "component", "server")
}

func setupLogging(cfg *config.Config) {
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var logger *slog.Logger
	if cfg.GinMode != "release" {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	}
	slog.SetDefault(logger)
}

// handleUserSync triggers a username mapping refresh for one organization.
// Admin-only; the refresh itself is still subject to the per-team cooldown.
func (app *App) handleUserSync(c *gin.Context) {
	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" || apiKey != app.config.APIAdminKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		return
	}

	var req struct {
		OrganizationID int64 `json:"organization_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	ctx := c.Request.Context()
	org, err := app.firestoreService.GetOrganization(ctx, req.OrganizationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if org == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
		return
	}

	integrations, err := app.firestoreService.ListSlackIntegrations(ctx, org.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(integrations) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "organization has no Slack integration"})
		return
	}

	result, err := app.userSyncService.Sync(ctx, org, integrations[0])
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"throttled": result.Throttled,
		"matched":   result.Matched,
		"unmatched": result.Unmatched,
	})
}
