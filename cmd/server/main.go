package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codehorse/codehorse/internal/handlers"
	"github.com/codehorse/codehorse/internal/middleware"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/internal/services"
	"github.com/codehorse/codehorse/internal/workers"
	"github.com/codehorse/codehorse/pkg/config"
	"github.com/codehorse/codehorse/pkg/database"
	"github.com/codehorse/codehorse/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	// Load configuration
	if err := config.Load(); err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.AppConfig

	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	if err := database.Init(cfg.Database.Path, cfg.Database.MigrationsDir); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()

	// Vector index
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Vector.MongoURI))
	if err != nil {
		logger.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	chunkColl := mongoClient.Database(cfg.Vector.Database).Collection(cfg.Vector.Collection)
	vectorIndex := services.NewMongoVectorIndex(chunkColl, cfg.Vector.IndexName)

	// AI providers
	embedder, err := services.NewVertexEmbedder(ctx, cfg.Google)
	if err != nil {
		logger.Fatalf("Failed to create embedder: %v", err)
	}
	defer embedder.Close()

	chatModel, err := services.NewGeminiChatModel(ctx, cfg.Google)
	if err != nil {
		logger.Fatalf("Failed to create chat model: %v", err)
	}
	defer chatModel.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(database.DB)
	repoRepo := repositories.NewRepositoryRepository(database.DB)
	reviewRepo := repositories.NewReviewRepository(database.DB)
	usageRepo := repositories.NewUsageRepository(database.DB)
	runRepo := repositories.NewWorkflowRunRepository(database.DB)
	stepRepo := repositories.NewWorkflowStepRepository(database.DB)

	// Services
	githubService := services.NewGitHubService(cfg.GitHub.WebhookCallbackURL, cfg.GitHub.WebhookSecret)
	indexingService := services.NewIndexingService(embedder, vectorIndex)
	quotaService := services.NewQuotaService(userRepo, usageRepo, repoRepo)
	reviewService := services.NewReviewService(reviewRepo, githubService)
	workflowService := services.NewWorkflowService(runRepo)
	repositoryService := services.NewRepositoryService(repoRepo, quotaService, githubService, workflowService)

	// Worker pool
	workerManager := workers.NewWorkerManager(cfg.Workers, workers.Deps{
		RunRepo:  runRepo,
		StepRepo: stepRepo,
		UserRepo: userRepo,
		RepoRepo: repoRepo,
		Host:     githubService,
		Quota:    quotaService,
		Indexer:  indexingService,
		Reviews:  reviewService,
		Chat:     chatModel,
	})

	// Router
	router := gin.Default()
	setupRoutes(router, userRepo, repoRepo, repositoryService, reviewService, workflowService, quotaService)

	// Start workers
	if err := workerManager.StartAll(); err != nil {
		logger.Fatalf("Failed to start workers: %v", err)
	}
	defer workerManager.StopAll()

	// Setup server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Infof("Server starting on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Infof("Server stopped")
}

func setupRoutes(router *gin.Engine, userRepo *repositories.UserRepository, repoRepo *repositories.RepositoryRepository,
	repositoryService *services.RepositoryService, reviewService *services.ReviewService,
	workflowService *services.WorkflowService, quotaService *services.QuotaService) {

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(repoRepo, workflowService, config.AppConfig.GitHub.WebhookSecret)
	repositoryHandler := handlers.NewRepositoryHandler(repositoryService)
	reviewHandler := handlers.NewReviewHandler(reviewService, workflowService, repoRepo)
	limitsHandler := handlers.NewLimitsHandler(quotaService)
	healthHandler := handlers.NewHealthHandler(database.DB)

	router.GET("/health", healthHandler.Health)

	// Webhook endpoint: authenticated by signature, not API key
	router.POST("/webhooks/github", webhookHandler.HandleGitHub)

	// Authenticated API
	api := router.Group("/api")
	api.Use(middleware.AuthRequired(userRepo))
	{
		api.GET("/repositories", repositoryHandler.ListRepositories)
		api.GET("/repositories/connected", repositoryHandler.ListConnected)
		api.POST("/repositories/connect", repositoryHandler.ConnectRepository)
		api.DELETE("/repositories/:id", repositoryHandler.DisconnectRepository)
		api.POST("/repositories/disconnect-all", repositoryHandler.DisconnectAll)

		api.GET("/reviews", reviewHandler.ListReviews)
		api.POST("/reviews", reviewHandler.TriggerReview)
		api.GET("/reviews/export", reviewHandler.ExportReviews)

		api.GET("/limits", limitsHandler.GetLimits)
	}
}
