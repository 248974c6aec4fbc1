package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/ggawoos-bot/chat5M/config"
	"github.com/ggawoos-bot/chat5M/handlers"
	"github.com/ggawoos-bot/chat5M/repository"
	"github.com/ggawoos-bot/chat5M/service"
	"github.com/ggawoos-bot/chat5M/storage"
)

func main() {
	// Load .env file from project root (relative to cmd/server/)
	// Try current directory first, then project root
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			log.Printf("Warning: No .env file found, using environment variables")
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration:", err)
	}
	if len(cfg.APIKeys) == 0 {
		log.Println("Warning: no Gemini API keys configured, service will answer with fallback replies")
	}

	// Initialize storage
	artifactStorage, err := storage.NewStorageFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Println("Storage initialized")

	// Initialize repositories
	chunkRepo := repository.NewChunkRepository(artifactStorage, cfg.CorpusArtifactKey, cfg.SourceDir)
	if err := chunkRepo.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load corpus: %v", err)
	}

	rpdRepo, err := repository.NewRpdRepository(cfg.RpdDBPath, service.KeySpecs(cfg.APIKeys, cfg.MaxRPDPerKey))
	if err != nil {
		log.Fatalf("Failed to open quota store: %v", err)
	}
	defer rpdRepo.Close()

	// Initialize services
	keyring := service.NewKeyringService(cfg.APIKeys, rpdRepo)
	analyzer := service.NewAnalyzerService(keyring, cfg.GeminiModel, cfg.MaxRetries, cfg.RetryDelay)
	selector := service.NewContextService(chunkRepo, cfg.MaxChunks)

	chatService := service.NewChatService(keyring, analyzer, selector,
		service.ChatWithModel(cfg.GeminiModel),
		service.ChatWithRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
	)

	// Initialize handlers
	chatHandler := handlers.NewChatHandler(chatService, keyring, chunkRepo)

	// Setup Gin router
	r := gin.Default()

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		api.POST("/chat", chatHandler.Chat)
		api.POST("/chat/stream", chatHandler.ChatStream)
		api.GET("/rpd", chatHandler.RpdStats)
		api.GET("/corpus", chatHandler.CorpusStatus)
		api.POST("/corpus/reload", chatHandler.ReloadCorpus)
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
