package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamguard/internal/adapters/kafka"
	"streamguard/internal/api/routes"
	"streamguard/internal/auth"
	"streamguard/internal/config"
	"streamguard/internal/database"
	"streamguard/internal/moderation"
	"streamguard/internal/repositories/postgres"
	"streamguard/internal/services"
	"streamguard/internal/websocket"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment from .env if present
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting stream guard server")

	// Initialize PostgreSQL connection
	db, err := database.NewPostgresConnection(cfg.Database.URI)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	// Local registry; wrapped with Redis pub/sub when running multi-instance
	localRegistry := websocket.NewRegistry()
	var registry websocket.StreamRegistry = localRegistry

	var redisService *services.RedisService
	var redisRegistry *websocket.RedisRegistry
	if cfg.Redis.Enabled {
		redisClient, err := database.NewRedisConnection(&cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		redisService = services.NewRedisService(redisClient)
		redisRegistry = websocket.NewRedisRegistry(localRegistry, redisClient)
		registry = redisRegistry

		go func() {
			if err := redisRegistry.Run(); err != nil {
				slog.Error("Redis registry subscriber stopped", "error", err)
			}
		}()
	}

	// Moderation audit events flow to Kafka when brokers are configured
	var audit services.AuditProducer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			slog.Error("Failed to connect to Kafka", "error", err)
			os.Exit(1)
		}
		auditProducer := kafka.NewAuditProducer(producer, cfg.Kafka.Topic)
		defer auditProducer.Close()
		audit = auditProducer
	}

	// Initialize collaborators and the chat pipeline
	verifier := auth.NewVerifier(cfg.JWT.Secret)
	analyzer := moderation.NewGeminiAnalyzer(cfg.Gemini.APIKey, cfg.Gemini.Timeout)
	messageRepo := postgres.NewMessageRepository(db)
	chatService := services.NewChatService(messageRepo, analyzer, registry, audit)

	// Initialize router with all dependencies
	router := routes.NewRouter(registry, verifier, chatService, redisService)
	router.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if redisRegistry != nil {
		redisRegistry.Stop()
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
