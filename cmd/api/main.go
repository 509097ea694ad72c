package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/chatcfd/backend/internal/api/handlers"
	"github.com/chatcfd/backend/internal/bip"
	"github.com/chatcfd/backend/internal/cache/redis"
	"github.com/chatcfd/backend/internal/chat"
	"github.com/chatcfd/backend/internal/guardrails"
	"github.com/chatcfd/backend/internal/llm"
	"github.com/chatcfd/backend/internal/metrics"
	"github.com/chatcfd/backend/internal/middleware/ratelimit"
	"github.com/chatcfd/backend/internal/middleware/security"
	"github.com/chatcfd/backend/internal/middleware/validation"
	"github.com/chatcfd/backend/internal/rag"
	"github.com/chatcfd/backend/internal/storage/sqlite"
	"github.com/chatcfd/backend/pkg/config"
	appLogger "github.com/chatcfd/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ChaTCFD API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err = sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var embeddingCache rag.EmbeddingCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		embeddingCache = redisClient
	}

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		appLogger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	ragStore := rag.NewStore(cfg.Corpora.StorageDir, cfg.CorpusSet(), llmClient, embeddingCache)

	guardEngine := guardrails.NewEngine(llmClient, cfg.LLM.RewriteModel)
	composer := chat.NewComposer(ragStore)
	chatService := chat.NewService(composer, llmClient, guardEngine, sqliteClient, cfg.LLM.ChatModel)
	bipService := bip.NewService(cfg.BIP, llmClient, ragStore, guardEngine, sqliteClient, cfg.LLM.ChatModel)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.OriginsList(),
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{}))

	chatHandler := handlers.NewChatHandler(chatService, sqliteClient)
	bipHandler := handlers.NewBIPHandler(bipService)
	corpusHandler := handlers.NewCorpusHandler(ragStore)
	wsHandler := handlers.NewWebSocketHandler(chatService)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", metrics.MetricsHandler())

	app.Post("/chat/general", chatHandler.HandleGeneral)
	app.Post("/chat/benefits", chatHandler.HandleBenefits)
	app.Get("/chat/history", chatHandler.HandleHistory)

	app.Post("/bip/generate", bipHandler.HandleGenerate)

	app.Get("/corpus", corpusHandler.HandleList)
	app.Post("/corpus/:name/rebuild", corpusHandler.HandleRebuild)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
