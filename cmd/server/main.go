package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/shortfactory/api/internal/client"
	"github.com/shortfactory/api/internal/config"
	"github.com/shortfactory/api/internal/handler"
	"github.com/shortfactory/api/internal/pipeline"
	"github.com/shortfactory/api/internal/service"
	"github.com/shortfactory/api/internal/worker"
	ws "github.com/shortfactory/api/internal/websocket"
)

func main() {
	// Local development convenience; a missing .env is fine
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize run event hub
	hub := ws.NewHub()

	// Initialize collaborator clients
	sheetsClient, err := client.NewSheetsClient(ctx, &cfg.Sheets)
	if err != nil {
		log.Fatalf("Failed to create sheets client: %v", err)
	}
	openaiClient := client.NewOpenAIClient(&cfg.OpenAI)
	renderClient := client.NewJSON2VideoClient(&cfg.JSON2Video)
	downloader := client.NewHTTPDownloader()
	youtubeClient := client.NewYouTubeClient(&cfg.YouTube)

	// Initialize orchestrator and services
	orchestrator := pipeline.New(sheetsClient, openaiClient, renderClient, downloader, youtubeClient, pipeline.Options{
		TriggerStatus: cfg.Workflow.TriggerStatus,
		PollInterval:  time.Duration(cfg.JSON2Video.PollInterval) * time.Second,
	})
	workflowService := service.NewWorkflowService(redisClient, asynqClient, time.Duration(cfg.Workflow.LockTTL)*time.Minute)

	// Initialize handlers
	workflowHandler := handler.NewWorkflowHandler(workflowService, hub)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"sheets":     sheetsClient.IsConfigured(),
				"openai":     openaiClient.IsConfigured(),
				"json2video": renderClient.IsConfigured(),
				"youtube":    youtubeClient.IsConfigured(),
			},
		})
	})

	// API routes
	api := app.Group("/api")
	api.Get("/workflow/run", workflowHandler.Run)
	api.Get("/workflow/runs/:runId", workflowHandler.GetRun)
	api.Get("/workflow/active", workflowHandler.Active)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/runs/:runId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("runId"))
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, workflowService, hub, orchestrator)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, workflowService *service.WorkflowService, hub *ws.Hub, orchestrator *pipeline.Orchestrator) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			// One run in flight at a time; the redis lock enforces the same
			// invariant across processes.
			Concurrency: 1,
			Queues: map[string]int{
				service.QueueWorkflow: 1,
			},
		},
	)

	workflowWorker := worker.NewWorkflowWorker(workflowService, hub, orchestrator)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeWorkflowRun, workflowWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
