package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/imageforge/api/internal/client"
	"github.com/imageforge/api/internal/config"
	"github.com/imageforge/api/internal/handler"
	"github.com/imageforge/api/internal/middleware"
	"github.com/imageforge/api/internal/queue"
	"github.com/imageforge/api/internal/service"
	"github.com/imageforge/api/internal/store"
	"github.com/imageforge/api/internal/worker"
	ws "github.com/imageforge/api/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Job record store
	jobStore, err := store.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}

	// Redis client (quota, rate limits; asynq has its own connection)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Queue
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	jobQueue := queue.NewAsynqQueue(asynqClient)

	// External adapters
	fluxClient := client.NewFluxClient(&cfg.Provider)
	var storageClient client.StorageClient
	s3Client, err := client.NewS3Client(&cfg.Storage)
	if err != nil {
		log.Printf("Warning: artifact storage not configured: %v", err)
	} else {
		storageClient = s3Client
	}

	validate := validator.New()

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Services and handlers
	quota := service.NewRedisQuota(redisClient, cfg.Quota.MonthlyLimit)
	jobService := service.NewJobService(jobStore, jobQueue, quota, hub, storageClient)
	jobHandler := handler.NewJobHandler(jobService, validate)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"provider": fluxClient.IsConfigured(),
				"storage":  storageClient != nil,
			},
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour), jobHandler.Submit)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/download", jobHandler.Download)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Worker pool and reconciliation sweep
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	go startWorkerServer(cfg, redisOpt, jobStore, jobQueue, fluxClient, storageClient, hub)

	reconciler := worker.NewReconciler(jobStore, jobQueue, cfg.Pipeline)
	go reconciler.Run(workerCtx)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stopWorkers()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, jobStore *store.JobStore, jobQueue queue.Enqueuer, gen client.ImageGenerator, storage client.StorageClient, hub *ws.Hub) {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Pipeline.Concurrency,
		Queues:      queue.QueueWeights,
	})

	generateWorker := worker.NewGenerateWorker(jobStore, jobQueue, gen, storage, hub, cfg.Pipeline)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeGenerate, generateWorker.ProcessTask)

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
