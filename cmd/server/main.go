package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DAMMAK/vault-x/internal/chunker"
	"github.com/DAMMAK/vault-x/internal/config"
	"github.com/DAMMAK/vault-x/internal/handlers"
	"github.com/DAMMAK/vault-x/internal/queue"
	"github.com/DAMMAK/vault-x/internal/service"
	"github.com/DAMMAK/vault-x/internal/storage"
	"github.com/DAMMAK/vault-x/internal/tracing"
	"github.com/DAMMAK/vault-x/internal/worker"
)

func main() {
	log.Println("Starting Vault-X coordinator...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Service: %s, Port: %s", cfg.ServiceName, cfg.ServicePort)

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	// Initialize MinIO client
	log.Println("Connecting to MinIO...")
	minioClient, err := storage.NewMinioClient(
		cfg.MinIOEndpoint,
		cfg.MinIOAccessKey,
		cfg.MinIOSecretKey,
		cfg.MinIOBucketName,
		cfg.MinIOUseSSL,
	)
	if err != nil {
		log.Fatalf("Failed to initialize MinIO client: %v", err)
	}
	log.Println("MinIO client initialized")

	// Initialize MySQL store
	log.Println("Connecting to MySQL...")
	store, err := storage.NewMySQLStore(cfg.GetDSN())
	if err != nil {
		log.Fatalf("Failed to initialize MySQL store: %v", err)
	}
	defer store.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.Migrate(migrateCtx); err != nil {
		cancelMigrate()
		log.Fatalf("Failed to run migrations: %v", err)
	}
	cancelMigrate()
	log.Println("MySQL store initialized")

	// Initialize Redis client
	log.Println("Connecting to Redis...")
	redisClient, err := storage.NewRedisClient(cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to initialize Redis client: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis client initialized")

	// Job queue shares Redis with the cache and leases
	jobQueue := queue.New(redisClient.Client(), cfg.WorkerConcurrency, queue.Options{
		MaxAttempts: cfg.QueueMaxAttempts,
		Backoff:     cfg.QueueBackoff,
	})

	// Assemble the service layer
	chunkerInstance := chunker.NewChunker(cfg.GetChunkSizeBytes())
	compressionService := service.NewCompressionService(store, minioClient, store, redisClient, chunkerInstance)
	fileService := service.NewFileService(
		store,
		store,
		minioClient,
		redisClient,
		jobQueue,
		store,
		chunkerInstance,
		compressionService,
		cfg.DefaultRegion,
	)
	replicationService := service.NewReplicationService(store, store, store, minioClient, redisClient, jobQueue, redisClient)
	dedupService := service.NewDedupService(store, store, minioClient, redisClient)
	registryService := service.NewRegistryService(store, store)
	signer := service.NewSigner(cfg.SignedURLSecret, cfg.SignedURLExpiry)

	// Register and start the job workers
	workers := worker.New(
		fileService,
		compressionService,
		dedupService,
		replicationService,
		store,
		redisClient,
		jobQueue,
	)
	workers.Register()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	jobQueue.Start(workerCtx)
	log.Printf("Job workers started (concurrency: %d)", cfg.WorkerConcurrency)

	// Start the orphan chunk reclaimer
	reclaimer := worker.NewReclaimer(store, minioClient, cfg.ReclaimInterval)
	reclaimer.Start(workerCtx)
	log.Printf("Orphan reclaimer started (interval: %s)", cfg.ReclaimInterval)

	// Setup HTTP router
	api := handlers.NewAPI(fileService, replicationService, registryService, signer)
	router := api.Router()

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server listening on port %s", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Drain the background workers after the HTTP surface closes
	reclaimer.Stop()
	jobQueue.Stop()
	cancelWorkers()

	log.Println("Server exited")
}
