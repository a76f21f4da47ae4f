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

	"ner-balancer/cmd"
	"ner-balancer/internal/api"
	"ner-balancer/internal/config"
	"ner-balancer/internal/core"
	"ner-balancer/internal/database"
	"ner-balancer/internal/messaging"
	"ner-balancer/internal/metrics"
	"ner-balancer/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

const requestTimeout = 5 * time.Minute

func createServer(db *gorm.DB, storage storage.Provider, publisher messaging.Publisher, cfg config.Config) *http.Server {
	r := chi.NewRouter()

	// Middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300, // Cache preflight response for 5 minutes
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout)) // Balancing a large upload runs inside the request

	apiHandler := api.NewBackendService(db, storage, publisher, api.ServiceConfig{
		UploadBucket:   cfg.UploadBucket,
		OutputBucket:   cfg.OutputBucket,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxIterations:  cfg.MaxIterations,
		IgnoreTags:     cfg.IgnoreTags,
	})

	apiHandler.AddRoutes(r)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logFile := cmd.SetupLogging(cfg.Root, "api.log")
	defer logFile.Close()

	slog.Info("starting api server", "root", cfg.Root, "port", cfg.Port, "rabbitmq", cfg.RabbitMQURL != "", "max_iterations", cfg.MaxIterations)

	metrics.Init()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	storage := cmd.CreateStorage(ctx, cfg)

	var (
		publisher messaging.Publisher
		worker    *core.TaskProcessor
	)

	if cfg.RabbitMQURL != "" {
		rabbit, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		publisher = rabbit
	} else {
		queue := messaging.NewInMemoryQueue()
		publisher = queue
		worker = core.NewTaskProcessor(db, storage, queue, queue, cfg.UploadBucket, cfg.OutputBucket)

		slog.Info("starting in-process worker", "concurrency", cfg.WorkerConcurrency)
		go worker.Start(cfg.WorkerConcurrency)

		n, err := core.RequeuePendingJobs(ctx, db, queue)
		if err != nil {
			log.Fatalf("Failed to requeue pending jobs: %v", err)
		}
		if n > 0 {
			slog.Info("requeued pending jobs", "count", n)
		}
	}

	server := createServer(db, storage, publisher, cfg)

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		if worker != nil {
			slog.Info("shutting down worker")
			worker.Stop()
		} else {
			publisher.Close()
		}
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
