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

	"ner-balancer/cmd"
	"ner-balancer/internal/config"
	"ner-balancer/internal/core"
	"ner-balancer/internal/database"
	"ner-balancer/internal/messaging"
	"ner-balancer/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.RabbitMQURL == "" {
		log.Fatalf("RABBITMQ_URL must be set for the standalone worker")
	}

	logFile := cmd.SetupLogging(cfg.Root, "worker.log")
	defer logFile.Close()

	metrics.Init()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	storage := cmd.CreateStorage(context.Background(), cfg)

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("Worker: Failed to start message consumer: %v", err)
	}

	worker := core.NewTaskProcessor(db, storage, publisher, reciever, cfg.UploadBucket, cfg.OutputBucket)

	// The worker has no router, so it exposes its own metrics endpoint.
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		worker.Start(cfg.WorkerConcurrency)
		close(done)
	}()

	slog.Info("worker started, waiting for tasks", "concurrency", cfg.WorkerConcurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received, waiting for in-flight tasks")
	worker.Stop()
	<-done

	if err := metricsServer.Close(); err != nil {
		slog.Error("error closing metrics server", "error", err)
	}

	slog.Info("worker process stopped")
}
