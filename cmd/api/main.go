package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"medtext-backend/cmd"
	"medtext-backend/internal/api"
	"medtext-backend/internal/config"
	"medtext-backend/internal/database"
	"medtext-backend/internal/engine"
	"medtext-backend/internal/messaging"
)

type APIConfig struct {
	DatabaseURL      string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL      string `env:"RABBITMQ_URL,notEmpty,required"`
	PipelineConfig   string `env:"PIPELINE_CONFIG,notEmpty,required"`
	APIPort          string `env:"API_PORT" envDefault:"8001"`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB"`
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	pipelineCfg, err := config.Load(cfg.PipelineConfig)
	if err != nil {
		log.Fatalf("Failed to load pipeline config: %v", err)
	}

	if cmd.NeedsOnnxRuntime(pipelineCfg) {
		defer cmd.InitOnnxRuntime(cfg.OnnxRuntimeDylib)()
	}

	// The API process carries its own adapter for the synchronous
	// /process/text endpoint; batches go through the worker.
	adapter, err := engine.LoadAdapter(pipelineCfg)
	if err != nil {
		log.Fatalf("Failed to load models: %v", err)
	}
	defer adapter.Release()

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, publisher, pipelineCfg, adapter)
	apiHandler.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
