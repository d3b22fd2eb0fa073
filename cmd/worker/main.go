package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"

	"medtext-backend/cmd"
	"medtext-backend/internal/config"
	"medtext-backend/internal/database"
	"medtext-backend/internal/engine"
	"medtext-backend/internal/messaging"
)

type WorkerConfig struct {
	DatabaseURL      string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL      string `env:"RABBITMQ_URL,notEmpty,required"`
	PipelineConfig   string `env:"PIPELINE_CONFIG,notEmpty,required"`
	Concurrency      int    `env:"CONCURRENCY" envDefault:"4"`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
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

	adapter, err := engine.LoadAdapter(pipelineCfg)
	if err != nil {
		log.Fatalf("Failed to load models: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	processor := engine.NewTaskProcessor(db, receiver, pipelineCfg, adapter, cfg.Concurrency)

	go processor.Start()

	slog.Info("worker started, waiting for batch tasks", "concurrency", cfg.Concurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received, stopping worker")
	processor.Stop()

	log.Println("Worker process stopped.")
}
