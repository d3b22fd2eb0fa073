package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/schollz/progressbar/v3"
	"gorm.io/gorm"

	"medtext-backend/cmd"
	"medtext-backend/internal/api"
	"medtext-backend/internal/config"
	"medtext-backend/internal/database"
	"medtext-backend/internal/engine"
	"medtext-backend/internal/inference"
	"medtext-backend/internal/messaging"
)

type Config struct {
	Root             string `env:"ROOT" envDefault:"./medtext"`
	Port             int    `env:"PORT" envDefault:"3001"`
	PipelineConfig   string `env:"PIPELINE_CONFIG,notEmpty,required"`
	Workers          int    `env:"WORKERS" envDefault:"0"`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB"`
}

// requeueBatches republishes batches that were queued or mid-run when the
// previous process stopped. The in-memory queue loses them on shutdown.
func requeueBatches(db *gorm.DB, queue *messaging.InMemoryQueue) {
	var batches []database.Batch
	if err := db.Where("status IN ?", []string{database.JobQueued, database.JobRunning}).
		Find(&batches).Error; err != nil {
		log.Fatalf("Failed to fetch pending batches from database: %v", err)
	}

	for _, batch := range batches {
		if err := queue.PublishBatchTask(context.Background(), messaging.BatchTaskPayload{
			BatchId: batch.Id,
		}); err != nil {
			log.Fatalf("Failed to republish batch task: %v", err)
		}
		slog.Info("requeued pending batch", "batch_id", batch.Id, "status", batch.Status)
	}
}

func createServer(db *gorm.DB, queue *messaging.InMemoryQueue, pipelineCfg config.PipelineConfig, adapter *inference.Adapter, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, queue, pipelineCfg, adapter)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting local backend", "root", cfg.Root, "port", cfg.Port)

	pipelineCfg, err := config.Load(cfg.PipelineConfig)
	if err != nil {
		log.Fatalf("Failed to load pipeline config: %v", err)
	}

	if cmd.NeedsOnnxRuntime(pipelineCfg) {
		defer cmd.InitOnnxRuntime(cfg.OnnxRuntimeDylib)()
	}

	db, err := database.NewDatabase(filepath.Join(cfg.Root, "db", "medtext.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	adapter, err := engine.LoadAdapter(pipelineCfg)
	if err != nil {
		log.Fatalf("Failed to load models: %v", err)
	}

	queue := messaging.NewInMemoryQueue()
	requeueBatches(db, queue)

	processor := engine.NewTaskProcessor(db, queue, pipelineCfg, adapter, cfg.Workers)

	var bar *progressbar.ProgressBar
	processor.Progress = func(done, total int) {
		if bar == nil || done == 1 {
			bar = progressbar.Default(int64(total), "processing notes")
		}
		_ = bar.Set(done)
	}

	server := createServer(db, queue, pipelineCfg, adapter, cfg.Port)

	slog.Info("starting worker")
	go processor.Start()

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

		slog.Info("shutting down worker")
		processor.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
