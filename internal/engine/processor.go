package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"medtext-backend/internal/config"
	"medtext-backend/internal/database"
	"medtext-backend/internal/groups"
	"medtext-backend/internal/inference"
	"medtext-backend/internal/messaging"
	"medtext-backend/internal/pipeline"
	"medtext-backend/internal/storage"
)

// TaskProcessor consumes batch tasks from the queue and runs them to
// completion: load notes, execute the pipeline, persist outcomes and cohort
// assignments.
type TaskProcessor struct {
	db       *gorm.DB
	receiver messaging.Receiver

	baseConfig config.PipelineConfig
	adapter    *inference.Adapter
	workers    int

	// Progress, when set, receives per-note completion updates for the batch
	// currently running. Used by the local binary's progress bar.
	Progress func(done, total int)
}

func NewTaskProcessor(db *gorm.DB, receiver messaging.Receiver, baseConfig config.PipelineConfig, adapter *inference.Adapter, workers int) *TaskProcessor {
	return &TaskProcessor{
		db:         db,
		receiver:   receiver,
		baseConfig: baseConfig,
		adapter:    adapter,
		workers:    workers,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.receiver.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.receiver.Close()
	proc.adapter.Release()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	if task.Type() != messaging.BatchQueue {
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	var payload messaging.BatchTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("error unmarshalling batch task", "error", err)
		if err := task.Reject(); err != nil { // Discard malformed message
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err := proc.ProcessBatch(ctx, payload); err != nil {
		slog.Error("error processing batch", "batch_id", payload.BatchId, "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed batch", "batch_id", payload.BatchId)
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

// ProcessBatch runs one persisted batch end to end. Per-note failures are
// recorded as outcomes and do not fail the batch; only process-level faults
// mark the batch failed.
func (proc *TaskProcessor) ProcessBatch(ctx context.Context, payload messaging.BatchTaskPayload) error {
	var batch database.Batch
	if err := proc.db.WithContext(ctx).First(&batch, "id = ?", payload.BatchId).Error; err != nil {
		return fmt.Errorf("loading batch %s: %w", payload.BatchId, err)
	}

	if err := database.UpdateBatchStatus(ctx, proc.db, batch.Id, database.JobRunning); err != nil {
		return err
	}

	output, err := proc.runBatch(ctx, &batch)
	if err != nil {
		database.SaveBatchError(ctx, proc.db, batch.Id, err.Error())
		if statusErr := database.UpdateBatchStatus(ctx, proc.db, batch.Id, database.JobFailed); statusErr != nil {
			slog.Error("error marking batch failed", "batch_id", batch.Id, "error", statusErr)
		}
		// Partial outcomes from a cancelled run are still worth keeping.
		if output != nil && output.Len() > 0 {
			if saveErr := database.SaveOutcomes(ctx, proc.db, batch.Id, output); saveErr != nil {
				slog.Error("error saving partial outcomes", "batch_id", batch.Id, "error", saveErr)
			}
		}
		return err
	}

	if err := database.SaveOutcomes(ctx, proc.db, batch.Id, output); err != nil {
		database.SaveBatchError(ctx, proc.db, batch.Id, err.Error())
		if statusErr := database.UpdateBatchStatus(ctx, proc.db, batch.Id, database.JobFailed); statusErr != nil {
			slog.Error("error marking batch failed", "batch_id", batch.Id, "error", statusErr)
		}
		return err
	}

	if err := proc.assignGroups(ctx, &batch, output); err != nil {
		slog.Error("error assigning groups", "batch_id", batch.Id, "error", err)
		database.SaveBatchError(ctx, proc.db, batch.Id, err.Error())
	}

	return database.UpdateBatchStatus(ctx, proc.db, batch.Id, database.JobCompleted)
}

func (proc *TaskProcessor) runBatch(ctx context.Context, batch *database.Batch) (*pipeline.BatchOutput, error) {
	cfg, err := proc.mergedConfig(batch)
	if err != nil {
		return nil, err
	}

	srcType, err := storage.ToSourceType(batch.SourceType)
	if err != nil {
		return nil, err
	}
	source, err := storage.NewSource(ctx, srcType, batch.SourceParams)
	if err != nil {
		return nil, fmt.Errorf("opening note source: %w", err)
	}

	notes, err := source.LoadNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading notes: %w", err)
	}

	if err := proc.db.WithContext(ctx).Model(&database.Batch{Id: batch.Id}).
		Update("total_note_count", len(notes)).Error; err != nil {
		return nil, fmt.Errorf("recording batch size: %w", err)
	}

	def, err := BuildDefinition(cfg, proc.adapter, notes)
	if err != nil {
		return nil, err
	}

	output, err := pipeline.RunBatch(ctx, def, pipeline.BatchJob{
		Notes:    notes,
		Workers:  proc.workers,
		Progress: proc.Progress,
	})
	if err != nil {
		var fatal *pipeline.BatchFatalError
		if errors.As(err, &fatal) {
			return output, err
		}
		return nil, err
	}

	slog.Info("batch finished",
		"batch_id", batch.Id, "total", len(notes),
		"succeeded", len(output.Results), "failed", len(output.Failures))
	return output, nil
}

func (proc *TaskProcessor) mergedConfig(batch *database.Batch) (config.PipelineConfig, error) {
	if len(batch.Override) == 0 {
		return proc.baseConfig, nil
	}

	var override config.Override
	if err := json.Unmarshal(batch.Override, &override); err != nil {
		return config.PipelineConfig{}, fmt.Errorf("parsing batch override: %w", err)
	}
	merged, err := proc.baseConfig.Merge(override)
	if err != nil {
		return config.PipelineConfig{}, fmt.Errorf("applying batch override: %w", err)
	}
	return merged, nil
}

func (proc *TaskProcessor) assignGroups(ctx context.Context, batch *database.Batch, output *pipeline.BatchOutput) error {
	if len(proc.baseConfig.Groups) == 0 {
		return nil
	}

	grouper, err := groups.NewGrouper(proc.baseConfig.Groups)
	if err != nil {
		return err
	}

	queries := make(map[string]string, len(proc.baseConfig.Groups))
	for _, def := range proc.baseConfig.Groups {
		queries[def.Name] = def.Query
	}

	return database.SaveGroups(ctx, proc.db, batch.Id, queries, grouper.AssignAll(output.Results))
}
