package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"medtext-backend/internal/pipeline"
)

const outcomeInsertBatchSize = 100

func UpdateBatchStatus(ctx context.Context, txn *gorm.DB, batchId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	switch status {
	case JobRunning:
		updates["start_time"] = time.Now().UTC()
	case JobCompleted, JobFailed:
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Batch{Id: batchId}).Updates(updates).Error; err != nil {
		slog.Error("error updating batch status", "batch_id", batchId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveBatchError(ctx context.Context, txn *gorm.DB, batchId uuid.UUID, errorMessage string) {
	batchError := BatchError{
		BatchId:   batchId,
		ErrorId:   uuid.New(),
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&batchError).Error; err != nil {
		slog.Error("error saving batch error", "batch_id", batchId, "error", err)
	}
}

// SaveOutcomes persists a batch output and rolls the per-batch counters
// forward in one transaction.
func SaveOutcomes(ctx context.Context, db *gorm.DB, batchId uuid.UUID, output *pipeline.BatchOutput) error {
	outcomes := make([]NoteOutcome, 0, output.Len())

	for i := range output.Results {
		outcome, err := resultToOutcome(batchId, &output.Results[i])
		if err != nil {
			return err
		}
		outcomes = append(outcomes, outcome)
	}
	for i := range output.Failures {
		failure := &output.Failures[i]
		outcomes = append(outcomes, NoteOutcome{
			BatchId:      batchId,
			PatientId:    failure.PatientId,
			NoteId:       failure.NoteId,
			Status:       OutcomeFailed,
			FailedStage:  failure.Stage,
			ErrorKind:    failure.ErrorKind,
			ErrorMessage: failure.Message,
		})
	}

	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if len(outcomes) > 0 {
			if err := txn.CreateInBatches(outcomes, outcomeInsertBatchSize).Error; err != nil {
				return fmt.Errorf("saving note outcomes: %w", err)
			}
		}

		return txn.Model(&Batch{Id: batchId}).Updates(map[string]any{
			"succeeded_note_count": gorm.Expr("succeeded_note_count + ?", len(output.Results)),
			"failed_note_count":    gorm.Expr("failed_note_count + ?", len(output.Failures)),
		}).Error
	})
}

func resultToOutcome(batchId uuid.UUID, result *pipeline.Result) (NoteOutcome, error) {
	predictions, err := json.Marshal(result.Predictions)
	if err != nil {
		return NoteOutcome{}, fmt.Errorf("marshalling predictions: %w", err)
	}
	flags, err := json.Marshal(result.Flags)
	if err != nil {
		return NoteOutcome{}, fmt.Errorf("marshalling flags: %w", err)
	}
	warnings, err := json.Marshal(result.Warnings)
	if err != nil {
		return NoteOutcome{}, fmt.Errorf("marshalling warnings: %w", err)
	}

	return NoteOutcome{
		BatchId:      batchId,
		PatientId:    result.PatientId,
		NoteId:       result.NoteId,
		Status:       OutcomeCompleted,
		Preprocessed: result.Preprocessed,
		Predictions:  predictions,
		Flags:        flags,
		Warnings:     warnings,
	}, nil
}

// SaveGroups persists the cohort assignments for a batch.
func SaveGroups(ctx context.Context, db *gorm.DB, batchId uuid.UUID, queries map[string]string, members map[string][]pipeline.Key) error {
	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		for name, query := range queries {
			group := Group{Id: uuid.New(), BatchId: batchId, Name: name, Query: query}
			if err := txn.Create(&group).Error; err != nil {
				return fmt.Errorf("saving group %s: %w", name, err)
			}

			keys := members[name]
			if len(keys) == 0 {
				continue
			}
			rows := make([]GroupMember, len(keys))
			for i, key := range keys {
				rows[i] = GroupMember{GroupId: group.Id, PatientId: key.PatientId, NoteId: key.NoteId}
			}
			if err := txn.CreateInBatches(rows, outcomeInsertBatchSize).Error; err != nil {
				return fmt.Errorf("saving members of group %s: %w", name, err)
			}
		}
		return nil
	})
}
