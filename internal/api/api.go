// Package api exposes the batch and single-note processing endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"medtext-backend/internal/config"
	"medtext-backend/internal/database"
	"medtext-backend/internal/engine"
	"medtext-backend/internal/inference"
	"medtext-backend/internal/messaging"
	"medtext-backend/internal/pipeline"
	"medtext-backend/internal/storage"
	"medtext-backend/pkg/api"
)

const defaultOutcomePageSize = 100

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher

	baseConfig config.PipelineConfig
	adapter    *inference.Adapter
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher, baseConfig config.PipelineConfig, adapter *inference.Adapter) *BackendService {
	return &BackendService{db: db, publisher: publisher, baseConfig: baseConfig, adapter: adapter}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/batches", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateBatch))
		r.Get("/", RestHandler(s.ListBatches))
		r.Route("/{batch_id}", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetBatch))
			r.Get("/outcomes", RestHandler(s.GetBatchOutcomes))
			r.Get("/groups", RestHandler(s.GetBatchGroups))
			r.Get("/groups/{group_id}", RestHandler(s.GetBatchGroup))
		})
	})
	r.Post("/process/text", RestHandler(s.ProcessText))
}

func (s *BackendService) CreateBatch(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateBatchRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	override, err := s.validateOverride(req.Override)
	if err != nil {
		return nil, err
	}

	sourceType, sourceParams, err := buildSourceParams(req)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	batch := database.Batch{
		Id:           uuid.New(),
		Name:         req.Name,
		Status:       database.JobQueued,
		CreationTime: time.Now().UTC(),
		SourceType:   sourceType,
		SourceParams: sourceParams,
		Override:     override,
	}

	if err := s.db.WithContext(ctx).Create(&batch).Error; err != nil {
		slog.Error("error creating batch", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create batch entry")
	}

	if err := s.publisher.PublishBatchTask(ctx, messaging.BatchTaskPayload{BatchId: batch.Id}); err != nil {
		slog.Error("error publishing batch task", "batch_id", batch.Id, "error", err)
		database.SaveBatchError(ctx, s.db, batch.Id, err.Error())
		if statusErr := database.UpdateBatchStatus(ctx, s.db, batch.Id, database.JobFailed); statusErr != nil {
			slog.Error("error marking batch failed", "batch_id", batch.Id, "error", statusErr)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue batch task")
	}

	slog.Info("submitted batch", "batch_id", batch.Id, "source_type", sourceType)
	return api.CreateBatchResponse{BatchId: batch.Id}, nil
}

// validateOverride rejects overrides that cannot merge over the base
// configuration up front, before a worker picks the batch up.
func (s *BackendService) validateOverride(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var override config.Override
	if err := json.Unmarshal(raw, &override); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse pipeline override: %v", err)
	}
	if _, err := s.baseConfig.Merge(override); err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "invalid pipeline override: %v", err)
	}
	return raw, nil
}

func buildSourceParams(req api.CreateBatchRequest) (string, []byte, error) {
	srcType, err := storage.ToSourceType(req.SourceType)
	if err != nil {
		return "", nil, CodedErrorf(http.StatusUnprocessableEntity, "%v", err)
	}

	var params any
	switch srcType {
	case storage.InlineSourceType:
		notes, err := flattenPatients(req.Patients)
		if err != nil {
			return "", nil, err
		}
		params = storage.InlineSourceParams{Notes: notes}

	case storage.LocalSourceType:
		if req.Dir == "" {
			return "", nil, CodedErrorf(http.StatusUnprocessableEntity, "dir is required for a local source")
		}
		params = storage.LocalSourceParams{Dir: req.Dir}

	case storage.S3SourceType:
		if req.Bucket == "" {
			return "", nil, CodedErrorf(http.StatusUnprocessableEntity, "bucket is required for an s3 source")
		}
		params = storage.S3SourceParams{Bucket: req.Bucket, Prefix: req.Prefix}
	}

	data, err := json.Marshal(params)
	if err != nil {
		return "", nil, CodedErrorf(http.StatusInternalServerError, "failed to encode source params")
	}
	return string(srcType), data, nil
}

// flattenPatients turns the patient-grouped request shape into the flat
// correlation-keyed notes the pipeline works with.
func flattenPatients(patients []api.Patient) ([]pipeline.Note, error) {
	var notes []pipeline.Note
	seen := make(map[pipeline.Key]struct{})

	for _, patient := range patients {
		if patient.PatientId == "" {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "patient is missing patient_id")
		}
		for _, note := range patient.Notes {
			if note.NoteId == "" {
				return nil, CodedErrorf(http.StatusUnprocessableEntity, "patient %s has a note missing note_id", patient.PatientId)
			}
			key := pipeline.Key{PatientId: patient.PatientId, NoteId: note.NoteId}
			if _, ok := seen[key]; ok {
				return nil, CodedErrorf(http.StatusUnprocessableEntity, "duplicate note %s/%s in request", key.PatientId, key.NoteId)
			}
			seen[key] = struct{}{}

			notes = append(notes, pipeline.Note{
				PatientId: patient.PatientId,
				NoteId:    note.NoteId,
				Text:      note.Text,
				Metadata:  note.Metadata,
			})
		}
	}

	if len(notes) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "at least one note is required for an inline source")
	}
	return notes, nil
}

func (s *BackendService) ListBatches(r *http.Request) (any, error) {
	var batches []database.Batch
	if err := s.db.WithContext(r.Context()).Order("creation_time DESC").Find(&batches).Error; err != nil {
		slog.Error("error listing batches", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving batches")
	}

	return convertBatches(batches), nil
}

func (s *BackendService) GetBatch(r *http.Request) (any, error) {
	batchId, err := URLParamUUID(r, "batch_id")
	if err != nil {
		return nil, err
	}

	var batch database.Batch
	if err := s.db.WithContext(r.Context()).First(&batch, "id = ?", batchId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "batch not found")
		}
		slog.Error("error getting batch", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving batch record")
	}

	return convertBatch(batch), nil
}

func (s *BackendService) GetBatchOutcomes(r *http.Request) (any, error) {
	batchId, err := URLParamUUID(r, "batch_id")
	if err != nil {
		return nil, err
	}

	query, err := ParseRequestQueryParams[api.OutcomesQuery](r)
	if err != nil {
		return nil, err
	}
	if query.Limit <= 0 {
		query.Limit = defaultOutcomePageSize
	}

	stmt := s.db.WithContext(r.Context()).
		Where("batch_id = ?", batchId).
		Order("patient_id, note_id").
		Limit(query.Limit).
		Offset(query.Offset)
	if query.Status != "" {
		stmt = stmt.Where("status = ?", query.Status)
	}

	var outcomes []database.NoteOutcome
	if err := stmt.Find(&outcomes).Error; err != nil {
		slog.Error("error listing outcomes", "batch_id", batchId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving outcomes")
	}

	out := make([]api.NoteOutcome, len(outcomes))
	for i := range outcomes {
		out[i], err = convertOutcome(outcomes[i])
		if err != nil {
			slog.Error("error decoding outcome", "batch_id", batchId, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "error decoding outcome record")
		}
	}
	return out, nil
}

func (s *BackendService) GetBatchGroups(r *http.Request) (any, error) {
	batchId, err := URLParamUUID(r, "batch_id")
	if err != nil {
		return nil, err
	}

	var batchGroups []database.Group
	if err := s.db.WithContext(r.Context()).Find(&batchGroups, "batch_id = ?", batchId).Error; err != nil {
		slog.Error("error listing groups", "batch_id", batchId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving groups")
	}

	return convertGroups(batchGroups), nil
}

func (s *BackendService) GetBatchGroup(r *http.Request) (any, error) {
	batchId, err := URLParamUUID(r, "batch_id")
	if err != nil {
		return nil, err
	}
	groupId, err := URLParamUUID(r, "group_id")
	if err != nil {
		return nil, err
	}

	var group database.Group
	if err := s.db.WithContext(r.Context()).Preload("Members").
		First(&group, "id = ? AND batch_id = ?", groupId, batchId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "group not found")
		}
		slog.Error("error getting group", "group_id", groupId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving group record")
	}

	return convertGroup(group), nil
}

// ProcessText runs a single raw text through the pipeline synchronously under
// a synthetic correlation identity. Meant for interactive use, not batches.
func (s *BackendService) ProcessText(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ProcessTextRequest](r)
	if err != nil {
		return nil, err
	}
	if req.Text == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "text is required")
	}

	cfg := s.baseConfig
	if len(req.Override) > 0 {
		var override config.Override
		if err := json.Unmarshal(req.Override, &override); err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "unable to parse pipeline override: %v", err)
		}
		cfg, err = s.baseConfig.Merge(override)
		if err != nil {
			return nil, CodedErrorf(http.StatusUnprocessableEntity, "invalid pipeline override: %v", err)
		}
	}

	note := pipeline.Note{
		PatientId: "adhoc",
		NoteId:    uuid.NewString(),
		Text:      req.Text,
	}

	result, failure, err := engine.ProcessNote(r.Context(), cfg, s.adapter, note)
	if err != nil {
		slog.Error("error building pipeline for text request", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to build pipeline")
	}
	if failure != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity,
			"processing failed at stage %s: %s", failure.Stage, failure.Message)
	}

	return api.ProcessTextResponse{
		Preprocessed: result.Preprocessed,
		Predictions:  convertPredictions(result.Predictions),
		Flags:        result.Flags,
		Warnings:     result.Warnings,
	}, nil
}
