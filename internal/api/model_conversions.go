package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"medtext-backend/internal/database"
	"medtext-backend/internal/inference"
	"medtext-backend/pkg/api"
)

func convertBatch(b database.Batch) api.Batch {
	return api.Batch{
		Id:                 b.Id,
		Name:               b.Name,
		Status:             b.Status,
		CreationTime:       b.CreationTime,
		StartTime:          nullableTime(b.StartTime),
		CompletionTime:     nullableTime(b.CompletionTime),
		SourceType:         b.SourceType,
		TotalNoteCount:     b.TotalNoteCount,
		SucceededNoteCount: b.SucceededNoteCount,
		FailedNoteCount:    b.FailedNoteCount,
	}
}

func convertBatches(bs []database.Batch) []api.Batch {
	batches := make([]api.Batch, 0, len(bs))
	for _, b := range bs {
		batches = append(batches, convertBatch(b))
	}
	return batches
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func convertOutcome(o database.NoteOutcome) (api.NoteOutcome, error) {
	outcome := api.NoteOutcome{
		PatientId:    o.PatientId,
		NoteId:       o.NoteId,
		Status:       o.Status,
		Preprocessed: o.Preprocessed,
		FailedStage:  o.FailedStage,
		ErrorKind:    o.ErrorKind,
		ErrorMessage: o.ErrorMessage,
	}

	if len(o.Predictions) > 0 {
		if err := json.Unmarshal(o.Predictions, &outcome.Predictions); err != nil {
			return api.NoteOutcome{}, fmt.Errorf("decoding predictions: %w", err)
		}
	}
	if len(o.Flags) > 0 {
		if err := json.Unmarshal(o.Flags, &outcome.Flags); err != nil {
			return api.NoteOutcome{}, fmt.Errorf("decoding flags: %w", err)
		}
	}
	if len(o.Warnings) > 0 {
		if err := json.Unmarshal(o.Warnings, &outcome.Warnings); err != nil {
			return api.NoteOutcome{}, fmt.Errorf("decoding warnings: %w", err)
		}
	}

	return outcome, nil
}

func convertGroup(g database.Group) api.Group {
	var members []api.NoteRef
	for _, m := range g.Members {
		members = append(members, api.NoteRef{PatientId: m.PatientId, NoteId: m.NoteId})
	}
	return api.Group{
		Id:      g.Id,
		Name:    g.Name,
		Query:   g.Query,
		Members: members,
	}
}

func convertGroups(gs []database.Group) []api.Group {
	groups := make([]api.Group, 0, len(gs))
	for _, g := range gs {
		groups = append(groups, convertGroup(g))
	}
	return groups
}

func convertPredictions(predictions map[string]inference.Prediction) map[string]api.Prediction {
	out := make(map[string]api.Prediction, len(predictions))
	for name, p := range predictions {
		out[name] = api.Prediction{Label: p.Label, Score: p.Score}
	}
	return out
}
