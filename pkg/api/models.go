package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Note struct {
	NoteId   string
	Text     string
	Metadata map[string]string `json:"Metadata,omitempty"`
}

type Patient struct {
	PatientId string
	Notes     []Note
}

type CreateBatchRequest struct {
	Name string

	// SourceType is one of inline, local, s3.
	SourceType string

	Patients []Patient `json:"Patients,omitempty"`
	Dir      string    `json:"Dir,omitempty"`
	Bucket   string    `json:"Bucket,omitempty"`
	Prefix   string    `json:"Prefix,omitempty"`

	// Override is a partial pipeline configuration applied on top of the
	// server's base configuration for this batch only.
	Override json.RawMessage `json:"Override,omitempty"`
}

type CreateBatchResponse struct {
	BatchId uuid.UUID
}

type Batch struct {
	Id   uuid.UUID
	Name string

	Status         string
	CreationTime   time.Time
	StartTime      *time.Time `json:"StartTime,omitempty"`
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	SourceType string

	TotalNoteCount     int
	SucceededNoteCount int
	FailedNoteCount    int
}

type Prediction struct {
	Label string
	Score float64
}

type NoteOutcome struct {
	PatientId string
	NoteId    string
	Status    string

	Preprocessed string                `json:"Preprocessed,omitempty"`
	Predictions  map[string]Prediction `json:"Predictions,omitempty"`
	Flags        []string              `json:"Flags,omitempty"`
	Warnings     []string              `json:"Warnings,omitempty"`

	FailedStage  string `json:"FailedStage,omitempty"`
	ErrorKind    string `json:"ErrorKind,omitempty"`
	ErrorMessage string `json:"ErrorMessage,omitempty"`
}

type NoteRef struct {
	PatientId string
	NoteId    string
}

type Group struct {
	Id    uuid.UUID
	Name  string
	Query string

	Members []NoteRef `json:"Members,omitempty"`
}

type OutcomesQuery struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
	Offset int    `schema:"offset"`
}

type ProcessTextRequest struct {
	Text     string
	Override json.RawMessage `json:"Override,omitempty"`
}

type ProcessTextResponse struct {
	Preprocessed string
	Predictions  map[string]Prediction
	Flags        []string `json:"Flags,omitempty"`
	Warnings     []string `json:"Warnings,omitempty"`
}
