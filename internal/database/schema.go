package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

type Batch struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	SourceType   string         `gorm:"size:20;not null"`
	SourceParams datatypes.JSON `gorm:"type:jsonb"`

	// Override is the per-request pipeline override the batch was submitted
	// with, kept for reproducibility.
	Override datatypes.JSON `gorm:"type:jsonb"`

	TotalNoteCount     int `gorm:"default:0"`
	SucceededNoteCount int `gorm:"default:0"`
	FailedNoteCount    int `gorm:"default:0"`

	Outcomes []NoteOutcome `gorm:"foreignKey:BatchId;constraint:OnDelete:CASCADE"`
	Groups   []Group       `gorm:"foreignKey:BatchId;constraint:OnDelete:CASCADE"`
	Errors   []BatchError  `gorm:"foreignKey:BatchId;constraint:OnDelete:CASCADE"`
}

const (
	OutcomeCompleted string = "COMPLETED"
	OutcomeFailed    string = "FAILED"
)

// NoteOutcome is the persisted per-note result or failure, keyed by the
// correlation identity within its batch.
type NoteOutcome struct {
	BatchId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	PatientId string    `gorm:"primaryKey;size:255"`
	NoteId    string    `gorm:"primaryKey;size:255"`

	Status string `gorm:"size:20;not null"`

	Preprocessed string
	Predictions  datatypes.JSON `gorm:"type:jsonb"` // {"model":{"label":"…","score":0.97},…}
	Flags        datatypes.JSON `gorm:"type:jsonb"`
	Warnings     datatypes.JSON `gorm:"type:jsonb"`

	FailedStage  string `gorm:"size:64"`
	ErrorKind    string `gorm:"size:20"`
	ErrorMessage string
}

type Group struct {
	Id      uuid.UUID `gorm:"type:uuid;primaryKey"`
	BatchId uuid.UUID `gorm:"type:uuid"`
	Name    string
	Query   string

	Members []GroupMember `gorm:"foreignKey:GroupId;constraint:OnDelete:CASCADE"`
}

type GroupMember struct {
	GroupId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	PatientId string    `gorm:"primaryKey;size:255"`
	NoteId    string    `gorm:"primaryKey;size:255"`
}

type BatchError struct {
	BatchId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}
