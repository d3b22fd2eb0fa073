package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"medtext-backend/internal/inference"
)

// Result is the successful outcome for one note. Exactly one of Result or
// Failure is produced per input.
type Result struct {
	PatientId string
	NoteId    string

	Predictions map[string]inference.Prediction

	// Preprocessed is the normalized text the predictions were made on.
	Preprocessed string

	Flags      []string
	Warnings   []string
	StageTrace []string
}

func (r *Result) Key() Key {
	return Key{PatientId: r.PatientId, NoteId: r.NoteId}
}

// Error kinds recorded on a Failure.
const (
	ErrorKindStage     = "stage"
	ErrorKindInference = "inference"
	ErrorKindPanic     = "panic"
)

// Failure is the per-item error outcome. It carries the full correlation
// identity so it can be merged back into a batch's keyed output.
type Failure struct {
	PatientId string
	NoteId    string
	Stage     string
	ErrorKind string
	Message   string
}

func (f *Failure) Key() Key {
	return Key{PatientId: f.PatientId, NoteId: f.NoteId}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("note %s/%s failed at stage %s: %s", f.PatientId, f.NoteId, f.Stage, f.Message)
}

// Definition is an ordered stage sequence plus the terminal inference
// adapter. It is validated once at construction and is immutable afterwards:
// a single Definition is shared read-only by every worker in a batch.
type Definition struct {
	stages  []Stage
	adapter *inference.Adapter
}

func NewDefinition(stages []Stage, adapter *inference.Adapter) (*Definition, error) {
	if adapter == nil {
		return nil, fmt.Errorf("pipeline requires a terminal inference adapter")
	}

	seen := make(map[string]struct{}, len(stages)+1)
	for _, stage := range stages {
		name := stage.Name()
		if name == "" {
			return nil, fmt.Errorf("pipeline stage with empty name")
		}
		if name == adapter.Name() {
			return nil, fmt.Errorf("stage %q collides with the inference stage", name)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate stage name %q", name)
		}
		seen[name] = struct{}{}
	}

	return &Definition{stages: stages, adapter: adapter}, nil
}

// StageNames returns the ordered stage names, inference stage included.
func (d *Definition) StageNames() []string {
	names := make([]string, 0, len(d.stages)+1)
	for _, stage := range d.stages {
		names = append(names, stage.Name())
	}
	return append(names, d.adapter.Name())
}

// Run executes the pipeline against one note synchronously. It never panics
// and never returns both outcomes: every internal fault, stage panic
// included, is converted into either a Result or a Failure.
func (d *Definition) Run(ctx context.Context, note Note) (result *Result, failure *Failure) {
	trace := make([]string, 0, len(d.stages)+1)
	currentStage := ""

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing note",
				"patient_id", note.PatientId, "note_id", note.NoteId,
				"stage", currentStage, "panic", r, "stack", string(debug.Stack()))
			result = nil
			failure = &Failure{
				PatientId: note.PatientId,
				NoteId:    note.NoteId,
				Stage:     currentStage,
				ErrorKind: ErrorKindPanic,
				Message:   fmt.Sprintf("%v", r),
			}
		}
	}()

	state := NewNoteState(note)
	var warnings []string

	for _, stage := range d.stages {
		currentStage = stage.Name()
		trace = append(trace, currentStage)

		err := stage.Process(state)
		if err == nil {
			continue
		}

		var serr *StageError
		if errors.As(err, &serr) && serr.Recoverable {
			warnings = append(warnings, serr.Error())
			continue
		}

		return nil, &Failure{
			PatientId: note.PatientId,
			NoteId:    note.NoteId,
			Stage:     currentStage,
			ErrorKind: ErrorKindStage,
			Message:   err.Error(),
		}
	}

	currentStage = d.adapter.Name()
	trace = append(trace, currentStage)

	predictions, err := d.adapter.Infer(ctx, state.InferenceText())
	if err != nil {
		return nil, &Failure{
			PatientId: note.PatientId,
			NoteId:    note.NoteId,
			Stage:     currentStage,
			ErrorKind: ErrorKindInference,
			Message:   err.Error(),
		}
	}

	return &Result{
		PatientId:    note.PatientId,
		NoteId:       note.NoteId,
		Predictions:  predictions,
		Preprocessed: state.InferenceText(),
		Flags:        state.Flags(),
		Warnings:     warnings,
		StageTrace:   trace,
	}, nil
}
