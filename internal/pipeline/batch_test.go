package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtext-backend/internal/inference"
	"medtext-backend/internal/pipeline"
)

func batchNotes(n int) []pipeline.Note {
	notes := make([]pipeline.Note, 0, n)
	for i := 0; i < n; i++ {
		notes = append(notes, pipeline.Note{
			PatientId: fmt.Sprintf("P%d", i%7),
			NoteId:    fmt.Sprintf("N%d", i),
			Text:      fmt.Sprintf("note %d text", i),
		})
	}
	return notes
}

func TestRunBatchEveryInputProducesOneOutcome(t *testing.T) {
	def, err := pipeline.NewDefinition([]pipeline.Stage{upperStage()}, newTestAdapter(t, nil))
	require.NoError(t, err)

	notes := batchNotes(53)

	for _, workers := range []int{1, 4, 16, 100} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			output, err := pipeline.RunBatch(context.Background(), def, pipeline.BatchJob{
				Notes:   notes,
				Workers: workers,
			})
			require.NoError(t, err)
			require.Equal(t, len(notes), output.Len())
			assert.Empty(t, output.Failures)

			got := make(map[pipeline.Key]struct{}, output.Len())
			for _, key := range output.Keys() {
				got[key] = struct{}{}
			}
			for _, note := range notes {
				assert.Contains(t, got, note.Key())
			}
		})
	}
}

func TestRunBatchIsolatesItemFailures(t *testing.T) {
	flaky := &namedStage{name: "flaky", process: func(state *pipeline.NoteState) error {
		if state.Note.NoteId == "N3" {
			return pipeline.Fatalf("flaky", "unreadable note")
		}
		if state.Note.NoteId == "N7" {
			panic("worker panic")
		}
		return nil
	}}

	def, err := pipeline.NewDefinition([]pipeline.Stage{flaky}, newTestAdapter(t, nil))
	require.NoError(t, err)

	notes := batchNotes(12)
	output, err := pipeline.RunBatch(context.Background(), def, pipeline.BatchJob{Notes: notes, Workers: 4})
	require.NoError(t, err)

	require.Equal(t, len(notes), output.Len())
	require.Len(t, output.Failures, 2)

	kinds := make(map[string]string, 2)
	for _, failure := range output.Failures {
		kinds[failure.NoteId] = failure.ErrorKind
	}
	assert.Equal(t, pipeline.ErrorKindStage, kinds["N3"])
	assert.Equal(t, pipeline.ErrorKindPanic, kinds["N7"])
}

func TestRunBatchRejectsDuplicateKeys(t *testing.T) {
	def, err := pipeline.NewDefinition(nil, newTestAdapter(t, nil))
	require.NoError(t, err)

	notes := []pipeline.Note{
		{PatientId: "P1", NoteId: "N1", Text: "a"},
		{PatientId: "P1", NoteId: "N1", Text: "b"},
	}

	_, err = pipeline.RunBatch(context.Background(), def, pipeline.BatchJob{Notes: notes})
	assert.ErrorContains(t, err, "duplicate correlation key")
}

func TestRunBatchReportsProgress(t *testing.T) {
	def, err := pipeline.NewDefinition(nil, newTestAdapter(t, nil))
	require.NoError(t, err)

	notes := batchNotes(10)

	var mu sync.Mutex
	var seen []int
	output, err := pipeline.RunBatch(context.Background(), def, pipeline.BatchJob{
		Notes:   notes,
		Workers: 3,
		Progress: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, len(notes), total)
			seen = append(seen, done)
		},
	})
	require.NoError(t, err)
	require.Equal(t, len(notes), output.Len())

	require.Len(t, seen, len(notes))
	for i, done := range seen {
		assert.Equal(t, i+1, done)
	}
}

func TestRunBatchCancellationReturnsPartialOutput(t *testing.T) {
	models := map[string]inference.Model{
		"slow": &fakeModel{label: "POS", score: 0.5, delay: 20 * time.Millisecond},
	}
	def, err := pipeline.NewDefinition(nil, newTestAdapter(t, models))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	notes := batchNotes(40)
	done := 0
	output, err := pipeline.RunBatch(ctx, def, pipeline.BatchJob{
		Notes:   notes,
		Workers: 2,
		Progress: func(d, total int) {
			done = d
			if done == 4 {
				cancel()
			}
		},
	})

	var fatal *pipeline.BatchFatalError
	require.ErrorAs(t, err, &fatal)
	require.NotNil(t, output)
	assert.GreaterOrEqual(t, output.Len(), 4)
	assert.Less(t, output.Len(), len(notes))
}

func TestRunBatchCancellationAfterLastNoteIsClean(t *testing.T) {
	def, err := pipeline.NewDefinition(nil, newTestAdapter(t, nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notes := batchNotes(8)
	output, err := pipeline.RunBatch(ctx, def, pipeline.BatchJob{
		Notes:   notes,
		Workers: 2,
		Progress: func(done, total int) {
			if done == total {
				cancel()
			}
		},
	})

	// Every note was submitted and completed, so the late cancellation does
	// not turn a full run into a truncated one.
	require.NoError(t, err)
	assert.Equal(t, len(notes), output.Len())
}

func TestRunBatchEmptyJob(t *testing.T) {
	def, err := pipeline.NewDefinition(nil, newTestAdapter(t, nil))
	require.NoError(t, err)

	output, err := pipeline.RunBatch(context.Background(), def, pipeline.BatchJob{})
	require.NoError(t, err)
	assert.Zero(t, output.Len())
}
