package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// BatchJob is consumed once by RunBatch and discarded afterwards.
type BatchJob struct {
	Notes   []Note
	Workers int

	// Progress, when set, is called after each note completes with the number
	// of finished notes and the batch total. Calls are serialized.
	Progress func(done, total int)
}

// BatchOutput collects every per-note outcome. Order follows completion,
// not submission: callers join back to inputs through the correlation key.
type BatchOutput struct {
	Results  []Result
	Failures []Failure
}

func (o *BatchOutput) Len() int {
	return len(o.Results) + len(o.Failures)
}

// Keys returns the correlation key of every outcome, unordered.
func (o *BatchOutput) Keys() []Key {
	keys := make([]Key, 0, o.Len())
	for i := range o.Results {
		keys = append(keys, o.Results[i].Key())
	}
	for i := range o.Failures {
		keys = append(keys, o.Failures[i].Key())
	}
	return keys
}

// RunBatch fans the job's notes out across a fixed-size worker pool, each
// worker running the single-item executor against the shared read-only
// definition. Every submitted note produces exactly one Result or Failure;
// one item's failure never aborts the batch.
//
// Cancelling ctx stops submission of further notes; in-flight items finish
// and their outcomes are kept. Only a run that could not submit every note
// returns its partial output together with a *BatchFatalError; a cancellation
// that lands after the last submission leaves a complete, error-free output.
func RunBatch(ctx context.Context, def *Definition, job BatchJob) (*BatchOutput, error) {
	seen := make(map[Key]struct{}, len(job.Notes))
	for _, note := range job.Notes {
		key := note.Key()
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("duplicate correlation key %s/%s in batch", key.PatientId, key.NoteId)
		}
		seen[key] = struct{}{}
	}

	total := len(job.Notes)
	output := &BatchOutput{
		Results:  make([]Result, 0, total),
		Failures: make([]Failure, 0),
	}
	if total == 0 {
		return output, nil
	}

	workers := job.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, total)

	// submitted is written only by the feeder; closing the queue orders those
	// writes before the workers finish, so reading it after Wait is safe.
	queue := make(chan Note)
	submitted := 0
	go func() {
		defer close(queue)
		for _, note := range job.Notes {
			select {
			case queue <- note:
				submitted++
			case <-ctx.Done():
				return
			}
		}
	}()

	// The output is the single point of write contention: the lock is held
	// per insert, never for the duration of an item's processing.
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()

			for note := range queue {
				result, failure := def.Run(ctx, note)

				mu.Lock()
				if result != nil {
					output.Results = append(output.Results, *result)
				} else {
					output.Failures = append(output.Failures, *failure)
				}
				if job.Progress != nil {
					job.Progress(output.Len(), total)
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil && submitted < total {
		return output, &BatchFatalError{Err: err}
	}
	return output, nil
}
