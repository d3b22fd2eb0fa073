package pipeline

import "fmt"

// StageError is an error scoped to a single stage. Recoverable errors are
// downgraded to warnings on the eventual Result; fatal errors abort the item
// and become a Failure carrying the offending stage name.
type StageError struct {
	Stage       string
	Reason      string
	Recoverable bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Reason)
}

// Warningf builds a recoverable StageError.
func Warningf(stage, format string, args ...any) error {
	return &StageError{Stage: stage, Reason: fmt.Sprintf(format, args...), Recoverable: true}
}

// Fatalf builds a fatal StageError.
func Fatalf(stage, format string, args ...any) error {
	return &StageError{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// BatchFatalError indicates a process-level fault (cancellation, pool crash)
// that truncated a batch. It is distinct from per-item Failures: the scheduler
// still returns every outcome produced before the fault.
type BatchFatalError struct {
	Err error
}

func (e *BatchFatalError) Error() string {
	return fmt.Sprintf("batch aborted: %v", e.Err)
}

func (e *BatchFatalError) Unwrap() error {
	return e.Err
}
