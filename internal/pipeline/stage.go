package pipeline

// Stage is one named transformation over a NoteState. Implementations must be
// deterministic, must not retain references to the state after returning, and
// must be safe to invoke concurrently on independent states. A stage that
// consults shared data (a duplicate index, compiled rules) must treat it as
// read-only for the lifetime of a batch.
//
// A returned *StageError with Recoverable set degrades to a warning on the
// item's Result; any other error aborts the item.
type Stage interface {
	Name() string
	Process(state *NoteState) error
}
