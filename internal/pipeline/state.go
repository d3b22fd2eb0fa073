package pipeline

// Note is one clinical text record. (PatientId, NoteId) is the correlation
// key: it is never regenerated or rewritten by any stage.
type Note struct {
	PatientId string            `json:"patient_id"`
	NoteId    string            `json:"note_id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Key is the correlation identity used to join batch outputs back to inputs.
type Key struct {
	PatientId string
	NoteId    string
}

func (n Note) Key() Key {
	return Key{PatientId: n.PatientId, NoteId: n.NoteId}
}

// Span is a half-open [Start, End) byte range into the note text the state
// was derived from.
type Span struct {
	Start int
	End   int
}

type Sentence struct {
	Text string
	Span Span

	Important bool
	Duplicate bool
	Expanded  bool
}

type Section struct {
	Name string
	Text string
	Span Span

	Important bool
	Sentences []Sentence
}

// NoteState is the mutable working representation threaded through stages.
// Each state is exclusively owned by the worker processing it; stages may
// replace or augment its fields but never the underlying Note identity.
type NoteState struct {
	Note     Note
	Text     string
	Sections []Section

	// Preprocessed is the joined, normalized text handed to inference.
	// Empty until a joining stage runs.
	Preprocessed string

	flags map[string]struct{}
}

const DefaultSectionName = "default"

// NewNoteState places the note's raw text into a single default section.
func NewNoteState(note Note) *NoteState {
	return &NoteState{
		Note: note,
		Text: note.Text,
		Sections: []Section{{
			Name:      DefaultSectionName,
			Text:      note.Text,
			Span:      Span{Start: 0, End: len(note.Text)},
			Important: true,
		}},
	}
}

func (s *NoteState) SetFlag(name string) {
	if s.flags == nil {
		s.flags = make(map[string]struct{})
	}
	s.flags[name] = struct{}{}
}

func (s *NoteState) HasFlag(name string) bool {
	_, ok := s.flags[name]
	return ok
}

func (s *NoteState) Flags() []string {
	out := make([]string, 0, len(s.flags))
	for name := range s.flags {
		out = append(out, name)
	}
	return out
}

// InferenceText is the text handed to the inference adapter: the joined
// preprocessed text once a joining stage ran (or the note was filtered out),
// else the working text.
func (s *NoteState) InferenceText() string {
	if s.HasFlag(FlagJoined) || s.HasFlag(FlagFiltered) {
		return s.Preprocessed
	}
	return s.Text
}

// Flags set by the bundled stages.
const (
	FlagFiltered  = "filtered"
	FlagDuplicate = "duplicate"
	FlagMasked    = "masked"
	FlagJoined    = "joined"
)
