package stages

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"

	"medtext-backend/internal/pipeline"
)

const (
	defaultNumPerm         = 128
	defaultSimThreshold    = 0.9
	defaultLengthThreshold = 50
	bandSize               = 4
)

// DuplicateIndex is a MinHash/LSH lookup over sentence signatures. It is
// populated before batch execution begins and frozen; during execution every
// worker shares the same frozen index and only queries it.
type DuplicateIndex struct {
	numPerm         int
	simThreshold    float64
	lengthThreshold int

	permA []uint64
	permB []uint64

	signatures [][]uint64
	owners     []int
	buckets    map[uint64][]int
	frozen     bool
}

func NewDuplicateIndex(numPerm int, simThreshold float64, lengthThreshold int) *DuplicateIndex {
	if numPerm <= 0 {
		numPerm = defaultNumPerm
	}
	// Round up to a whole number of LSH bands.
	if numPerm%bandSize != 0 {
		numPerm += bandSize - numPerm%bandSize
	}
	if simThreshold <= 0 || simThreshold > 1 {
		simThreshold = defaultSimThreshold
	}
	if lengthThreshold <= 0 {
		lengthThreshold = defaultLengthThreshold
	}

	rng := rand.New(rand.NewSource(1))
	permA := make([]uint64, numPerm)
	permB := make([]uint64, numPerm)
	for i := 0; i < numPerm; i++ {
		permA[i] = rng.Uint64() | 1
		permB[i] = rng.Uint64()
	}

	return &DuplicateIndex{
		numPerm:         numPerm,
		simThreshold:    simThreshold,
		lengthThreshold: lengthThreshold,
		permA:           permA,
		permB:           permB,
		buckets:         make(map[uint64][]int),
	}
}

// LengthThreshold is the minimum sentence length considered for duplication.
func (idx *DuplicateIndex) LengthThreshold() int {
	return idx.lengthThreshold
}

func (idx *DuplicateIndex) Len() int {
	return len(idx.signatures)
}

func (idx *DuplicateIndex) signature(text string) []uint64 {
	sig := make([]uint64, idx.numPerm)
	for i := range sig {
		sig[i] = ^uint64(0)
	}

	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(word))
		base := h.Sum64()

		for i := 0; i < idx.numPerm; i++ {
			v := idx.permA[i]*base + idx.permB[i]
			if v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

func bandHash(band []uint64, bandIdx int) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	buf[0] = byte(bandIdx)
	h.Write(buf[:1])
	for _, v := range band {
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}

func similarity(a, b []uint64) float64 {
	match := 0
	for i := range a {
		if a[i] == b[i] {
			match++
		}
	}
	return float64(match) / float64(len(a))
}

// lookup matches candidates whose owner precedes the given owner, so a
// sentence is never its own duplicate and the earliest occurrence stays
// unflagged.
func (idx *DuplicateIndex) lookup(sig []uint64, owner int) bool {
	seen := make(map[int]struct{})
	for b := 0; b*bandSize < idx.numPerm; b++ {
		key := bandHash(sig[b*bandSize:(b+1)*bandSize], b)
		for _, candidate := range idx.buckets[key] {
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			if idx.owners[candidate] >= owner {
				continue
			}
			if similarity(sig, idx.signatures[candidate]) >= idx.simThreshold {
				return true
			}
		}
	}
	return false
}

// Add indexes the text under an owner sequence number and reports whether an
// earlier owner already contributed a near-duplicate. Returns an error once
// the index is frozen.
func (idx *DuplicateIndex) Add(text string, owner int) (bool, error) {
	if idx.frozen {
		return false, fmt.Errorf("duplicate index is frozen")
	}

	sig := idx.signature(text)
	dup := idx.lookup(sig, owner)

	id := len(idx.signatures)
	idx.signatures = append(idx.signatures, sig)
	idx.owners = append(idx.owners, owner)
	for b := 0; b*bandSize < idx.numPerm; b++ {
		key := bandHash(sig[b*bandSize:(b+1)*bandSize], b)
		idx.buckets[key] = append(idx.buckets[key], id)
	}
	return dup, nil
}

// Freeze makes the index immutable. A frozen index is safe for concurrent
// lookups from any number of workers.
func (idx *DuplicateIndex) Freeze() {
	idx.frozen = true
}

// Contains reports whether an owner earlier than the given one indexed a
// near-duplicate of the text. Pass AnyOwner to match the whole index.
func (idx *DuplicateIndex) Contains(text string, owner int) bool {
	return idx.lookup(idx.signature(text), owner)
}

// AnyOwner makes Contains consider every indexed sentence.
const AnyOwner = math.MaxInt

// NewScoped returns an empty unfrozen index with the same tuning, used for
// lookups scoped to a single note.
func (idx *DuplicateIndex) NewScoped() *DuplicateIndex {
	return NewDuplicateIndex(idx.numPerm, idx.simThreshold, idx.lengthThreshold)
}

// DuplicateChecker tags sentences that an earlier note already contributed
// to the frozen index, and sentences repeated within the note itself from
// their second occurrence on. It never removes data: duplicates stay in the
// state with their flag set, and downstream stages decide what to do with
// them.
type DuplicateChecker struct {
	index  *DuplicateIndex
	owners map[pipeline.Key]int
}

// NewDuplicateChecker wires a frozen index and the note-to-owner mapping the
// index was built with. Notes absent from the mapping match the whole index.
func NewDuplicateChecker(index *DuplicateIndex, owners map[pipeline.Key]int) (*DuplicateChecker, error) {
	if index == nil {
		return nil, fmt.Errorf("duplicate checker requires an index")
	}
	return &DuplicateChecker{index: index, owners: owners}, nil
}

func (c *DuplicateChecker) Name() string {
	return "duplicate_checker"
}

func (c *DuplicateChecker) Process(state *pipeline.NoteState) error {
	owner, ok := c.owners[state.Note.Key()]
	if !ok {
		owner = AnyOwner
	}

	// The frozen index only matches earlier notes, so repeats inside this
	// note are tracked in a scoped index as the scan goes.
	local := c.index.NewScoped()
	total, duplicates := 0, 0

	for i := range state.Sections {
		for j := range state.Sections[i].Sentences {
			sentence := &state.Sections[i].Sentences[j]
			total++

			if len(sentence.Text) < c.index.lengthThreshold {
				continue
			}
			repeat, _ := local.Add(sentence.Text, total)
			if repeat || c.index.Contains(sentence.Text, owner) {
				sentence.Duplicate = true
				duplicates++
			}
		}
	}

	if total > 0 && duplicates == total {
		state.SetFlag(pipeline.FlagDuplicate)
	}
	return nil
}
