// Package engine assembles executable pipelines from configuration and runs
// batch tasks pulled off the queue.
package engine

import (
	"context"
	"errors"
	"fmt"

	"medtext-backend/internal/config"
	"medtext-backend/internal/inference"
	"medtext-backend/internal/pipeline"
	"medtext-backend/internal/stages"
)

// LoadAdapter resolves the configured models into the shared inference
// adapter. The adapter is loaded once per process and reused across batches.
func LoadAdapter(cfg config.PipelineConfig) (*inference.Adapter, error) {
	models, err := inference.LoadModels(cfg.Models)
	if err != nil {
		return nil, err
	}
	return inference.NewAdapter(models, cfg.InferenceTimeout)
}

// BuildDefinition turns the configuration into a validated pipeline over the
// given notes. The notes are needed up front because the duplicate index is
// built and frozen before any worker starts.
func BuildDefinition(cfg config.PipelineConfig, adapter *inference.Adapter, notes []pipeline.Note) (*pipeline.Definition, error) {
	var chain []pipeline.Stage

	add := func(name string, build func() (pipeline.Stage, error)) error {
		if !cfg.StageEnabled(name) {
			return nil
		}
		stage, err := build()
		if err != nil {
			return fmt.Errorf("building stage %s: %w", name, err)
		}
		chain = append(chain, stage)
		return nil
	}

	builders := []struct {
		name  string
		build func() (pipeline.Stage, error)
	}{
		{"encoding_fixer", func() (pipeline.Stage, error) {
			return stages.NewEncodingFixer(), nil
		}},
		{"pattern_replacer", func() (pipeline.Stage, error) {
			return stages.NewPatternReplacer(cfg.PatternReplacer.Rules)
		}},
		{"word_masker", func() (pipeline.Stage, error) {
			return stages.NewWordMasker(cfg.WordMasker.Words, maskRune(cfg.WordMasker.Mask))
		}},
		{"note_filter", func() (pipeline.Stage, error) {
			return stages.NewNoteFilter(cfg.NoteFilter.Words)
		}},
		{"section_splitter", func() (pipeline.Stage, error) {
			return stages.NewSectionSplitter(cfg.SectionSplitter.Delimiter), nil
		}},
		{"section_filter", func() (pipeline.Stage, error) {
			return stages.NewSectionFilter(cfg.SectionFilter.Include, cfg.SectionFilter.Exclude, cfg.SectionFilter.Fallback)
		}},
		{"sentence_segmenter", func() (pipeline.Stage, error) {
			return stages.NewSentenceSegmenter(), nil
		}},
	}

	for _, b := range builders {
		if err := add(b.name, b.build); err != nil {
			return nil, err
		}
	}

	if cfg.StageEnabled("duplicate_checker") {
		index, owners := buildDuplicateIndex(cfg, chain, notes)
		checker, err := stages.NewDuplicateChecker(index, owners)
		if err != nil {
			return nil, fmt.Errorf("building stage duplicate_checker: %w", err)
		}
		chain = append(chain, checker)
	}

	tail := []struct {
		name  string
		build func() (pipeline.Stage, error)
	}{
		{"sentence_filter", func() (pipeline.Stage, error) {
			return stages.NewSentenceFilter(cfg.SentenceFilter.Words)
		}},
		{"sentence_expander", func() (pipeline.Stage, error) {
			return stages.NewSentenceExpander(cfg.SentenceExpander.LengthThreshold), nil
		}},
		{"joiner", func() (pipeline.Stage, error) {
			return stages.NewJoiner(cfg.Joiner.SentenceDelimiter, cfg.Joiner.SectionDelimiter), nil
		}},
	}

	for _, b := range tail {
		if err := add(b.name, b.build); err != nil {
			return nil, err
		}
	}

	return pipeline.NewDefinition(chain, adapter)
}

// ProcessNote runs a single note through a pipeline built for it. Used by
// the synchronous API endpoints; batches go through the TaskProcessor.
func ProcessNote(ctx context.Context, cfg config.PipelineConfig, adapter *inference.Adapter, note pipeline.Note) (*pipeline.Result, *pipeline.Failure, error) {
	def, err := BuildDefinition(cfg, adapter, []pipeline.Note{note})
	if err != nil {
		return nil, nil, err
	}
	result, failure := def.Run(ctx, note)
	return result, failure, nil
}

func maskRune(mask string) rune {
	for _, r := range mask {
		return r
	}
	return '*'
}

// buildDuplicateIndex runs the upstream stages over every note sequentially
// and indexes the resulting sentences in submission order. The frozen index
// plus the owner mapping lets concurrent workers flag later occurrences while
// the first occurrence stays unflagged.
func buildDuplicateIndex(cfg config.PipelineConfig, upstream []pipeline.Stage, notes []pipeline.Note) (*stages.DuplicateIndex, map[pipeline.Key]int) {
	index := stages.NewDuplicateIndex(
		cfg.DuplicateChecker.NumPerm,
		cfg.DuplicateChecker.SimThreshold,
		cfg.DuplicateChecker.LengthThreshold,
	)
	owners := make(map[pipeline.Key]int, len(notes))

	for i := range notes {
		owners[notes[i].Key()] = i

		state := pipeline.NewNoteState(notes[i])
		if !runUpstream(upstream, state) {
			continue
		}

		for s := range state.Sections {
			for _, sentence := range state.Sections[s].Sentences {
				if len(sentence.Text) < index.LengthThreshold() {
					continue
				}
				// The index is still unfrozen here, Add cannot fail.
				_, _ = index.Add(sentence.Text, i)
			}
		}
	}

	index.Freeze()
	return index, owners
}

// runUpstream applies the stages preceding the duplicate checker. Recoverable
// stage errors are ignored like the executor ignores them; a fatal error
// skips indexing for the note, which will fail identically during the batch.
func runUpstream(upstream []pipeline.Stage, state *pipeline.NoteState) bool {
	for _, stage := range upstream {
		if err := stage.Process(state); err != nil {
			var serr *pipeline.StageError
			if errors.As(err, &serr) && serr.Recoverable {
				continue
			}
			return false
		}
	}
	return true
}
