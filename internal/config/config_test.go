package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtext-backend/internal/inference"
)

const sampleConfig = `
note_filter:
  status: enabled
  words: [embolism, PE]
section_filter:
  status: enabled
  include: [ASSESSMENT, HISTORY]
  exclude: [MEDICATIONS]
  fallback: true
sentence_filter:
  status: enabled
  words: [embolism]
word_masker:
  status: excluded
models:
  phenotype:
    type: onnx
    model_path: /models/phenotype
    tokenizer_path: /models/phenotype/tokenizer.json
    max_length: 512
groups:
  - name: positive
    query: phenotype = "POSITIVE"
`

func TestParseLayersOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.True(t, cfg.StageEnabled("note_filter"))
	assert.Equal(t, []string{"embolism", "PE"}, cfg.NoteFilter.Words)
	assert.Equal(t, StatusExcluded, cfg.WordMasker.Status)

	// Untouched stages keep their defaults.
	assert.True(t, cfg.StageEnabled("encoding_fixer"))
	assert.True(t, cfg.StageEnabled("section_splitter"))
	assert.Equal(t, "\n\n", cfg.SectionSplitter.Delimiter)
	assert.False(t, cfg.StageEnabled("duplicate_checker"))
	assert.Equal(t, inference.DefaultTimeout, cfg.InferenceTimeout)

	require.Contains(t, cfg.Models, "phenotype")
	assert.Equal(t, inference.OnnxClassifier, cfg.Models["phenotype"].Type)
	require.Len(t, cfg.Groups, 1)
}

func TestParseValidation(t *testing.T) {
	_, err := Parse([]byte(`models: {}`))
	assert.ErrorContains(t, err, "at least one model")

	_, err = Parse([]byte(`
joiner:
  status: sometimes
models:
  m:
    type: remote
    endpoint: http://scorer:9000/score
`))
	assert.ErrorContains(t, err, "invalid status")

	_, err = Parse([]byte(`
models:
  m:
    type: onnx
`))
	assert.ErrorContains(t, err, "model_path")
}

func TestMergeOverride(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	merged, err := cfg.Merge(Override{
		NoteFilter:       &NoteFilterConfig{Status: StatusDisabled},
		SentenceFilter:   &SentenceFilterConfig{Words: []string{"thrombosis"}},
		SentenceExpander: &SentenceExpanderConfig{Status: StatusEnabled, LengthThreshold: 80},
	})
	require.NoError(t, err)

	assert.False(t, merged.StageEnabled("note_filter"))
	// Status omitted in the override inherits the base status.
	assert.True(t, merged.StageEnabled("sentence_filter"))
	assert.Equal(t, []string{"thrombosis"}, merged.SentenceFilter.Words)
	assert.True(t, merged.StageEnabled("sentence_expander"))
	assert.Equal(t, 80, merged.SentenceExpander.LengthThreshold)

	// The base config is untouched.
	assert.True(t, cfg.StageEnabled("note_filter"))
}

func TestMergeCannotEnableExcludedStage(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	_, err = cfg.Merge(Override{
		WordMasker: &WordMaskerConfig{Status: StatusEnabled, Words: []string{"name"}},
	})
	assert.ErrorContains(t, err, "excluded")

	// Overriding parameters of an excluded stage keeps it excluded.
	merged, err := cfg.Merge(Override{
		WordMasker: &WordMaskerConfig{Words: []string{"name"}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusExcluded, merged.WordMasker.Status)
}
