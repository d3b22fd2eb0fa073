package inference

import (
	"context"
	"fmt"
)

// Prediction is one model's classification of a note's normalized text.
type Prediction struct {
	Label string
	Score float64
}

// Model scores normalized text. Implementations own whatever native or remote
// resources they need and release them in Release.
type Model interface {
	Predict(ctx context.Context, text string) (Prediction, error)

	Release()
}

// ModelType identifies a model backend.
type ModelType string

const (
	OnnxClassifier ModelType = "onnx"
	RemoteScorer   ModelType = "remote"
)

// ModelSpec is the resolved configuration for one named model.
type ModelSpec struct {
	Type          ModelType `yaml:"type" json:"type"`
	Device        string    `yaml:"device" json:"device"`
	ModelPath     string    `yaml:"model_path" json:"model_path"`
	TokenizerPath string    `yaml:"tokenizer_path" json:"tokenizer_path"`
	MaxLength     int       `yaml:"max_length" json:"max_length"`
	Endpoint      string    `yaml:"endpoint" json:"endpoint"`
}

func (s ModelSpec) Validate() error {
	switch s.Type {
	case OnnxClassifier:
		if s.ModelPath == "" {
			return fmt.Errorf("onnx model requires a model_path")
		}
	case RemoteScorer:
		if s.Endpoint == "" {
			return fmt.Errorf("remote model requires an endpoint")
		}
	default:
		return fmt.Errorf("unknown model type %q", s.Type)
	}
	return nil
}

type ModelLoader func(spec ModelSpec) (Model, error)

func NewModelLoaders() map[ModelType]ModelLoader {
	return map[ModelType]ModelLoader{
		OnnxClassifier: LoadOnnxModel,
		RemoteScorer:   LoadRemoteModel,
	}
}

// LoadModels resolves every named spec through the loader registry.
func LoadModels(specs map[string]ModelSpec) (map[string]Model, error) {
	loaders := NewModelLoaders()

	models := make(map[string]Model, len(specs))
	for name, spec := range specs {
		loader, ok := loaders[spec.Type]
		if !ok {
			releaseAll(models)
			return nil, fmt.Errorf("model %s: unknown model type %q", name, spec.Type)
		}
		model, err := loader(spec)
		if err != nil {
			releaseAll(models)
			return nil, fmt.Errorf("loading model %s: %w", name, err)
		}
		models[name] = model
	}
	return models, nil
}

func releaseAll(models map[string]Model) {
	for _, m := range models {
		m.Release()
	}
}

// InferenceError is fatal for the item being processed: a missing prediction
// cannot be silently dropped from the result.
type InferenceError struct {
	Model  string
	Reason string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("model %s: %s", e.Model, e.Reason)
}
