package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StageName      = "ml_inference"
	DefaultTimeout = 30 * time.Second
)

// Adapter is the boundary between the pipeline and the named models. It fans
// the joined text out to every model concurrently and merges the predictions
// keyed by model name. Predictions stay namespaced per model: the adapter
// never arbitrates between models that disagree.
type Adapter struct {
	models  map[string]Model
	timeout time.Duration
}

func NewAdapter(models map[string]Model, timeout time.Duration) (*Adapter, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("inference adapter requires at least one model")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{models: models, timeout: timeout}, nil
}

func (a *Adapter) Name() string {
	return StageName
}

// ModelNames returns the configured model names, unordered.
func (a *Adapter) ModelNames() []string {
	names := make([]string, 0, len(a.models))
	for name := range a.models {
		names = append(names, name)
	}
	return names
}

// Infer scores the text with every model. The input is expected to be already
// joined and normalized; the adapter does not re-normalize. Empty text yields
// an empty prediction set rather than an error, so fully filtered notes still
// produce a Result. Any model error aborts the call with an *InferenceError.
func (a *Adapter) Infer(ctx context.Context, text string) (map[string]Prediction, error) {
	predictions := make(map[string]Prediction, len(a.models))
	if text == "" {
		return predictions, nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for name, model := range a.models {
		name, model := name, model
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			pred, err := model.Predict(callCtx, text)
			if err != nil {
				return &InferenceError{Model: name, Reason: err.Error()}
			}

			mu.Lock()
			predictions[name] = pred
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return predictions, nil
}

func (a *Adapter) Release() {
	for _, model := range a.models {
		model.Release()
	}
}
