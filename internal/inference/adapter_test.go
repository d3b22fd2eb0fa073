package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	label    string
	score    float64
	err      error
	delay    time.Duration
	released bool
}

func (m *fakeModel) Predict(ctx context.Context, text string) (Prediction, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return Prediction{}, ctx.Err()
		}
	}
	if m.err != nil {
		return Prediction{}, m.err
	}
	return Prediction{Label: m.label, Score: m.score}, nil
}

func (m *fakeModel) Release() {
	m.released = true
}

func TestAdapterMergesPredictionsByModelName(t *testing.T) {
	adapter, err := NewAdapter(map[string]Model{
		"phenotype": &fakeModel{label: "POSITIVE", score: 0.92},
		"smoking":   &fakeModel{label: "NEVER", score: 0.71},
	}, 0)
	require.NoError(t, err)

	predictions, err := adapter.Infer(context.Background(), "patient presents with cough")
	require.NoError(t, err)

	assert.Equal(t, map[string]Prediction{
		"phenotype": {Label: "POSITIVE", Score: 0.92},
		"smoking":   {Label: "NEVER", Score: 0.71},
	}, predictions)
}

func TestAdapterEmptyTextSkipsModels(t *testing.T) {
	adapter, err := NewAdapter(map[string]Model{
		"phenotype": &fakeModel{err: fmt.Errorf("should not be called")},
	}, 0)
	require.NoError(t, err)

	predictions, err := adapter.Infer(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, predictions)
}

func TestAdapterModelErrorIsInferenceError(t *testing.T) {
	adapter, err := NewAdapter(map[string]Model{
		"phenotype": &fakeModel{label: "POSITIVE", score: 0.9},
		"smoking":   &fakeModel{err: fmt.Errorf("model overload")},
	}, 0)
	require.NoError(t, err)

	_, err = adapter.Infer(context.Background(), "some text")
	require.Error(t, err)

	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, "smoking", infErr.Model)
	assert.Contains(t, infErr.Reason, "model overload")
}

func TestAdapterEnforcesPerModelTimeout(t *testing.T) {
	adapter, err := NewAdapter(map[string]Model{
		"slow": &fakeModel{label: "POSITIVE", score: 0.9, delay: time.Second},
	}, 10*time.Millisecond)
	require.NoError(t, err)

	_, err = adapter.Infer(context.Background(), "some text")
	require.Error(t, err)

	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, "slow", infErr.Model)
}

func TestAdapterRequiresAtLeastOneModel(t *testing.T) {
	_, err := NewAdapter(nil, 0)
	assert.Error(t, err)
}

func TestAdapterReleaseReleasesAllModels(t *testing.T) {
	m1 := &fakeModel{label: "A"}
	m2 := &fakeModel{label: "B"}

	adapter, err := NewAdapter(map[string]Model{"a": m1, "b": m2}, 0)
	require.NoError(t, err)

	adapter.Release()
	assert.True(t, m1.released)
	assert.True(t, m2.released)
}

func TestRemoteModelPredict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteScoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "patient denies chest pain", req.Text)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(remoteScoreResponse{Label: "NEGATIVE", Score: 0.88}) // nolint:errcheck
	}))
	defer server.Close()

	model, err := LoadRemoteModel(ModelSpec{Type: RemoteScorer, Endpoint: server.URL})
	require.NoError(t, err)
	defer model.Release()

	pred, err := model.Predict(context.Background(), "patient denies chest pain")
	require.NoError(t, err)
	assert.Equal(t, Prediction{Label: "NEGATIVE", Score: 0.88}, pred)
}

func TestRemoteModelErrors(t *testing.T) {
	t.Run("ServerError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		model, err := LoadRemoteModel(ModelSpec{Type: RemoteScorer, Endpoint: server.URL})
		require.NoError(t, err)

		_, err = model.Predict(context.Background(), "text")
		assert.ErrorContains(t, err, "status 500")
	})

	t.Run("MissingLabel", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"score": 0.5}`)
		}))
		defer server.Close()

		model, err := LoadRemoteModel(ModelSpec{Type: RemoteScorer, Endpoint: server.URL})
		require.NoError(t, err)

		_, err = model.Predict(context.Background(), "text")
		assert.ErrorContains(t, err, "no label")
	})
}

func TestModelSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    ModelSpec
		wantErr string
	}{
		{"ValidOnnx", ModelSpec{Type: OnnxClassifier, ModelPath: "model.onnx"}, ""},
		{"ValidRemote", ModelSpec{Type: RemoteScorer, Endpoint: "http://scorer:8000"}, ""},
		{"OnnxMissingPath", ModelSpec{Type: OnnxClassifier}, "model_path"},
		{"RemoteMissingEndpoint", ModelSpec{Type: RemoteScorer}, "endpoint"},
		{"UnknownType", ModelSpec{Type: "tensorflow"}, "unknown model type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
