package inference

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// RemoteModel scores text through an external HTTP inference service. The
// request context carries the adapter's per-call timeout, so no client-level
// timeout is set here.
type RemoteModel struct {
	client   *resty.Client
	endpoint string
}

type remoteScoreRequest struct {
	Text string `json:"text"`
}

type remoteScoreResponse struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func LoadRemoteModel(spec ModelSpec) (Model, error) {
	if spec.Endpoint == "" {
		return nil, fmt.Errorf("remote model requires an endpoint")
	}

	client := resty.New().
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")

	return &RemoteModel{client: client, endpoint: spec.Endpoint}, nil
}

func (m *RemoteModel) Predict(ctx context.Context, text string) (Prediction, error) {
	var out remoteScoreResponse

	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(remoteScoreRequest{Text: text}).
		SetResult(&out).
		Post(m.endpoint)
	if err != nil {
		return Prediction{}, fmt.Errorf("scoring request failed: %w", err)
	}
	if resp.IsError() {
		return Prediction{}, fmt.Errorf("scoring service returned status %d", resp.StatusCode())
	}
	if out.Label == "" {
		return Prediction{}, fmt.Errorf("scoring service returned no label")
	}

	return Prediction{Label: out.Label, Score: out.Score}, nil
}

func (m *RemoteModel) Release() {}
