package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

const defaultMaxLength = 512

// OnnxModel is a sequence classifier exported to ONNX: tokenized input ids
// plus attention mask in, one logit per label out.
type OnnxModel struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
	labels    []string
	maxLength int
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label file %s is empty", path)
	}
	return labels, nil
}

func LoadOnnxModel(spec ModelSpec) (Model, error) {
	labels, err := loadLabels(filepath.Join(spec.ModelPath, "labels.json"))
	if err != nil {
		return nil, fmt.Errorf("loading labels: %w", err)
	}

	tokenizerPath := spec.TokenizerPath
	if tokenizerPath == "" {
		tokenizerPath = filepath.Join(spec.ModelPath, "tokenizer.json")
	}
	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("tokenizer load: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		filepath.Join(spec.ModelPath, "model.onnx"),
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		tk.Close()
		return nil, fmt.Errorf("failed to create onnx session: %w", err)
	}

	maxLength := spec.MaxLength
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}

	return &OnnxModel{
		session:   session,
		tokenizer: tk,
		labels:    labels,
		maxLength: maxLength,
	}, nil
}

func softmax(logits []float32) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	exps := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		exps[i] = math.Exp(float64(v - maxLogit))
		sum += exps[i]
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

func (m *OnnxModel) Predict(ctx context.Context, text string) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	enc := m.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())

	length := len(enc.IDs)
	if length > m.maxLength {
		length = m.maxLength
	}
	if length == 0 {
		return Prediction{}, fmt.Errorf("tokenizer produced no tokens")
	}

	ids := make([]int64, length)
	mask := make([]int64, length)
	for i := 0; i < length; i++ {
		ids[i] = int64(enc.IDs[i])
		mask[i] = int64(enc.AttentionMask[i])
	}

	B, L, N := int64(1), int64(length), int64(len(m.labels))
	idsT, err := ort.NewTensor(ort.NewShape(B, L), ids)
	if err != nil {
		return Prediction{}, err
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(ort.NewShape(B, L), mask)
	if err != nil {
		return Prediction{}, err
	}
	defer maskT.Destroy()
	outT, err := ort.NewEmptyTensor[float32](ort.NewShape(B, N))
	if err != nil {
		return Prediction{}, err
	}
	defer outT.Destroy()

	if err := m.session.Run([]ort.Value{idsT, maskT}, []ort.Value{outT}); err != nil {
		return Prediction{}, fmt.Errorf("session run error: %w", err)
	}

	probs := softmax(outT.GetData())
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}

	return Prediction{
		Label: m.labels[best],
		Score: math.Round(probs[best]*100) / 100,
	}, nil
}

func (m *OnnxModel) Release() {
	m.session.Destroy()
	m.tokenizer.Close()
}
