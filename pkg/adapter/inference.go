package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Prediction is one label and score returned by a dedicated classifier model
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Inference calls dedicated per-modality classification models served behind a
// HuggingFace-compatible inference API.
type Inference interface {
	ClassifyImage(ctx context.Context, model string, data []byte, mimeType string) ([]Prediction, error)
	ClassifyText(ctx context.Context, model string, text string) ([]Prediction, error)
}

type inferenceClient struct {
	endpoint string
	token    string
	client   *http.Client
}

type InferenceOption func(*inferenceClient)

func WithInferenceToken(token string) InferenceOption {
	return func(c *inferenceClient) {
		c.token = token
	}
}

func WithInferenceHTTPClient(client *http.Client) InferenceOption {
	return func(c *inferenceClient) {
		c.client = client
	}
}

// NewInference creates a client. endpoint is the base URL; model names are appended as
// <endpoint>/models/<model>.
func NewInference(endpoint string, opts ...InferenceOption) Inference {
	c := &inferenceClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *inferenceClient) ClassifyImage(ctx context.Context, model string, data []byte, mimeType string) ([]Prediction, error) {
	return c.post(ctx, model, mimeType, data)
}

func (c *inferenceClient) ClassifyText(ctx context.Context, model string, text string) ([]Prediction, error) {
	raw, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal inference request")
	}
	return c.post(ctx, model, "application/json", raw)
}

func (c *inferenceClient) post(ctx context.Context, model, contentType string, body []byte) ([]Prediction, error) {
	if model == "" {
		return nil, goerr.New("inference model is not configured")
	}

	url := c.endpoint + "/models/" + model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create inference request", goerr.V("url", url))
	}
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call inference API", goerr.V("url", url))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read inference response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(raw) > 1024 {
			raw = raw[:1024]
		}
		return nil, goerr.New("inference API returned error status",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(raw)),
			goerr.V("model", model))
	}

	preds, err := decodePredictions(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode inference response", goerr.V("model", model))
	}

	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Score > preds[j].Score
	})
	return preds, nil
}

// decodePredictions accepts both the flat image-classification shape and the nested
// text-classification shape.
func decodePredictions(raw []byte) ([]Prediction, error) {
	var flat []Prediction
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}

	var nested [][]Prediction
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, goerr.Wrap(err, "unexpected prediction format")
	}
	var preds []Prediction
	for _, group := range nested {
		preds = append(preds, group...)
	}
	return preds, nil
}
