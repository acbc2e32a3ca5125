package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Ollama is a client of the Ollama generate API
type Ollama interface {
	Generate(ctx context.Context, prompt string, images [][]byte) (string, error)
}

type ollamaClient struct {
	endpoint string
	model    string
	client   *http.Client
}

type OllamaOption func(*ollamaClient)

func WithOllamaHTTPClient(client *http.Client) OllamaOption {
	return func(o *ollamaClient) {
		o.client = client
	}
}

// NewOllama creates an Ollama client. endpoint is the server base URL such as http://localhost:11434
func NewOllama(endpoint, model string, opts ...OllamaOption) Ollama {
	o := &ollamaClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		model:    model,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (o *ollamaClient) Generate(ctx context.Context, prompt string, images [][]byte) (string, error) {
	body := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
	}
	for _, img := range images {
		body.Images = append(body.Images, base64.StdEncoding.EncodeToString(img))
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal ollama request")
	}

	url := o.endpoint + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", goerr.Wrap(err, "failed to create ollama request", goerr.V("url", url))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", goerr.Wrap(err, "failed to call ollama", goerr.V("url", url))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", goerr.New("ollama returned error status",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(msg)),
			goerr.V("model", o.model))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", goerr.Wrap(err, "failed to decode ollama response")
	}

	return strings.TrimSpace(out.Response), nil
}
