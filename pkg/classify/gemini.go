package classify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Gemini classifies with a multimodal Gemini model and a structured JSON answer
type Gemini struct {
	client adapter.Gemini
}

var _ Backend = (*Gemini)(nil)

func NewGemini(client adapter.Gemini) *Gemini {
	return &Gemini{client: client}
}

func (g *Gemini) ClassifyImage(ctx context.Context, data []byte, mimeType string, categories []model.Category) (*Label, error) {
	prompt, err := buildPrompt(imagePromptTmpl, categories, "", false)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	return g.generate(ctx, contents, categories)
}

func (g *Gemini) ClassifyText(ctx context.Context, text string, categories []model.Category) (*Label, error) {
	prompt, err := buildPrompt(textPromptTmpl, categories, text, false)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	return g.generate(ctx, contents, categories)
}

func (g *Gemini) generate(ctx context.Context, contents []*genai.Content, categories []model.Category) (*Label, error) {
	schema, err := toGenaiSchema(labelSchema(categories))
	if err != nil {
		return nil, err
	}

	temperature := float32(0)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
		Temperature:      &temperature,
	}

	resp, err := g.client.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to classify with gemini")
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, goerr.New("invalid response structure from gemini")
	}

	var raw strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		raw.WriteString(part.Text)
	}

	var answer struct {
		Label      string   `json:"label"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw.String()), &answer); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal gemini answer", goerr.V("json", raw.String()))
	}

	return &Label{Token: answer.Label, Score: answer.Confidence}, nil
}
