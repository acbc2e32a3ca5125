package classify

import (
	"context"
	"strings"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/model"
)

// Ollama classifies with a local vision model. It only answers a label, so results
// carry no score.
type Ollama struct {
	client adapter.Ollama
}

var _ Backend = (*Ollama)(nil)

func NewOllama(client adapter.Ollama) *Ollama {
	return &Ollama{client: client}
}

func (o *Ollama) ClassifyImage(ctx context.Context, data []byte, _ string, categories []model.Category) (*Label, error) {
	prompt, err := buildPrompt(imagePromptTmpl, categories, "", true)
	if err != nil {
		return nil, err
	}

	answer, err := o.client.Generate(ctx, prompt, [][]byte{data})
	if err != nil {
		return nil, err
	}
	return &Label{Token: firstWord(answer)}, nil
}

func (o *Ollama) ClassifyText(ctx context.Context, text string, categories []model.Category) (*Label, error) {
	prompt, err := buildPrompt(textPromptTmpl, categories, text, true)
	if err != nil {
		return nil, err
	}

	answer, err := o.client.Generate(ctx, prompt, nil)
	if err != nil {
		return nil, err
	}
	return &Label{Token: firstWord(answer)}, nil
}

// firstWord takes the leading token of a free form answer such as "Happy." or "sad\n"
func firstWord(answer string) string {
	fields := strings.Fields(answer)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
