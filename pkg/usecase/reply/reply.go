// Package reply generates conversational replies whose text feeds the reactive dispatcher
package reply

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/system.md
var systemPromptRaw string

var systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptRaw))

var ErrEmptyReply = goerr.New("model returned no reply")

type Generator struct {
	gemini       adapter.Gemini
	systemPrompt string
}

// New creates a reply generator that is told to name emotions of the taxonomy
func New(gemini adapter.Gemini, taxonomy *model.Taxonomy) (*Generator, error) {
	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, map[string]any{
		"Categories": taxonomy.Names(),
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute system prompt template")
	}

	return &Generator{
		gemini:       gemini,
		systemPrompt: buf.String(),
	}, nil
}

// Reply answers message
func (g *Generator) Reply(ctx context.Context, message string) (*model.Response, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.systemPrompt, ""),
	}
	contents := []*genai.Content{
		genai.NewContentFromText(message, genai.RoleUser),
	}

	resp, err := g.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate reply")
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, goerr.Wrap(ErrEmptyReply, "no candidate")
	}

	out := &model.Response{}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought || part.Text == "" {
			continue
		}
		out.Parts = append(out.Parts, model.ResponsePart{Type: model.PartText, Text: part.Text})
	}
	if strings.TrimSpace(out.PlainText()) == "" {
		return nil, goerr.Wrap(ErrEmptyReply, "no text part")
	}
	return out, nil
}
