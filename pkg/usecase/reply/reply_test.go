package reply_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/usecase/reply"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

type mockGemini struct {
	generateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.generateFunc(ctx, contents, config)
}

func TestReply(t *testing.T) {
	gemini := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gt.S(t, config.SystemInstruction.Parts[0].Text).Contains("- surprised")
			gt.Equal(t, contents[0].Parts[0].Text, "I passed the exam!")
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{
					{Content: &genai.Content{Parts: []*genai.Part{
						{Text: "thinking...", Thought: true},
						{Text: "Wow, I'm so happy for you!"},
					}}},
				},
			}, nil
		},
	}

	g, err := reply.New(gemini, model.DefaultTaxonomy())
	gt.NoError(t, err)

	resp, err := g.Reply(context.Background(), "I passed the exam!")
	gt.NoError(t, err)
	gt.Equal(t, resp.PlainText(), "Wow, I'm so happy for you!")
}

func TestReplyEmpty(t *testing.T) {
	gemini := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return &genai.GenerateContentResponse{}, nil
		},
	}

	g, err := reply.New(gemini, model.DefaultTaxonomy())
	gt.NoError(t, err)

	_, err = g.Reply(context.Background(), "hi")
	gt.True(t, errors.Is(err, reply.ErrEmptyReply))
}
