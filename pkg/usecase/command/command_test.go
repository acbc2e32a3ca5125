package command_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/archive"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/repository"
	"github.com/m-mizutani/emoshelf/pkg/usecase/command"
	"github.com/m-mizutani/gt"
)

type mockIngester struct {
	requests []*model.IngestionRequest
	result   *model.IngestionResult
}

func (m *mockIngester) Ingest(ctx context.Context, req *model.IngestionRequest) *model.IngestionResult {
	m.requests = append(m.requests, req)
	return m.result
}

func newArchive(t *testing.T) *archive.Archive {
	t.Helper()
	ctx := context.Background()
	store, err := adapter.NewLocalStorage(t.TempDir())
	gt.NoError(t, err)
	a, err := archive.New(ctx, model.DefaultTaxonomy(), store, repository.NewMemory())
	gt.NoError(t, err)
	for i := range 2 {
		_, _, err := a.Admit(ctx, "happy", []byte{byte(i), 1, 2, 3}, model.FormatPNG, "test")
		gt.NoError(t, err)
	}
	return a
}

func TestParse(t *testing.T) {
	testCases := map[string]struct {
		input string
		name  command.Name
		args  []string
		isNil bool
	}{
		"chat command":      {input: "/emoadd happy", name: command.NameAdd, args: []string{"happy"}},
		"bot suffix":        {input: "/emolist@EmoBot sad", name: command.NameList, args: []string{"sad"}},
		"without slash":     {input: "emosend angry", name: command.NameSend, args: []string{"angry"}},
		"bare shell verb":   {input: "stats", name: command.NameStats, args: []string{}},
		"upper case":        {input: "/EMOHELP", name: command.NameHelp, args: []string{}},
		"not a command":     {input: "hello there", isNil: true},
		"empty":             {input: "   ", isNil: true},
		"unknown emo verbs": {input: "/emodelete happy", isNil: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			cmd := command.Parse(tc.input)
			if tc.isNil {
				gt.True(t, cmd == nil)
				return
			}
			gt.V(t, cmd).NotNil()
			gt.Equal(t, cmd.Name, tc.name)
			gt.Equal(t, cmd.Args, tc.args)
		})
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	a := newArchive(t)
	ingester := &mockIngester{
		result: &model.IngestionResult{Status: model.IngestionRejected, Reason: model.RejectLowConfidence, Category: "sad", Confidence: 0.3},
	}
	uc := command.New(model.DefaultTaxonomy(), a, ingester, command.WithChatPrefix())

	t.Run("list", func(t *testing.T) {
		reply := uc.Execute(ctx, command.Parse("/emolist happy"), nil)
		gt.S(t, reply.Text).Contains("happy images (2)")
		gt.S(t, reply.Text).Contains("1. ")
		gt.True(t, reply.Media == nil)
	})

	t.Run("list by display name", func(t *testing.T) {
		reply := uc.Execute(ctx, command.Parse("/emolist 高兴"), nil)
		gt.S(t, reply.Text).Contains("happy images (2)")
	})

	t.Run("list empty", func(t *testing.T) {
		reply := uc.Execute(ctx, command.Parse("/emolist sad"), nil)
		gt.Equal(t, reply.Text, "no sad images")
	})

	t.Run("list invalid", func(t *testing.T) {
		reply := uc.Execute(ctx, command.Parse("/emolist bored"), nil)
		gt.Equal(t, reply.Text, "invalid emotion: bored")
	})

	t.Run("list without argument", func(t *testing.T) {
		reply := uc.Execute(ctx, command.Parse("/emolist"), nil)
		gt.Equal(t, reply.Text, "usage: /emolist <emotion>")
	})

	t.Run("send", func(t *testing.T) {
		reply := uc.Execute(ctx, command.Parse("/emosend happy"), nil)
		gt.V(t, reply.Media).NotNil()
		gt.Equal(t, reply.Media.Category, model.Category("happy"))
	})

	t.Run("send empty", func(t *testing.T) {
		reply := uc.Execute(ctx, command.Parse("/emosend love"), nil)
		gt.True(t, reply.Media == nil)
		gt.Equal(t, reply.Text, "no love images")
	})

	t.Run("stats", func(t *testing.T) {
		reply := uc.Execute(ctx, command.Parse("/emostats"), nil)
		gt.S(t, reply.Text).Contains("happy: 2")
		gt.S(t, reply.Text).Contains("total: 2")
	})

	t.Run("help", func(t *testing.T) {
		reply := uc.Execute(ctx, command.Parse("/emohelp"), nil)
		gt.S(t, reply.Text).Contains("/emoadd [emotion]")
		gt.S(t, reply.Text).Contains("happy(高兴)")
	})

	t.Run("add without image", func(t *testing.T) {
		reply := uc.Execute(ctx, command.Parse("/emoadd"), &command.Session{Source: "alice"})
		gt.S(t, reply.Text).Contains("no image")
		gt.A(t, ingester.requests).Length(0)
	})

	t.Run("add with last image", func(t *testing.T) {
		session := &command.Session{
			Source:    "alice",
			LastImage: &command.Media{Locator: "https://example.com/a.png"},
		}
		reply := uc.Execute(ctx, command.Parse("/emoadd sad"), session)
		gt.S(t, reply.Text).Contains("not confident enough")
		gt.A(t, ingester.requests).Length(1)
		gt.Equal(t, ingester.requests[0].Label, "sad")
		gt.Equal(t, ingester.requests[0].Locator, "https://example.com/a.png")
		gt.Equal(t, ingester.requests[0].Source, "alice")
	})
}
