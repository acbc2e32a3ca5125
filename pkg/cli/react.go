package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/m-mizutani/emoshelf/pkg/archive"
	"github.com/m-mizutani/emoshelf/pkg/classify"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/usecase/dispatch"
	"github.com/m-mizutani/emoshelf/pkg/usecase/reply"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func reactCommand() *cli.Command {
	var (
		cfg      config
		generate bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "reply",
			Usage:       "Treat the text as a user message and answer it with Gemini first",
			Destination: &generate,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, backendFlags(&cfg)...)
	flags = append(flags, dispatchFlags(&cfg)...)

	return &cli.Command{
		Name:      "react",
		Usage:     "Pick an image that matches the emotion of a response",
		ArgsUsage: "<text>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)

			text := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(text) == "" {
				return goerr.New("response text is required")
			}

			tx, store, closer, err := cfg.openArchive(ctx)
			if err != nil {
				return err
			}
			defer closer()

			dispatcher, err := cfg.newReactor(ctx, tx, store)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			resp := model.NewTextResponse(text)
			if generate {
				replier, err := cfg.newReplier(ctx, tx)
				if err != nil {
					return err
				}
				resp, err = replier.Reply(ctx, text)
				if err != nil {
					return goerr.Wrap(err, "failed to generate reply")
				}
				fmt.Fprintln(w, resp.PlainText())
			}

			if ref := dispatcher.React(ctx, resp, printEmitter(w, store)); ref == nil {
				fmt.Fprintln(w, "no image")
			}
			return nil
		},
	}
}

// newReactor creates the dispatcher and, in classify mode, the classifier it needs
func (cfg *config) newReactor(ctx context.Context, tx *model.Taxonomy, library dispatch.Library) (*dispatch.Dispatcher, error) {
	var classifier classify.Classifier
	if cfg.reactMode == string(dispatch.ModeClassify) {
		port, err := cfg.newClassifier(ctx, tx)
		if err != nil {
			return nil, err
		}
		classifier = port
	}
	return cfg.newDispatcher(tx, library, classifier)
}

// newReplier creates the Gemini reply generator
func (cfg *config) newReplier(ctx context.Context, tx *model.Taxonomy) (*reply.Generator, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}
	return reply.New(gemini, tx)
}

// printEmitter writes where an emitted image is stored instead of sending it
func printEmitter(w io.Writer, store *archive.Archive) dispatch.Emitter {
	return dispatch.EmitterFunc(func(ctx context.Context, ref *model.MediaReference) error {
		_, err := fmt.Fprintf(w, "image (%s): %s\n", ref.Category, store.Locate(ref))
		return err
	})
}
