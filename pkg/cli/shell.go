package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/usecase/command"
	"github.com/m-mizutani/emoshelf/pkg/usecase/dispatch"
	"github.com/m-mizutani/emoshelf/pkg/usecase/reply"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func shellCommand() *cli.Command {
	var (
		cfg      config
		generate bool
		history  string
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "reply",
			Usage:       "Answer free text with Gemini before reacting",
			Destination: &generate,
		},
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "Readline history file",
			Sources:     cli.EnvVars("EMOSHELF_HISTORY_FILE"),
			Destination: &history,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, backendFlags(&cfg)...)
	flags = append(flags, ingestFlags(&cfg)...)
	flags = append(flags, dispatchFlags(&cfg)...)

	return &cli.Command{
		Name:  "shell",
		Usage: "Interactive session with the archive commands",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)

			tx, store, closer, err := cfg.openArchive(ctx)
			if err != nil {
				return err
			}
			defer closer()

			classifier, err := cfg.newClassifier(ctx, tx)
			if err != nil {
				return err
			}

			uc, err := cfg.newIngest(ctx, tx, store, classifier)
			if err != nil {
				return err
			}

			dispatcher, err := cfg.newDispatcher(tx, store, classifier)
			if err != nil {
				return err
			}

			sh := &shell{
				w:          c.Root().Writer,
				commands:   command.New(tx, store, uc),
				dispatcher: dispatcher,
				emitter:    printEmitter(c.Root().Writer, store),
				locate:     store.Locate,
				session:    &command.Session{Source: "shell"},
			}
			if generate {
				sh.replier, err = cfg.newReplier(ctx, tx)
				if err != nil {
					return err
				}
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "emo> ",
				HistoryFile:     history,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start readline")
			}
			defer rl.Close()

			fmt.Fprintln(sh.w, sh.commands.Help())
			fmt.Fprintln(sh.w, "enter an image path or URL to select it, 'exit' to quit")

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						return nil
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read line")
				}

				if !sh.handle(ctx, strings.TrimSpace(line)) {
					return nil
				}
			}
		},
	}
}

type shell struct {
	w          io.Writer
	commands   *command.UseCase
	dispatcher *dispatch.Dispatcher
	emitter    dispatch.Emitter
	replier    *reply.Generator
	locate     func(ref *model.MediaReference) string
	session    *command.Session
}

// handle runs one input line. It returns false when the session should end.
func (s *shell) handle(ctx context.Context, line string) bool {
	switch {
	case line == "":
		return true
	case line == "exit" || line == "quit":
		return false
	}

	if cmd := command.Parse(line); cmd != nil {
		r := s.commands.Execute(ctx, cmd, s.session)
		if r.Media != nil {
			fmt.Fprintf(s.w, "%s %s\n", r.Text, s.locate(r.Media))
		} else {
			fmt.Fprintln(s.w, r.Text)
		}
		return true
	}

	if isLocator(line) {
		s.session.LastImage = &command.Media{Locator: line}
		fmt.Fprintf(s.w, "image selected: %s\n", line)
		return true
	}

	resp := model.NewTextResponse(line)
	if s.replier != nil {
		generated, err := s.replier.Reply(ctx, line)
		if err != nil {
			fmt.Fprintf(s.w, "failed to reply: %v\n", err)
			return true
		}
		resp = generated
		fmt.Fprintln(s.w, resp.PlainText())
	}
	s.dispatcher.React(ctx, resp, s.emitter)
	return true
}

func isLocator(line string) bool {
	if strings.ContainsAny(line, " \t") {
		return false
	}
	if adapter.IsRemote(line) {
		return true
	}
	info, err := os.Stat(line)
	return err == nil && !info.IsDir()
}
