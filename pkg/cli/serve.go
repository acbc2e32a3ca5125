package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/emoshelf/pkg/adapter"
	"github.com/m-mizutani/emoshelf/pkg/channel/telegram"
	"github.com/m-mizutani/emoshelf/pkg/usecase/command"
	"github.com/m-mizutani/emoshelf/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg         config
		token       string
		autoCollect bool
		generate    bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "telegram-token",
			Usage:       "Telegram bot token",
			Sources:     cli.EnvVars("EMOSHELF_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"),
			Destination: &token,
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "auto-collect",
			Usage:       "Classify and store every image posted in group chats",
			Sources:     cli.EnvVars("EMOSHELF_AUTO_COLLECT"),
			Destination: &autoCollect,
		},
		&cli.BoolFlag{
			Name:        "reply",
			Usage:       "Answer messages addressed to the bot with Gemini and react with images",
			Sources:     cli.EnvVars("EMOSHELF_REPLY"),
			Destination: &generate,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, backendFlags(&cfg)...)
	flags = append(flags, ingestFlags(&cfg)...)
	flags = append(flags, dispatchFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the Telegram bot",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

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

			bot, err := telegram.NewBot(token)
			if err != nil {
				return goerr.Wrap(err, "failed to connect telegram")
			}

			opts := []telegram.Option{
				telegram.WithAutoCollect(autoCollect),
				telegram.WithFetcher(adapter.NewFetcher(adapter.WithMaxBytes(cfg.maxBytes))),
			}
			if generate {
				replier, err := cfg.newReplier(ctx, tx)
				if err != nil {
					return err
				}
				dispatcher, err := cfg.newDispatcher(tx, store, classifier)
				if err != nil {
					return err
				}
				opts = append(opts, telegram.WithReplier(replier, dispatcher))
			}

			commands := command.New(tx, store, uc, command.WithChatPrefix())
			ch := telegram.New(bot, token, commands, uc, store, opts...)

			logging.From(ctx).Info("serving telegram bot",
				"auto_collect", autoCollect,
				"reply", generate,
				"categories", tx.Names(),
			)
			return ch.Serve(ctx)
		},
	}
}
