package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/emoshelf/pkg/usecase/command"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func listCommand() *cli.Command {
	var cfg config

	flags := []cli.Flag{}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:      "list",
		Usage:     "List stored images of an emotion",
		ArgsUsage: "<emotion>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)

			if c.Args().Len() != 1 {
				return goerr.New("exactly one emotion is required")
			}

			tx, store, closer, err := cfg.openArchive(ctx)
			if err != nil {
				return err
			}
			defer closer()

			uc := command.New(tx, store, nil)
			reply := uc.Execute(ctx, &command.Command{Name: command.NameList, Args: c.Args().Slice()}, nil)
			fmt.Fprintln(c.Root().Writer, reply.Text)
			return nil
		},
	}
}
