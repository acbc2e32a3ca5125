package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/m-mizutani/emoshelf/pkg/usecase/command"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func sendCommand() *cli.Command {
	var (
		cfg    config
		output string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Write the picked image to this file",
			Destination: &output,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:      "send",
		Usage:     "Pick a random stored image of an emotion",
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
			reply := uc.Execute(ctx, &command.Command{Name: command.NameSend, Args: c.Args().Slice()}, nil)
			if reply.Media == nil {
				fmt.Fprintln(c.Root().Writer, reply.Text)
				return nil
			}

			fmt.Fprintf(c.Root().Writer, "%s %s\n", reply.Text, store.Locate(reply.Media))
			if output == "" {
				return nil
			}

			data, err := store.ReadAll(ctx, reply.Media)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return goerr.Wrap(err, "failed to write image", goerr.V("path", output))
			}
			return nil
		},
	}
}
