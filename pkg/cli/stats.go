package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/emoshelf/pkg/usecase/command"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func statsCommand() *cli.Command {
	var (
		cfg    config
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print counts as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:  "stats",
		Usage: "Show the number of stored images per emotion",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)

			tx, store, closer, err := cfg.openArchive(ctx)
			if err != nil {
				return err
			}
			defer closer()

			if asJSON {
				enc := json.NewEncoder(c.Root().Writer)
				enc.SetIndent("", "  ")
				if err := enc.Encode(store.Stats()); err != nil {
					return goerr.Wrap(err, "failed to encode stats")
				}
				return nil
			}

			uc := command.New(tx, store, nil)
			reply := uc.Execute(ctx, &command.Command{Name: command.NameStats}, nil)
			fmt.Fprintln(c.Root().Writer, reply.Text)
			return nil
		},
	}
}
