package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func rebuildCommand() *cli.Command {
	var cfg config

	flags := []cli.Flag{}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:  "rebuild",
		Usage: "Re-derive the index from the stored images",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)

			tx, store, closer, err := cfg.openArchive(ctx)
			if err != nil {
				return err
			}
			defer closer()

			report, err := store.Rebuild(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to rebuild index")
			}

			w := c.Root().Writer
			for _, name := range tx.Names() {
				if report.Added[name] == 0 && report.Removed[name] == 0 {
					continue
				}
				fmt.Fprintf(w, "%s\t+%d\t-%d\n", name, report.Added[name], report.Removed[name])
			}
			for _, key := range report.Skipped {
				fmt.Fprintf(w, "skipped\t%s\n", key)
			}
			fmt.Fprintf(w, "total: %d\n", report.Total)
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	var cfg config

	flags := []cli.Flag{}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:  "verify",
		Usage: "Compare the index with the stored images",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)

			_, store, closer, err := cfg.openArchive(ctx)
			if err != nil {
				return err
			}
			defer closer()

			report, err := store.Verify(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to verify index")
			}

			w := c.Root().Writer
			for _, key := range report.Orphans {
				fmt.Fprintf(w, "orphan\t%s\n", key)
			}
			for _, key := range report.Dangling {
				fmt.Fprintf(w, "dangling\t%s\n", key)
			}
			for _, key := range report.Foreign {
				fmt.Fprintf(w, "foreign\t%s\n", key)
			}

			if !report.Consistent() {
				return goerr.New("index is inconsistent, run rebuild",
					goerr.V("orphans", len(report.Orphans)),
					goerr.V("dangling", len(report.Dangling)))
			}
			fmt.Fprintln(w, "index is consistent")
			return nil
		},
	}
}
