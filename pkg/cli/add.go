package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const addConcurrency = 4

func addCommand() *cli.Command {
	var (
		cfg      config
		category string
		source   string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "category",
			Aliases:     []string{"c"},
			Usage:       "Emotion category. Detected from the image when omitted",
			Destination: &category,
		},
		&cli.StringFlag{
			Name:        "source",
			Usage:       "Source recorded with the admitted images",
			Value:       "cli",
			Destination: &source,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, backendFlags(&cfg)...)
	flags = append(flags, ingestFlags(&cfg)...)

	return &cli.Command{
		Name:      "add",
		Usage:     "Classify images and add them to the archive",
		ArgsUsage: "<path-or-url>...",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setup(ctx)

			locators := c.Args().Slice()
			if len(locators) == 0 {
				return goerr.New("at least one image path or URL is required")
			}

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

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			sp.Suffix = fmt.Sprintf(" adding %d image(s)...", len(locators))
			sp.Start()

			results := make([]*model.IngestionResult, len(locators))

			eg, ctx := errgroup.WithContext(ctx)
			eg.SetLimit(addConcurrency)
			for i, locator := range locators {
				eg.Go(func() error {
					results[i] = uc.Ingest(ctx, &model.IngestionRequest{
						ID:      model.NewIngestionID(),
						Source:  source,
						Locator: locator,
						Label:   category,
					})
					return nil
				})
			}
			_ = eg.Wait()
			sp.Stop()

			rejected := 0
			for i, result := range results {
				if !result.Admitted() {
					rejected++
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%s\n", locators[i], result.Message())
			}

			if rejected > 0 {
				return goerr.New("some images were not added",
					goerr.V("rejected", rejected), goerr.V("total", len(locators)))
			}
			return nil
		},
	}
}
