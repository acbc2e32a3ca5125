package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/emoshelf/pkg/service/mcp"
	"github.com/m-mizutani/emoshelf/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var (
		cfg        config
		addr       string
		allowLocal bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Serve streamable HTTP on this address instead of stdio",
			Sources:     cli.EnvVars("EMOSHELF_MCP_ADDR"),
			Destination: &addr,
		},
		&cli.BoolFlag{
			Name:        "allow-local",
			Usage:       "Let HTTP clients add media from local paths and file:// locators",
			Sources:     cli.EnvVars("EMOSHELF_MCP_ALLOW_LOCAL"),
			Destination: &allowLocal,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, backendFlags(&cfg)...)
	flags = append(flags, ingestFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Expose the archive as MCP tools",
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

			server := mcp.NewServer(tx, store, uc, mcp.WithLocalLocators(allowLocal))
			if addr == "" {
				return server.RunStdio(ctx)
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logging.From(ctx).Info("serving mcp over http", "addr", addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return goerr.Wrap(err, "mcp http server failed", goerr.V("addr", addr))
				}
				return nil
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shut down mcp http server")
				}
				return nil
			}
		},
	}
}
