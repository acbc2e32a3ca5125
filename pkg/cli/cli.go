package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "emoshelf",
		Usage: "Emotion image archive for chat bots",
		Commands: []*cli.Command{
			addCommand(),
			listCommand(),
			sendCommand(),
			statsCommand(),
			rebuildCommand(),
			verifyCommand(),
			reactCommand(),
			shellCommand(),
			serveCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
