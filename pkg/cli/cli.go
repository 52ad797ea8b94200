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
		Name:  "fennec",
		Usage: "Research assistant with episodic log and similarity memory",
		Commands: []*cli.Command{
			researchCommand(),
			statsCommand(),
			sessionsCommand(),
			sessionCommand(),
			recallCommand(),
			rememberCommand(),
			forgetCommand(),
			exportCommand(),
			shellCommand(),
			serveCommand(),
			browseCommand(),
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
