package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/m-mizutani/fennec/pkg/service/tui"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func browseCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "browse",
		Usage: "Browse research sessions in a terminal UI",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			log, err := cfg.newLog(ctx, storage)
			if err != nil {
				return err
			}

			sessions := log.Sessions()
			if len(sessions) == 0 {
				fmt.Fprintln(c.Root().Writer, "No sessions found.")
				return nil
			}

			p := tea.NewProgram(tui.NewBrowser(sessions), tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil {
				return goerr.Wrap(err, "session browser failed")
			}
			return nil
		},
	}
}
