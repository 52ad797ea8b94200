package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/service/tui"
	"github.com/m-mizutani/fennec/pkg/similarity"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const shellHelp = `Commands:
  research <query>   run a research session
  recall <text>      find similar memories
  stats              show statistics
  sessions           list recent sessions
  session <id>       show one session
  help               show this help
  exit               quit`

func shellCommand() *cli.Command {
	var (
		cfg  config
		opts researchOptions
	)

	flags := researchFlags(&opts)
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, searchFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "shell",
		Usage: "Interactive research shell",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			app, cleanup, err := newResearchApp(ctx, &cfg, &opts)
			if err != nil {
				return err
			}
			defer cleanup()
			log, memory := app.log, app.memory

			historyFile := ""
			if home, err := os.UserHomeDir(); err == nil {
				historyFile = filepath.Join(home, ".fennec_history")
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "fennec> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start readline")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintln(w, tui.Title("fennec research shell"))
			fmt.Fprintln(w, tui.Dim("type 'help' for commands"))

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				command, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
				arg = strings.TrimSpace(arg)

				switch command {
				case "":
					continue

				case "exit", "quit":
					return nil

				case "help":
					fmt.Fprintln(w, shellHelp)

				case "research":
					if arg == "" {
						fmt.Fprintln(w, "usage: research <query>")
						continue
					}
					result, err := app.run(ctx, arg, !opts.quiet)
					if err != nil {
						fmt.Fprintf(w, "research failed: %v\n", err)
						continue
					}
					fmt.Fprintf(w, "%s %s\n", tui.StatusTag("completed"), result.Report.Key)

				case "recall":
					hits, err := memory.Search(ctx, arg, 5, similarity.RequireResults())
					if err != nil {
						fmt.Fprintf(w, "recall failed: %v\n", err)
						continue
					}
					for _, h := range hits {
						fmt.Fprintf(w, "%.3f\t%s\n", h.Score, h.Entry.Text)
					}

				case "stats":
					printStatistics(w, log.Statistics(), memory.Stats())

				case "sessions":
					sessions := log.Sessions()
					for i := len(sessions) - 1; i >= 0 && i >= len(sessions)-10; i-- {
						s := sessions[i]
						fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, tui.StatusTag(string(s.Status)), s.Query)
					}

				case "session":
					session, err := log.GetSession(model.SessionID(arg))
					if err != nil {
						fmt.Fprintf(w, "%v\n", err)
						continue
					}
					printSession(w, session)

				default:
					fmt.Fprintf(w, "unknown command %q, type 'help'\n", command)
				}
			}
		},
	}
}
