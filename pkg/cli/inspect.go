package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/service/tui"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const timeFormat = "2006-01-02 15:04:05"

func statsCommand() *cli.Command {
	var (
		cfg    config
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print statistics as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "stats",
		Usage: "Show episodic log and memory statistics",
		Flags: flags,
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
			memory, cleanup, err := cfg.newMemory(ctx, storage)
			if err != nil {
				return err
			}
			defer cleanup()

			stats := log.Statistics()
			memStats := memory.Stats()

			w := c.Root().Writer
			if asJSON {
				return printJSON(w, map[string]any{
					"episodic_log": stats,
					"memory":       memStats,
				})
			}

			printStatistics(w, stats, memStats)
			return nil
		},
	}
}

func printStatistics(w io.Writer, stats *model.LogStatistics, memStats *model.MemoryStats) {
	fmt.Fprintln(w, tui.Title("Episodic log"))
	fmt.Fprintf(w, "  Sessions: %d\n", stats.SessionCount)
	for _, status := range []model.SessionStatus{model.SessionStatusActive, model.SessionStatusCompleted, model.SessionStatusFailed} {
		if n := stats.StatusCounts[status]; n > 0 {
			fmt.Fprintf(w, "    %s %d\n", tui.StatusTag(string(status)), n)
		}
	}
	fmt.Fprintf(w, "  Actions:  %d\n", stats.ActionCount)
	fmt.Fprintf(w, "  Agents:   %d\n", stats.AgentCount)

	agents := make([]string, 0, len(stats.PerAgentCounts))
	for agent := range stats.PerAgentCounts {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	for _, agent := range agents {
		fmt.Fprintf(w, "    %-16s %d\n", agent, stats.PerAgentCounts[agent])
	}
	if stats.EarliestSession != nil {
		fmt.Fprintln(w, tui.Dim(fmt.Sprintf("  %s - %s",
			stats.EarliestSession.Format(timeFormat), stats.LatestSession.Format(timeFormat))))
	}

	fmt.Fprintln(w, tui.Title("Similarity memory"))
	fmt.Fprintf(w, "  Entries:   %d\n", memStats.TotalEntries)
	fmt.Fprintf(w, "  Dimension: %d\n", memStats.Dimension)
	fmt.Fprintf(w, "  Size:      %d bytes\n", memStats.StorageBytes)
}

func sessionsCommand() *cli.Command {
	var (
		cfg    config
		status string
		limit  int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "status",
			Aliases:     []string{"s"},
			Usage:       "Only list sessions with this status (active, completed, failed)",
			Destination: &status,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of sessions to list, newest first (0 lists all)",
			Value:       20,
			Sources:     cli.EnvVars("FENNEC_LIST_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "sessions",
		Usage: "List research sessions",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if status != "" {
				if err := model.SessionStatus(status).Validate(); err != nil {
					return err
				}
			}

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			log, err := cfg.newLog(ctx, storage)
			if err != nil {
				return err
			}

			sessions := log.Sessions()
			w := c.Root().Writer
			shown := 0
			for i := len(sessions) - 1; i >= 0; i-- {
				s := sessions[i]
				if status != "" && string(s.Status) != status {
					continue
				}
				if limit > 0 && int64(shown) >= limit {
					break
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d actions\t%s\n",
					s.ID, tui.StatusTag(string(s.Status)), s.StartedAt.Format(timeFormat), len(s.Actions), s.Query)
				shown++
			}
			if shown == 0 {
				fmt.Fprintln(w, tui.Dim("no sessions"))
			}
			return nil
		},
	}
}

func sessionCommand() *cli.Command {
	var (
		cfg    config
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the session as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:      "session",
		Usage:     "Show one research session with its actions",
		ArgsUsage: "<session-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			id := model.SessionID(c.Args().First())
			if id == "" {
				return goerr.New("session id is required")
			}

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			log, err := cfg.newLog(ctx, storage)
			if err != nil {
				return err
			}

			session, err := log.GetSession(id)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if asJSON {
				return printJSON(w, session)
			}
			printSession(w, session)
			return nil
		},
	}
}

func printSession(w io.Writer, s *model.Session) {
	fmt.Fprintln(w, tui.Title(string(s.ID)))
	fmt.Fprintf(w, "  Query:   %s\n", s.Query)
	fmt.Fprintf(w, "  Status:  %s\n", tui.StatusTag(string(s.Status)))
	fmt.Fprintf(w, "  Started: %s\n", s.StartedAt.Format(timeFormat))
	if s.EndedAt != nil {
		fmt.Fprintf(w, "  Ended:   %s (%s)\n", s.EndedAt.Format(timeFormat), s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}

	for i, a := range s.Actions {
		payload, err := json.Marshal(a.Payload)
		if err != nil {
			payload = []byte("{}")
		}
		fmt.Fprintf(w, "%3d %s %-16s %s\n", i+1, tui.Dim(a.Timestamp.Format("15:04:05")), a.Agent, a.ActionType)
		fmt.Fprintln(w, tui.Dim("    "+string(payload)))
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal output")
	}
	fmt.Fprintf(w, "%s\n", string(data))
	return nil
}
