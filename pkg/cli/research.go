package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/fennec/pkg/episodic"
	"github.com/m-mizutani/fennec/pkg/repository"
	"github.com/m-mizutani/fennec/pkg/service/tui"
	"github.com/m-mizutani/fennec/pkg/similarity"
	"github.com/m-mizutani/fennec/pkg/usecase/research"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

type researchOptions struct {
	planFile  string
	policyDir string
	quiet     bool
	print     bool
}

func researchFlags(opts *researchOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "plan",
			Usage:       "YAML plan template replacing the built-in plan",
			Sources:     cli.EnvVars("FENNEC_PLAN"),
			Destination: &opts.planFile,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policies deciding which findings are remembered",
			Sources:     cli.EnvVars("FENNEC_POLICY_DIR"),
			Destination: &opts.policyDir,
		},
		&cli.BoolFlag{
			Name:        "quiet",
			Aliases:     []string{"q"},
			Usage:       "Do not show progress",
			Sources:     cli.EnvVars("FENNEC_QUIET"),
			Destination: &opts.quiet,
		},
		&cli.BoolFlag{
			Name:        "print",
			Usage:       "Print the whole report instead of a summary",
			Destination: &opts.print,
		},
	}
}

func researchCommand() *cli.Command {
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
		Name:      "research",
		Usage:     "Research a topic and write a Markdown report",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if query == "" {
				return goerr.New("query is required")
			}

			ctx = cfg.setupLogger(ctx)
			app, cleanup, err := newResearchApp(ctx, &cfg, &opts)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := app.run(ctx, query, !opts.quiet)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if opts.print {
				fmt.Fprintln(w, result.Report.Markdown)
				return nil
			}

			fmt.Fprintln(w, tui.Title("Research complete"))
			fmt.Fprintf(w, "  Session:  %s\n", result.SessionID)
			fmt.Fprintf(w, "  Findings: %d (%s)\n", len(result.Summary.KeyFindings), result.Summary.Method)
			fmt.Fprintf(w, "  Sources:  %d\n", len(result.Summary.Sources))
			fmt.Fprintf(w, "  Report:   %s\n", result.Report.Key)
			if len(result.Related) > 0 {
				fmt.Fprintln(w, tui.Dim(fmt.Sprintf("  %d related past memories were referenced", len(result.Related))))
			}
			return nil
		},
	}
}

// researchApp bundles what a research run needs; shared by the research
// and shell commands.
type researchApp struct {
	uc     *research.UseCase
	log    *episodic.Log
	memory *similarity.Store
}

func newResearchApp(ctx context.Context, cfg *config, opts *researchOptions) (*researchApp, func(), error) {
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	log, err := cfg.newLog(ctx, storage)
	if err != nil {
		return nil, nil, err
	}

	memory, cleanup, err := cfg.newMemory(ctx, storage)
	if err != nil {
		return nil, nil, err
	}

	llm, err := cfg.newLLM(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	search, err := cfg.newSearch()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	ucOpts := []research.Option{
		research.WithLLM(llm),
		research.WithMaxResults(int(cfg.maxResults)),
		research.WithSearchConcurrency(int(cfg.searchConcurrency)),
	}

	if opts.planFile != "" {
		data, err := os.ReadFile(opts.planFile)
		if err != nil {
			cleanup()
			return nil, nil, goerr.Wrap(err, "failed to read plan template", goerr.V("path", opts.planFile))
		}
		planner, err := research.NewPlanner(data)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		ucOpts = append(ucOpts, research.WithPlanner(planner))
	}

	if opts.policyDir != "" {
		policy, err := research.LoadRetentionPolicy(ctx, opts.policyDir)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		ucOpts = append(ucOpts, research.WithRetentionPolicy(policy))
	}

	uc, err := research.New(log, memory, repository.New(storage), search, ucOpts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return &researchApp{uc: uc, log: log, memory: memory}, cleanup, nil
}

func (a *researchApp) run(ctx context.Context, query string, progress bool) (*research.Result, error) {
	if !progress {
		return a.uc.Research(ctx, query)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " starting research"
	s.Start()
	defer s.Stop()

	uc := a.uc.With(research.WithProgress(func(stage research.Stage) {
		s.Lock()
		s.Suffix = " " + string(stage)
		s.Unlock()
	}))
	return uc.Research(ctx, query)
}
