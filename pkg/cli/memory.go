package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/service/tui"
	"github.com/m-mizutani/fennec/pkg/similarity"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func recallCommand() *cli.Command {
	var (
		cfg      config
		limit    int64
		minScore float64
		kind     string
		asJSON   bool
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"k"},
			Usage:       "Maximum number of memories to return",
			Value:       5,
			Destination: &limit,
		},
		&cli.FloatFlag{
			Name:        "min-score",
			Usage:       "Drop memories with a lower cosine similarity",
			Destination: &minScore,
		},
		&cli.StringFlag{
			Name:        "type",
			Usage:       "Only return memories of this type (research_query, key_finding)",
			Destination: &kind,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print results as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)

	return &cli.Command{
		Name:      "recall",
		Usage:     "Find remembered queries and findings similar to a text",
		ArgsUsage: "<text>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			text := strings.Join(c.Args().Slice(), " ")

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			memory, cleanup, err := cfg.newMemory(ctx, storage)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := []similarity.SearchOption{similarity.RequireResults()}
			if minScore != 0 {
				opts = append(opts, similarity.WithMinScore(minScore))
			}
			if kind != "" {
				opts = append(opts, similarity.WithFilter(func(e *model.MemoryEntry) bool {
					t, _ := e.Metadata["type"].(string)
					return t == kind
				}))
			}

			hits, err := memory.Search(ctx, text, int(limit), opts...)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if asJSON {
				return printJSON(w, hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(w, tui.Dim("no similar memory"))
				return nil
			}
			for _, h := range hits {
				t, _ := h.Entry.Metadata["type"].(string)
				fmt.Fprintf(w, "%.3f\t#%d\t%s\t%s\n", h.Score, h.Entry.ID, tui.Dim(t), h.Entry.Text)
			}
			return nil
		},
	}
}

func rememberCommand() *cli.Command {
	var (
		cfg  config
		meta []string
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "meta",
			Aliases:     []string{"m"},
			Usage:       "Metadata as key=value, repeatable",
			Destination: &meta,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)

	return &cli.Command{
		Name:      "remember",
		Usage:     "Store a text in the similarity memory",
		ArgsUsage: "<text>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text == "" {
				return goerr.New("text is required")
			}

			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			memory, cleanup, err := cfg.newMemory(ctx, storage)
			if err != nil {
				return err
			}
			defer cleanup()

			id, err := memory.Add(ctx, text, metadata)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "remembered #%d\n", id)
			return nil
		},
	}
}

func parseMetadata(pairs []string) (map[string]any, error) {
	metadata := map[string]any{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, goerr.New("metadata must be key=value", goerr.V("meta", pair))
		}
		metadata[key] = value
	}
	return metadata, nil
}

func forgetCommand() *cli.Command {
	var (
		cfg config
		yes bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "yes",
			Aliases:     []string{"y"},
			Usage:       "Confirm removing every memory",
			Destination: &yes,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, memoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "forget",
		Usage: "Remove all entries of the similarity memory",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			if !yes {
				return goerr.New("refusing to clear memory without --yes")
			}

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			memory, cleanup, err := cfg.newMemory(ctx, storage)
			if err != nil {
				return err
			}
			defer cleanup()

			n := memory.Len()
			if err := memory.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "forgot %d memories\n", n)
			return nil
		},
	}
}
