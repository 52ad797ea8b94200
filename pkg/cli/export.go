package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/fennec/pkg/adapter"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const exportBatchSize = 500

func exportCommand() *cli.Command {
	var (
		cfg       config
		bqProject string
		datasetID string
		tableID   string
		since     string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project of the BigQuery dataset (defaults to --project)",
			Sources:     cli.EnvVars("FENNEC_BIGQUERY_PROJECT"),
			Destination: &bqProject,
		},
		&cli.StringFlag{
			Name:        "dataset",
			Usage:       "BigQuery dataset ID",
			Sources:     cli.EnvVars("FENNEC_BIGQUERY_DATASET"),
			Destination: &datasetID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "table",
			Usage:       "BigQuery table ID, created when missing",
			Value:       "actions",
			Sources:     cli.EnvVars("FENNEC_BIGQUERY_TABLE"),
			Destination: &tableID,
		},
		&cli.StringFlag{
			Name:        "since",
			Usage:       "Only export actions at or after this RFC3339 time",
			Destination: &since,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Stream episodic log actions into a BigQuery table",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			project := bqProject
			if project == "" {
				project = cfg.project
			}
			if project == "" {
				return goerr.New("bigquery-project or project is required")
			}

			var from time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return goerr.Wrap(err, "invalid since", goerr.V("since", since))
				}
				from = t
			}

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			log, err := cfg.newLog(ctx, storage)
			if err != nil {
				return err
			}

			bq, err := adapter.NewBigQuery(ctx, project)
			if err != nil {
				return err
			}

			n, err := exportActions(ctx, bq, datasetID, tableID, log.Actions(), from)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "exported %d actions to %s.%s.%s\n", n, project, datasetID, tableID)
			return nil
		},
	}
}

func exportActions(ctx context.Context, bq adapter.BigQuery, datasetID, tableID string, actions []*model.Action, since time.Time) (int, error) {
	if err := bq.EnsureActionTable(ctx, datasetID, tableID); err != nil {
		return 0, err
	}

	var selected []*model.Action
	for _, a := range actions {
		if !since.IsZero() && a.Timestamp.Before(since) {
			continue
		}
		selected = append(selected, a)
	}

	for start := 0; start < len(selected); start += exportBatchSize {
		end := min(start+exportBatchSize, len(selected))
		if err := bq.InsertActions(ctx, datasetID, tableID, selected[start:end]); err != nil {
			return start, err
		}
		logging.From(ctx).Debug("exported actions", "from", start, "to", end)
	}

	return len(selected), nil
}
