package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/googleapi"
)

// BigQuery is an interface for exporting episodic log actions to BigQuery
type BigQuery interface {
	// EnsureActionTable creates the action table if it does not exist yet
	EnsureActionTable(ctx context.Context, datasetID, tableID string) error

	// InsertActions streams actions into the table
	InsertActions(ctx context.Context, datasetID, tableID string, actions []*model.Action) error
}

type bigqueryClient struct {
	client *bigquery.Client
}

// BigQueryOption is a functional option for BigQuery client
type BigQueryOption func(*bigqueryClient)

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string, opts ...BigQueryOption) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	bq := &bigqueryClient{
		client: client,
	}

	for _, opt := range opts {
		opt(bq)
	}

	return bq, nil
}

// ActionRow is the BigQuery row layout of a model.Action
type ActionRow struct {
	SessionID  string    `bigquery:"session_id"`
	Agent      string    `bigquery:"agent"`
	ActionType string    `bigquery:"action_type"`
	Payload    string    `bigquery:"payload"`
	Timestamp  time.Time `bigquery:"timestamp"`
}

// NewActionRow converts an action into a row; the payload is stored as JSON text
func NewActionRow(action *model.Action) (*ActionRow, error) {
	payload, err := json.Marshal(action.Payload)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal action payload",
			goerr.V("session_id", action.SessionID),
			goerr.V("agent", action.Agent))
	}

	return &ActionRow{
		SessionID:  string(action.SessionID),
		Agent:      action.Agent,
		ActionType: action.ActionType,
		Payload:    string(payload),
		Timestamp:  action.Timestamp,
	}, nil
}

func (bq *bigqueryClient) EnsureActionTable(ctx context.Context, datasetID, tableID string) error {
	table := bq.client.Dataset(datasetID).Table(tableID)

	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return goerr.Wrap(err, "failed to get table metadata",
			goerr.V("dataset", datasetID),
			goerr.V("table", tableID))
	}

	schema, err := bigquery.InferSchema(ActionRow{})
	if err != nil {
		return goerr.Wrap(err, "failed to infer action schema")
	}

	if err := table.Create(ctx, &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "timestamp",
		},
	}); err != nil {
		return goerr.Wrap(err, "failed to create action table",
			goerr.V("dataset", datasetID),
			goerr.V("table", tableID))
	}

	return nil
}

func (bq *bigqueryClient) InsertActions(ctx context.Context, datasetID, tableID string, actions []*model.Action) error {
	if len(actions) == 0 {
		return nil
	}

	rows := make([]*ActionRow, 0, len(actions))
	for _, action := range actions {
		row, err := NewActionRow(action)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	inserter := bq.client.Dataset(datasetID).Table(tableID).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return goerr.Wrap(err, "failed to insert actions",
			goerr.V("dataset", datasetID),
			goerr.V("table", tableID),
			goerr.V("rows", len(rows)))
	}

	return nil
}
