package research

import (
	"context"
	"time"

	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/m-mizutani/fennec/pkg/usecase/research"

type metrics struct {
	runs          otelmetric.Int64Counter
	searchResults otelmetric.Int64Counter
	duration      otelmetric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter(meterName)

	var m metrics
	var err error

	m.runs, err = meter.Int64Counter("fennec.research.runs",
		otelmetric.WithDescription("Research runs by final session status"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create runs counter")
	}

	m.searchResults, err = meter.Int64Counter("fennec.search.results",
		otelmetric.WithDescription("Search results returned by the search provider"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create search results counter")
	}

	m.duration, err = meter.Float64Histogram("fennec.research.duration",
		otelmetric.WithUnit("s"),
		otelmetric.WithDescription("Wall time of a research run"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create duration histogram")
	}

	return &m, nil
}

func (m *metrics) recordRun(ctx context.Context, status model.SessionStatus, elapsed time.Duration) {
	attrs := otelmetric.WithAttributes(attribute.String("status", string(status)))
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
