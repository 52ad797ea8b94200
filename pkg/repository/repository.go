package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/m-mizutani/fennec/pkg/adapter"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// ErrReportNotFound is returned when no report has the requested ID
var ErrReportNotFound = goerr.New("report not found")

const (
	reportPrefix = "reports"
	indexKey     = reportPrefix + "/index.json"
)

// Repository defines the interface for research report persistence
type Repository interface {
	// PutReport saves the report markdown and registers it in the report index
	PutReport(ctx context.Context, report *model.Report) error

	// GetReport retrieves a report with its markdown by ID
	GetReport(ctx context.Context, id model.ReportID) (*model.Report, error)

	// ListReports retrieves all reports, newest first, without markdown
	ListReports(ctx context.Context) ([]*model.Report, error)
}

type storageRepo struct {
	mu      sync.Mutex
	storage adapter.Storage
}

// New creates a Repository on top of a document storage
func New(storage adapter.Storage) Repository {
	return &storageRepo{storage: storage}
}

// ReportKey builds the storage key of a report: every rune of query that is
// not a letter or digit becomes "_", truncated to 50 runes, followed by the
// local timestamp.
func ReportKey(query string, at time.Time) string {
	safe := []rune(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, query))
	if len(safe) > 50 {
		safe = safe[:50]
	}
	return fmt.Sprintf("%s/report_%s_%s.md", reportPrefix, string(safe), at.Format("20060102_150405"))
}

func (r *storageRepo) PutReport(ctx context.Context, report *model.Report) error {
	if report.ID == "" {
		report.ID = model.NewReportID()
	}
	if report.Key == "" {
		report.Key = ReportKey(report.Query, report.CreatedAt)
	}

	if err := adapter.WriteObject(ctx, r.storage, report.Key, []byte(report.Markdown)); err != nil {
		return goerr.Wrap(err, "failed to write report", goerr.V("key", report.Key))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	index, err := r.readIndex(ctx)
	if err != nil {
		return err
	}

	entry := *report
	entry.Markdown = ""
	index = append(index, &entry)

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal report index")
	}
	if err := adapter.WriteObject(ctx, r.storage, indexKey, data); err != nil {
		return goerr.Wrap(err, "failed to write report index", goerr.V("key", indexKey))
	}
	return nil
}

func (r *storageRepo) GetReport(ctx context.Context, id model.ReportID) (*model.Report, error) {
	r.mu.Lock()
	index, err := r.readIndex(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, entry := range index {
		if entry.ID != id {
			continue
		}

		data, err := adapter.ReadObject(ctx, r.storage, entry.Key)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read report", goerr.V("id", id), goerr.V("key", entry.Key))
		}
		report := *entry
		report.Markdown = string(data)
		return &report, nil
	}

	return nil, goerr.Wrap(ErrReportNotFound, "no such report", goerr.V("id", id))
}

func (r *storageRepo) ListReports(ctx context.Context) ([]*model.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, err := r.readIndex(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]*model.Report, 0, len(index))
	for i := len(index) - 1; i >= 0; i-- {
		reports = append(reports, index[i])
	}
	return reports, nil
}

func (r *storageRepo) readIndex(ctx context.Context) ([]*model.Report, error) {
	data, err := adapter.ReadObject(ctx, r.storage, indexKey)
	if err != nil {
		if errors.Is(err, adapter.ErrNotFound) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to read report index", goerr.V("key", indexKey))
	}

	var index []*model.Report
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, goerr.Wrap(err, "failed to parse report index", goerr.V("key", indexKey))
	}
	return index, nil
}
