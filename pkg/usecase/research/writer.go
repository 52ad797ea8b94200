package research

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/fennec/pkg/adapter"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed templates/report.md
var reportTemplateRaw string

//go:embed prompt/overview.md
var overviewPromptRaw string

var (
	reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).Parse(reportTemplateRaw))

	overviewPromptTmpl = template.Must(template.New("overview").Parse(overviewPromptRaw))
)

// writer renders the final Markdown report
type writer struct {
	llm adapter.LLM
}

// newWriter creates a writer. With a non-nil llm, a missing executive
// summary is written by the LLM.
func newWriter(llm adapter.LLM) *writer {
	return &writer{llm: llm}
}

// draft is everything a report is rendered from
type draft struct {
	Query     string
	SessionID model.SessionID
	Subtasks  []*model.Subtask
	Results   [][]*model.SearchResult
	Summary   *model.Summary
	Related   []*model.ScoredEntry
	CreatedAt time.Time
}

// Write returns the Markdown report of draft
func (w *writer) Write(ctx context.Context, rec *recorder, d *draft) (string, error) {
	rec.action(ctx, AgentWriter, "report_started", map[string]any{
		"query":    d.Query,
		"findings": len(d.Summary.KeyFindings),
	})

	overview := w.overview(ctx, d)

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, map[string]any{
		"Query":            d.Query,
		"Date":             d.CreatedAt.Format("2006-01-02 15:04:05"),
		"SessionID":        d.SessionID,
		"Overview":         overview,
		"Findings":         d.Summary.KeyFindings,
		"Themes":           d.Summary.Themes,
		"CredibilityNotes": d.Summary.CredibilityNotes,
		"Related":          d.Related,
		"Sources":          d.Summary.Sources,
		"SubtaskCount":     len(d.Subtasks),
		"SearchCount":      len(d.Results),
		"SourceCount":      d.Summary.SourceCount,
		"Method":           d.Summary.Method,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to render report", goerr.V("query", d.Query))
	}

	report := buf.String()
	rec.action(ctx, AgentWriter, "report_completed", map[string]any{
		"query":  d.Query,
		"length": len(report),
	})
	return report, nil
}

func (w *writer) overview(ctx context.Context, d *draft) string {
	if s := strings.TrimSpace(d.Summary.Overview); s != "" {
		return s
	}

	if w.llm != nil && len(d.Summary.KeyFindings) > 0 {
		var buf bytes.Buffer
		if err := overviewPromptTmpl.Execute(&buf, map[string]any{
			"Query":    d.Query,
			"Findings": d.Summary.KeyFindings,
		}); err == nil {
			text, err := w.llm.Generate(ctx, buf.String())
			if err == nil && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
			logging.From(ctx).Warn("failed to generate executive summary", "error", err)
		}
	}

	return fmt.Sprintf("This report covers %q. It draws %d key findings from %d search results across %d cited sources.",
		d.Query, len(d.Summary.KeyFindings), d.Summary.SourceCount, len(d.Summary.Sources))
}
