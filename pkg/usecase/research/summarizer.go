package research

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/m-mizutani/fennec/pkg/adapter"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/summarize.md
var summarizePromptRaw string

var summarizePromptTmpl = template.Must(template.New("summarize").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(summarizePromptRaw))

const (
	heuristicFindingLimit = 10
	snippetLimit          = 200
	sourceLimit           = 15
)

// summarizer condenses search results into key findings and cited sources
type summarizer struct {
	llm adapter.LLM
}

// newSummarizer creates a summarizer. llm may be nil, in which case only
// the heuristic extraction is used.
func newSummarizer(llm adapter.LLM) *summarizer {
	return &summarizer{llm: llm}
}

// Summarize never fails: when the LLM synthesis errors or returns nothing
// usable, the heuristic summary is returned.
func (s *summarizer) Summarize(ctx context.Context, rec *recorder, query string, results [][]*model.SearchResult) *model.Summary {
	rec.action(ctx, AgentSummarizer, "summarization_started", map[string]any{
		"source_count": len(results),
		"using_llm":    s.llm != nil,
	})

	all := flatten(results)

	var summary *model.Summary
	if s.llm != nil && len(all) > 0 {
		var err error
		summary, err = s.synthesize(ctx, query, all)
		if err != nil {
			logging.From(ctx).Warn("LLM synthesis failed, falling back to heuristic", "error", err)
			summary = nil
		}
	}
	if summary == nil {
		summary = heuristicSummary(all)
	}

	rec.action(ctx, AgentSummarizer, "summarization_completed", map[string]any{
		"source_count": len(results),
		"key_points":   len(summary.KeyFindings),
		"method":       string(summary.Method),
	})
	return summary
}

func flatten(results [][]*model.SearchResult) []*model.SearchResult {
	var all []*model.SearchResult
	for _, list := range results {
		all = append(all, list...)
	}
	return all
}

func heuristicSummary(all []*model.SearchResult) *model.Summary {
	summary := &model.Summary{
		KeyFindings: []*model.Finding{},
		SourceCount: len(all),
		Sources:     []*model.Source{},
		Method:      model.SynthesisHeuristic,
	}

	for i, r := range all {
		if i >= heuristicFindingLimit {
			break
		}
		summary.KeyFindings = append(summary.KeyFindings, &model.Finding{
			Point:  truncateRunes(r.Snippet, snippetLimit),
			Source: titleOrUnknown(r.Title),
			URL:    r.URL,
		})
		if r.URL != "" && len(summary.Sources) < sourceLimit {
			summary.Sources = append(summary.Sources, &model.Source{Title: titleOrUnknown(r.Title), URL: r.URL})
		}
	}

	return summary
}

type llmSummary struct {
	KeyFindings      []*model.Finding `json:"key_findings"`
	Summary          string           `json:"summary"`
	Themes           []string         `json:"themes"`
	CredibilityNotes string           `json:"credibility_notes"`
}

func (s *summarizer) synthesize(ctx context.Context, query string, all []*model.SearchResult) (*model.Summary, error) {
	sources := all
	if len(sources) > sourceLimit {
		sources = sources[:sourceLimit]
	}

	var buf bytes.Buffer
	if err := summarizePromptTmpl.Execute(&buf, map[string]any{
		"Query":   query,
		"Sources": sources,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute summarize prompt template")
	}

	text, err := s.llm.Generate(ctx, buf.String())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate summary")
	}

	var parsed llmSummary
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return nil, goerr.Wrap(err, "failed to parse summary JSON", goerr.V("response", text))
	}

	var findings []*model.Finding
	for _, f := range parsed.KeyFindings {
		if f == nil || strings.TrimSpace(f.Point) == "" {
			continue
		}
		if f.Source == "" {
			f.Source = "Unknown"
		}
		findings = append(findings, f)
	}
	if len(findings) == 0 {
		return nil, goerr.New("summary has no key finding", goerr.V("response", text))
	}

	summary := &model.Summary{
		KeyFindings:      findings,
		SourceCount:      len(all),
		Sources:          []*model.Source{},
		Method:           model.SynthesisLLM,
		Overview:         parsed.Summary,
		Themes:           parsed.Themes,
		CredibilityNotes: parsed.CredibilityNotes,
	}
	for _, r := range sources {
		if r.URL != "" {
			summary.Sources = append(summary.Sources, &model.Source{Title: titleOrUnknown(r.Title), URL: r.URL})
		}
	}
	return summary, nil
}

// extractJSON returns the content of the first ```json (or plain ```) fenced
// block, or the whole text when there is no fence.
func extractJSON(text string) string {
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(text, fence)
		if start < 0 {
			continue
		}
		rest := text[start+len(fence):]
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(text)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func titleOrUnknown(title string) string {
	if title == "" {
		return "Unknown"
	}
	return title
}
