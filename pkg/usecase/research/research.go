package research

import (
	"context"
	"time"

	"github.com/m-mizutani/fennec/pkg/adapter"
	"github.com/m-mizutani/fennec/pkg/interfaces"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/repository"
	"github.com/m-mizutani/fennec/pkg/similarity"
	"github.com/m-mizutani/fennec/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultMaxResults is the number of search results requested per search subtask
	DefaultMaxResults = 5

	defaultRelatedLimit    = 3
	defaultRelatedMinScore = 0.1
)

// Stage is a step of a research run, reported through WithProgress
type Stage string

const (
	StageRecall    Stage = "recalling related research"
	StagePlan      Stage = "planning research tasks"
	StageSearch    Stage = "gathering information"
	StageSummarize Stage = "synthesizing findings"
	StageWrite     Stage = "generating report"
	StageRemember  Stage = "updating memory"
)

// UseCase runs the research pipeline: plan, search, summarize, write,
// remember. Every stage is recorded in the episodic log.
type UseCase struct {
	log     interfaces.EpisodicLog
	memory  interfaces.Memory
	reports repository.Repository
	search  adapter.SearchProvider

	llm          adapter.LLM
	planner      *Planner
	retention    *RetentionPolicy
	maxResults   int
	concurrency  int
	relatedLimit int
	now          func() time.Time
	progress     func(Stage)
	metrics      *metrics
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithLLM enables LLM synthesis and executive summaries
func WithLLM(llm adapter.LLM) Option {
	return func(uc *UseCase) {
		uc.llm = llm
	}
}

// WithPlanner replaces the built-in plan
func WithPlanner(p *Planner) Option {
	return func(uc *UseCase) {
		uc.planner = p
	}
}

// WithRetentionPolicy sets the policy choosing findings to remember
func WithRetentionPolicy(p *RetentionPolicy) Option {
	return func(uc *UseCase) {
		uc.retention = p
	}
}

// WithMaxResults sets the number of results per search subtask
func WithMaxResults(n int) Option {
	return func(uc *UseCase) {
		uc.maxResults = n
	}
}

// WithSearchConcurrency sets how many search subtasks run at once
func WithSearchConcurrency(n int) Option {
	return func(uc *UseCase) {
		uc.concurrency = n
	}
}

// WithRelatedLimit sets how many past memories are recalled before a run
func WithRelatedLimit(n int) Option {
	return func(uc *UseCase) {
		uc.relatedLimit = n
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// WithProgress sets a callback invoked when a stage begins
func WithProgress(fn func(Stage)) Option {
	return func(uc *UseCase) {
		uc.progress = fn
	}
}

// New creates a new research UseCase instance
func New(
	log interfaces.EpisodicLog,
	memory interfaces.Memory,
	reports repository.Repository,
	search adapter.SearchProvider,
	opts ...Option,
) (*UseCase, error) {
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	uc := &UseCase{
		log:          log,
		memory:       memory,
		reports:      reports,
		search:       search,
		maxResults:   DefaultMaxResults,
		concurrency:  1,
		relatedLimit: defaultRelatedLimit,
		now:          time.Now,
		metrics:      m,
	}

	for _, opt := range opts {
		opt(uc)
	}

	if uc.planner == nil {
		uc.planner = DefaultPlanner()
	}

	return uc, nil
}

// With returns a copy of uc with opts applied
func (uc *UseCase) With(opts ...Option) *UseCase {
	c := *uc
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Result is the outcome of a research run
type Result struct {
	SessionID  model.SessionID
	Subtasks   []*model.Subtask
	Results    [][]*model.SearchResult
	Summary    *model.Summary
	Report     *model.Report
	Related    []*model.ScoredEntry
	Remembered []model.EntryID
}

// Research runs the whole pipeline for query. The session ends as
// completed on success; on any error it ends as failed and the error is
// returned together with the partial result.
func (uc *UseCase) Research(ctx context.Context, query string) (*Result, error) {
	started := uc.now()
	logger := logging.From(ctx)

	rec := &recorder{log: uc.log, metrics: uc.metrics, progress: uc.progress}

	rec.stage(StageRecall)
	related, err := uc.memory.Search(ctx, query, uc.relatedLimit, similarity.WithMinScore(defaultRelatedMinScore))
	if err != nil {
		logger.Warn("failed to recall related research", "error", err)
		related = nil
	}

	sessionID, err := uc.log.StartSession(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to start session", goerr.V("query", query))
	}
	rec.sessionID = sessionID
	ctx = logging.With(ctx, logger.With("session_id", sessionID))

	result := &Result{SessionID: sessionID, Related: related}
	if err := uc.run(ctx, rec, query, result); err != nil {
		if endErr := uc.log.EndSession(ctx, sessionID, model.SessionStatusFailed); endErr != nil {
			logging.From(ctx).Warn("failed to end session", "error", endErr)
		}
		uc.metrics.recordRun(ctx, model.SessionStatusFailed, uc.now().Sub(started))
		return result, err
	}

	if err := uc.log.EndSession(ctx, sessionID, model.SessionStatusCompleted); err != nil {
		return result, goerr.Wrap(err, "failed to end session", goerr.V("session_id", sessionID))
	}
	uc.metrics.recordRun(ctx, model.SessionStatusCompleted, uc.now().Sub(started))

	logging.From(ctx).Info("research completed",
		"report", result.Report.Key,
		"findings", len(result.Summary.KeyFindings),
		"remembered", len(result.Remembered))
	return result, nil
}

func (uc *UseCase) run(ctx context.Context, rec *recorder, query string, result *Result) error {
	rec.stage(StagePlan)
	rec.action(ctx, AgentPlanner, "planning_started", map[string]any{"query": query})
	subtasks, err := uc.planner.Plan(ctx, query)
	if err != nil {
		return goerr.Wrap(err, "failed to plan research", goerr.V("query", query))
	}
	rec.action(ctx, AgentPlanner, "planning_completed", map[string]any{
		"query":         query,
		"subtask_count": len(subtasks),
		"subtasks":      subtasks,
	})
	result.Subtasks = subtasks

	rec.stage(StageSearch)
	result.Results = newSearcher(uc.search, uc.maxResults, uc.concurrency).Run(ctx, rec, subtasks)

	rec.stage(StageSummarize)
	result.Summary = newSummarizer(uc.llm).Summarize(ctx, rec, query, result.Results)

	rec.stage(StageWrite)
	createdAt := uc.now()
	markdown, err := newWriter(uc.llm).Write(ctx, rec, &draft{
		Query:     query,
		SessionID: result.SessionID,
		Subtasks:  subtasks,
		Results:   result.Results,
		Summary:   result.Summary,
		Related:   result.Related,
		CreatedAt: createdAt,
	})
	if err != nil {
		return err
	}

	report := &model.Report{
		ID:        model.NewReportID(),
		SessionID: result.SessionID,
		Query:     query,
		Markdown:  markdown,
		CreatedAt: createdAt,
	}
	if err := uc.reports.PutReport(ctx, report); err != nil {
		return goerr.Wrap(err, "failed to save report", goerr.V("query", query))
	}
	rec.action(ctx, AgentWriter, "report_saved", map[string]any{
		"report_id": string(report.ID),
		"key":       report.Key,
	})
	result.Report = report

	rec.stage(StageRemember)
	return uc.remember(ctx, query, result)
}

func (uc *UseCase) remember(ctx context.Context, query string, result *Result) error {
	timestamp := uc.now().Format(time.RFC3339)

	id, err := uc.memory.Add(ctx, query, map[string]any{
		"type":               "research_query",
		"session_id":         string(result.SessionID),
		"report_key":         result.Report.Key,
		"key_findings_count": len(result.Summary.KeyFindings),
		"source_count":       result.Summary.SourceCount,
		"timestamp":          timestamp,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to remember query", goerr.V("query", query))
	}
	result.Remembered = append(result.Remembered, id)

	findings, err := uc.retention.Retain(ctx, query, result.Summary.KeyFindings)
	if err != nil {
		return err
	}

	for _, f := range findings {
		if f.Point == "" {
			continue
		}
		id, err := uc.memory.Add(ctx, f.Point, map[string]any{
			"type":       "key_finding",
			"query":      query,
			"source":     f.Source,
			"url":        f.URL,
			"session_id": string(result.SessionID),
			"timestamp":  timestamp,
		})
		if err != nil {
			return goerr.Wrap(err, "failed to remember finding", goerr.V("source", f.Source))
		}
		result.Remembered = append(result.Remembered, id)
	}

	return nil
}
