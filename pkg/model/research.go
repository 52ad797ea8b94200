package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidSubtaskType = goerr.New("invalid subtask type")
)

type SubtaskType string

const (
	SubtaskTypeSearch    SubtaskType = "search"
	SubtaskTypeSummarize SubtaskType = "summarize"
	SubtaskTypeWrite     SubtaskType = "write"
)

// Validate checks if the subtask type is valid
func (t SubtaskType) Validate() error {
	switch t {
	case SubtaskTypeSearch, SubtaskTypeSummarize, SubtaskTypeWrite:
		return nil
	default:
		return goerr.Wrap(ErrInvalidSubtaskType, "unknown subtask type", goerr.V("type", t))
	}
}

// Subtask is one step of a decomposed research query
type Subtask struct {
	ID          int         `json:"id" yaml:"id"`
	Type        SubtaskType `json:"type" yaml:"type"`
	Description string      `json:"description" yaml:"description"`
	Query       string      `json:"query,omitempty" yaml:"query,omitempty"`
	Priority    string      `json:"priority" yaml:"priority"`
	DependsOn   []int       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// SearchResult is a record returned by a search provider
type SearchResult struct {
	Rank        int        `json:"rank"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Snippet     string     `json:"snippet"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

type Credibility string

const (
	CredibilityHigh   Credibility = "high"
	CredibilityMedium Credibility = "medium"
	CredibilityLow    Credibility = "low"
)

// Finding is a key point extracted from the gathered sources
type Finding struct {
	Point       string      `json:"point"`
	Source      string      `json:"source"`
	URL         string      `json:"url"`
	Credibility Credibility `json:"credibility,omitempty"`
}

// Source is a cited web page
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type SynthesisMethod string

const (
	SynthesisHeuristic SynthesisMethod = "heuristic_extraction"
	SynthesisLLM       SynthesisMethod = "llm"
)

// Summary is the synthesized result of all searches of a session
type Summary struct {
	KeyFindings      []*Finding      `json:"key_findings"`
	SourceCount      int             `json:"source_count"`
	Sources          []*Source       `json:"sources"`
	Method           SynthesisMethod `json:"synthesis_method"`
	Overview         string          `json:"summary,omitempty"`
	Themes           []string        `json:"themes,omitempty"`
	CredibilityNotes string          `json:"credibility_notes,omitempty"`
}

type ReportID string

// NewReportID generates a new unique ReportID
func NewReportID() ReportID {
	return ReportID(uuid.New().String())
}

// Report is the deliverable of a research run
type Report struct {
	ID        ReportID  `json:"id"`
	SessionID SessionID `json:"session_id"`
	Query     string    `json:"query"`
	Markdown  string    `json:"markdown"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}
