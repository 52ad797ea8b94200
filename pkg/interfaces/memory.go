package interfaces

import (
	"context"

	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/similarity"
)

// EpisodicLog is the session and action record used by the research pipeline
type EpisodicLog interface {
	// StartSession creates an active session for query
	StartSession(ctx context.Context, query string) (model.SessionID, error)

	// LogAction appends an agent action to a session and persists the log
	LogAction(ctx context.Context, id model.SessionID, agent, actionType string, payload map[string]any) error

	// EndSession moves an active session to a terminal status
	EndSession(ctx context.Context, id model.SessionID, status model.SessionStatus) error

	// GetSession returns a copy of one session
	GetSession(id model.SessionID) (*model.Session, error)

	// Sessions returns copies of all sessions in start order
	Sessions() []*model.Session

	// Statistics summarizes the log
	Statistics() *model.LogStatistics
}

// Memory is the similarity store used to remember and recall research results
type Memory interface {
	// Add embeds and stores text, returning its id
	Add(ctx context.Context, text string, metadata map[string]any) (model.EntryID, error)

	// Search returns up to k entries by descending similarity to query
	Search(ctx context.Context, query string, k int, opts ...similarity.SearchOption) ([]*model.ScoredEntry, error)

	// Stats reports the size of the store
	Stats() *model.MemoryStats
}
