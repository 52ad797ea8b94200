package research

import (
	"context"

	"github.com/m-mizutani/fennec/pkg/interfaces"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/utils/logging"
)

// Agent names recorded in the episodic log
const (
	AgentPlanner    = "PlannerAgent"
	AgentSearch     = "SearchAgent"
	AgentSummarizer = "SummarizerAgent"
	AgentWriter     = "WriterAgent"
)

// recorder binds the pipeline stages to one session. A failure to record an
// action is logged and does not stop the run; the action is still kept in
// the in-memory log.
type recorder struct {
	log       interfaces.EpisodicLog
	sessionID model.SessionID
	metrics   *metrics
	progress  func(Stage)
}

func (r *recorder) action(ctx context.Context, agent, actionType string, payload map[string]any) {
	if err := r.log.LogAction(ctx, r.sessionID, agent, actionType, payload); err != nil {
		logging.From(ctx).Warn("failed to record action",
			"session_id", r.sessionID,
			"agent", agent,
			"action", actionType,
			"error", err)
	}
}

func (r *recorder) searchResults(ctx context.Context, n int) {
	if r.metrics != nil {
		r.metrics.searchResults.Add(ctx, int64(n))
	}
}

func (r *recorder) stage(s Stage) {
	if r.progress != nil {
		r.progress(s)
	}
}
