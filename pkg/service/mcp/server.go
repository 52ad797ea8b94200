package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/m-mizutani/fennec/pkg/interfaces"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/similarity"
	"github.com/m-mizutani/fennec/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "fennec"
	serverVersion = "0.1.0"

	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

// Server exposes the episodic log and the similarity memory as read-only MCP
// tools.
type Server struct {
	log    interfaces.EpisodicLog
	memory interfaces.Memory
	server *mcp.Server
}

type getSessionParams struct {
	SessionID string `json:"session_id" jsonschema:"ID of the research session, e.g. session_1_1709285400"`
}

type searchMemoryParams struct {
	Query    string  `json:"query" jsonschema:"Text to find similar memories for"`
	Limit    int     `json:"limit,omitempty" jsonschema:"Maximum number of results (default 5, max 50)"`
	MinScore float64 `json:"min_score,omitempty" jsonschema:"Drop results with a cosine similarity below this value"`
	Type     string  `json:"type,omitempty" jsonschema:"Only return memories whose metadata type matches, e.g. research_query or key_finding"`
}

type listSessionsParams struct {
	Status string `json:"status,omitempty" jsonschema:"Only list sessions with this status: active, completed or failed"`
}

type sessionOverview struct {
	ID          model.SessionID     `json:"id"`
	Query       string              `json:"query"`
	Status      model.SessionStatus `json:"status"`
	StartedAt   string              `json:"started_at"`
	ActionCount int                 `json:"action_count"`
}

// NewServer creates a Server with the get_statistics, get_session,
// search_memory and list_sessions tools registered.
func NewServer(log interfaces.EpisodicLog, memory interfaces.Memory) *Server {
	s := &Server{
		log:    log,
		memory: memory,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_statistics",
		Description: "Summarize the episodic log: session, action and agent counts, and the similarity memory size",
	}, s.getStatistics)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_session",
		Description: "Return one research session with all recorded agent actions",
	}, s.getSession)

	searchTool := &mcp.Tool{
		Name:        "search_memory",
		Description: "Find past research queries and key findings similar to a text",
	}
	if schema, err := searchMemorySchema(); err == nil {
		searchTool.InputSchema = schema
	} else {
		logging.Default().Warn("falling back to inferred schema", "tool", "search_memory", "error", err)
	}
	mcp.AddTool(s.server, searchTool, s.searchMemory)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List research sessions in start order",
	}, s.listSessions)

	return s
}

// Run serves the tools over transport until ctx is canceled or the client
// disconnects.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	if err := s.server.Run(ctx, transport); err != nil {
		return goerr.Wrap(err, "MCP server stopped")
	}
	return nil
}

// Handler returns a streamable HTTP handler serving the tools
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal tool result")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

func errorResult(err error) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: err.Error()},
		},
	}, nil, nil
}

func (s *Server) getStatistics(ctx context.Context, req *mcp.CallToolRequest, params *struct{}) (*mcp.CallToolResult, any, error) {
	return jsonResult(map[string]any{
		"episodic_log": s.log.Statistics(),
		"memory":       s.memory.Stats(),
	})
}

func (s *Server) getSession(ctx context.Context, req *mcp.CallToolRequest, params *getSessionParams) (*mcp.CallToolResult, any, error) {
	if params.SessionID == "" {
		return errorResult(goerr.New("session_id is required"))
	}

	session, err := s.log.GetSession(model.SessionID(params.SessionID))
	if err != nil {
		logging.From(ctx).Debug("session lookup failed", "session_id", params.SessionID, "error", err)
		return errorResult(err)
	}
	return jsonResult(session)
}

func (s *Server) searchMemory(ctx context.Context, req *mcp.CallToolRequest, params *searchMemoryParams) (*mcp.CallToolResult, any, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	var opts []similarity.SearchOption
	if params.MinScore != 0 {
		opts = append(opts, similarity.WithMinScore(params.MinScore))
	}
	if params.Type != "" {
		opts = append(opts, similarity.WithFilter(func(e *model.MemoryEntry) bool {
			t, _ := e.Metadata["type"].(string)
			return t == params.Type
		}))
	}

	hits, err := s.memory.Search(ctx, params.Query, limit, opts...)
	if err != nil {
		return errorResult(err)
	}

	type hit struct {
		ID       model.EntryID  `json:"id"`
		Text     string         `json:"text"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	}
	out := make([]hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, hit{ID: h.Entry.ID, Text: h.Entry.Text, Score: h.Score, Metadata: h.Entry.Metadata})
	}
	return jsonResult(out)
}

func (s *Server) listSessions(ctx context.Context, req *mcp.CallToolRequest, params *listSessionsParams) (*mcp.CallToolResult, any, error) {
	if params.Status != "" {
		if err := model.SessionStatus(params.Status).Validate(); err != nil {
			return errorResult(err)
		}
	}

	sessions := s.log.Sessions()
	out := make([]sessionOverview, 0, len(sessions))
	for _, session := range sessions {
		if params.Status != "" && string(session.Status) != params.Status {
			continue
		}
		out = append(out, sessionOverview{
			ID:          session.ID,
			Query:       session.Query,
			Status:      session.Status,
			StartedAt:   session.StartedAt.Format(time.RFC3339),
			ActionCount: len(session.Actions),
		})
	}
	return jsonResult(out)
}
