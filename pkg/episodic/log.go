package episodic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/fennec/pkg/adapter"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultKey is the storage key of the log document
	DefaultKey = "knowledge_graph.json"

	documentVersion     = "1.0.0"
	documentDescription = "Research agent episodic log"
)

type document struct {
	Metadata documentMetadata               `json:"metadata"`
	Sessions []*model.Session               `json:"sessions"`
	Agents   map[string]*model.AgentSummary `json:"agents"`
	Actions  []*model.Action                `json:"actions"`
}

type documentMetadata struct {
	Created     time.Time `json:"created"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
}

// Log is the append-only record of research sessions and agent actions.
// Every persisting mutation rewrites the whole document to storage.
type Log struct {
	mu sync.Mutex

	storage adapter.Storage
	key     string
	now     func() time.Time
	strict  bool

	doc       *document
	index     map[model.SessionID]*model.Session
	recovered bool
}

// Option is a functional option for Log
type Option func(*Log)

// WithKey sets the storage key of the log document
func WithKey(key string) Option {
	return func(l *Log) {
		l.key = key
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// WithStrictLoad makes Load fail on a corrupt document instead of starting over
func WithStrictLoad() Option {
	return func(l *Log) {
		l.strict = true
	}
}

// New creates an empty log bound to storage. Nothing is read or written.
func New(storage adapter.Storage, opts ...Option) *Log {
	l := &Log{
		storage: storage,
		key:     DefaultKey,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.reset()
	return l
}

// Open creates a log and loads the persisted document if there is one
func Open(ctx context.Context, storage adapter.Storage, opts ...Option) (*Log, error) {
	l := New(storage, opts...)
	if err := l.Load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) reset() {
	l.doc = &document{
		Metadata: documentMetadata{
			Created:     l.now(),
			Version:     documentVersion,
			Description: documentDescription,
		},
		Sessions: []*model.Session{},
		Agents:   map[string]*model.AgentSummary{},
		Actions:  []*model.Action{},
	}
	l.index = map[model.SessionID]*model.Session{}
}

// StartSession creates an active session for query. The new session lives
// in memory only until the next persisting call.
func (l *Log) StartSession(ctx context.Context, query string) (model.SessionID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	session := &model.Session{
		ID:        model.NewSessionID(len(l.doc.Sessions)+1, now),
		Query:     query,
		StartedAt: now,
		Status:    model.SessionStatusActive,
		Actions:   []*model.Action{},
	}
	if _, exists := l.index[session.ID]; exists {
		return "", goerr.New("session id collision", goerr.V("session_id", session.ID))
	}

	l.doc.Sessions = append(l.doc.Sessions, session)
	l.index[session.ID] = session

	logging.From(ctx).Debug("session started", "session_id", session.ID, "query", query)
	return session.ID, nil
}

// LogAction appends an action to the session, the global action list and the
// agent summary, then persists the log. If only the write fails, the action
// stays recorded in memory and an ErrPersistence error is returned.
func (l *Log) LogAction(ctx context.Context, id model.SessionID, agent, actionType string, payload map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	session, ok := l.index[id]
	if !ok {
		return goerr.Wrap(model.ErrUnknownSession, "cannot log action", goerr.V("session_id", id))
	}

	now := l.now()
	action := &model.Action{
		Agent:      agent,
		ActionType: actionType,
		Payload:    model.ClonePayload(payload),
		Timestamp:  now,
		SessionID:  id,
	}

	session.Actions = append(session.Actions, action)
	l.doc.Actions = append(l.doc.Actions, action)

	summary, ok := l.doc.Agents[agent]
	if !ok {
		summary = &model.AgentSummary{FirstSeen: now}
		l.doc.Agents[agent] = summary
	}
	summary.ActionCount++
	summary.LastSeen = now

	return l.persist(ctx)
}

// EndSession moves an active session to a terminal status and persists the log
func (l *Log) EndSession(ctx context.Context, id model.SessionID, status model.SessionStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	session, ok := l.index[id]
	if !ok {
		return goerr.Wrap(model.ErrUnknownSession, "cannot end session", goerr.V("session_id", id))
	}

	if err := status.Validate(); err != nil {
		return goerr.Wrap(err, "cannot end session", goerr.V("session_id", id), goerr.V("status", status))
	}
	if session.Status.Terminal() || !status.Terminal() {
		return goerr.Wrap(model.ErrInvalidStateTransition, "cannot end session",
			goerr.V("session_id", id),
			goerr.V("from", session.Status),
			goerr.V("to", status))
	}

	ended := l.now()
	session.Status = status
	session.EndedAt = &ended

	logging.From(ctx).Debug("session ended", "session_id", id, "status", status)
	return l.persist(ctx)
}

// GetSession returns a copy of the session
func (l *Log) GetSession(id model.SessionID) (*model.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	session, ok := l.index[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrUnknownSession, "session not found", goerr.V("session_id", id))
	}
	return session.Copy(), nil
}

// Sessions returns copies of all sessions in start order
func (l *Log) Sessions() []*model.Session {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessions := make([]*model.Session, len(l.doc.Sessions))
	for i, s := range l.doc.Sessions {
		sessions[i] = s.Copy()
	}
	return sessions
}

// Actions returns copies of all actions in append order
func (l *Log) Actions() []*model.Action {
	l.mu.Lock()
	defer l.mu.Unlock()

	actions := make([]*model.Action, len(l.doc.Actions))
	for i, a := range l.doc.Actions {
		actions[i] = a.Copy()
	}
	return actions
}

// Agents returns a copy of the per-agent summaries
func (l *Log) Agents() map[string]model.AgentSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	agents := make(map[string]model.AgentSummary, len(l.doc.Agents))
	for name, summary := range l.doc.Agents {
		agents[name] = *summary
	}
	return agents
}

// Statistics summarizes the log without modifying it
func (l *Log) Statistics() *model.LogStatistics {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := &model.LogStatistics{
		SessionCount:   len(l.doc.Sessions),
		ActionCount:    len(l.doc.Actions),
		AgentCount:     len(l.doc.Agents),
		PerAgentCounts: make(map[string]int, len(l.doc.Agents)),
		StatusCounts:   make(map[model.SessionStatus]int),
	}

	for name, summary := range l.doc.Agents {
		stats.PerAgentCounts[name] = summary.ActionCount
	}

	for _, s := range l.doc.Sessions {
		stats.StatusCounts[s.Status]++

		started := s.StartedAt
		if stats.EarliestSession == nil || started.Before(*stats.EarliestSession) {
			stats.EarliestSession = &started
		}
		if stats.LatestSession == nil || started.After(*stats.LatestSession) {
			latest := started
			stats.LatestSession = &latest
		}
	}

	return stats
}

// Recovered reports whether the last Load discarded a corrupt document
func (l *Log) Recovered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recovered
}

// Persist writes the whole document to storage
func (l *Log) Persist(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persist(ctx)
}

func (l *Log) persist(ctx context.Context) error {
	data, err := json.MarshalIndent(l.doc, "", "  ")
	if err != nil {
		return goerr.Wrap(model.ErrPersistence, "failed to marshal episodic log",
			goerr.V("key", l.key),
			goerr.V("error", err.Error()))
	}

	if err := adapter.WriteObject(ctx, l.storage, l.key, data); err != nil {
		return goerr.Wrap(model.ErrPersistence, "failed to write episodic log",
			goerr.V("key", l.key),
			goerr.V("error", err.Error()))
	}
	return nil
}

// Load replaces the in-memory state with the persisted document. A missing
// document yields an empty log. A corrupt document is copied aside, logged
// and replaced by an empty log, unless WithStrictLoad is set.
//
// Payloads are decoded as plain JSON: numbers come back as float64 and
// nested objects as map[string]any, whatever Go type was logged.
func (l *Log) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recovered = false

	data, err := adapter.ReadObject(ctx, l.storage, l.key)
	if err != nil {
		if errors.Is(err, adapter.ErrNotFound) {
			l.reset()
			return nil
		}
		return goerr.Wrap(model.ErrPersistence, "failed to read episodic log",
			goerr.V("key", l.key),
			goerr.V("error", err.Error()))
	}

	doc, index, err := decodeDocument(data)
	if err != nil {
		backupKey := fmt.Sprintf("%s.corrupt-%d", l.key, l.now().Unix())
		if l.strict {
			return goerr.Wrap(model.ErrRecoveredFromCorruption, "episodic log is corrupt",
				goerr.V("key", l.key),
				goerr.V("error", err.Error()))
		}

		logger := logging.From(ctx)
		if backupErr := adapter.WriteObject(ctx, l.storage, backupKey, data); backupErr != nil {
			logger.Warn("failed to back up corrupt episodic log", "key", backupKey, "error", backupErr)
			backupKey = ""
		}
		logger.Warn("episodic log is corrupt, starting with an empty log",
			"key", l.key,
			"backup", backupKey,
			"error", err)

		l.reset()
		l.recovered = true
		return nil
	}

	l.doc = doc
	l.index = index
	return nil
}

// decodeDocument parses a persisted log and checks that the session,
// global action and agent count views agree with each other.
func decodeDocument(data []byte) (*document, map[model.SessionID]*model.Session, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, goerr.Wrap(err, "invalid episodic log json")
	}

	if doc.Sessions == nil {
		doc.Sessions = []*model.Session{}
	}
	if doc.Actions == nil {
		doc.Actions = []*model.Action{}
	}
	if doc.Agents == nil {
		doc.Agents = map[string]*model.AgentSummary{}
	}

	index := make(map[model.SessionID]*model.Session, len(doc.Sessions))
	sessionActions := 0
	for _, s := range doc.Sessions {
		if s == nil || s.ID == "" {
			return nil, nil, goerr.New("session without id")
		}
		if _, dup := index[s.ID]; dup {
			return nil, nil, goerr.New("duplicated session id", goerr.V("session_id", s.ID))
		}
		if err := s.Status.Validate(); err != nil {
			return nil, nil, goerr.Wrap(err, "invalid session", goerr.V("session_id", s.ID))
		}
		if s.Actions == nil {
			s.Actions = []*model.Action{}
		}
		for _, a := range s.Actions {
			if a == nil {
				return nil, nil, goerr.New("null action in session", goerr.V("session_id", s.ID))
			}
			if a.SessionID != s.ID {
				return nil, nil, goerr.New("session holds action of another session",
					goerr.V("session_id", s.ID),
					goerr.V("action_session_id", a.SessionID))
			}
		}
		index[s.ID] = s
		sessionActions += len(s.Actions)
	}

	if sessionActions != len(doc.Actions) {
		return nil, nil, goerr.New("session actions do not match global actions",
			goerr.V("session_actions", sessionActions),
			goerr.V("global_actions", len(doc.Actions)))
	}

	counts := map[string]int{}
	perSession := map[model.SessionID]int{}
	for _, a := range doc.Actions {
		if a == nil {
			return nil, nil, goerr.New("null action in global list")
		}
		if _, ok := index[a.SessionID]; !ok {
			return nil, nil, goerr.New("action refers to unknown session", goerr.V("session_id", a.SessionID))
		}
		counts[a.Agent]++
		perSession[a.SessionID]++
	}
	for id, s := range index {
		if perSession[id] != len(s.Actions) {
			return nil, nil, goerr.New("session actions do not match global actions",
				goerr.V("session_id", id),
				goerr.V("session_actions", len(s.Actions)),
				goerr.V("global_actions", perSession[id]))
		}
	}
	for agent, n := range counts {
		summary, ok := doc.Agents[agent]
		if !ok || summary == nil || summary.ActionCount != n {
			return nil, nil, goerr.New("agent count mismatch", goerr.V("agent", agent), goerr.V("actions", n))
		}
	}
	if len(counts) != len(doc.Agents) {
		names := make([]string, 0, len(doc.Agents))
		for name := range doc.Agents {
			if _, ok := counts[name]; !ok {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		return nil, nil, goerr.New("agent summary without actions", goerr.V("agents", names))
	}

	return &doc, index, nil
}
