package model

import (
	"fmt"
	"maps"
	"time"
)

type SessionID string

// NewSessionID builds a session ID from the 1-based sequence number of the
// session within its log and the wall clock time.
func NewSessionID(seq int, now time.Time) SessionID {
	return SessionID(fmt.Sprintf("session_%d_%d", seq, now.Unix()))
}

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Validate checks if the status is known
func (s SessionStatus) Validate() error {
	switch s {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusFailed:
		return nil
	default:
		return ErrInvalidSessionStatus
	}
}

// Terminal reports whether no further transition is allowed from s
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Session is one research run recorded in the episodic log
type Session struct {
	ID        SessionID     `json:"id"`
	Query     string        `json:"query"`
	StartedAt time.Time     `json:"started_at"`
	Status    SessionStatus `json:"status"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Actions   []*Action     `json:"actions"`
}

// Copy returns a copy of the session with every action copied as well
func (s *Session) Copy() *Session {
	c := *s
	if s.EndedAt != nil {
		ended := *s.EndedAt
		c.EndedAt = &ended
	}
	c.Actions = make([]*Action, len(s.Actions))
	for i, a := range s.Actions {
		c.Actions[i] = a.Copy()
	}
	return &c
}

// Action is a single agent activity appended to a session
type Action struct {
	Agent      string         `json:"agent"`
	ActionType string         `json:"action"`
	Payload    map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
	SessionID  SessionID      `json:"session_id"`
}

// Copy returns a copy of the action; the payload is copied one level deep
func (a *Action) Copy() *Action {
	c := *a
	c.Payload = ClonePayload(a.Payload)
	return &c
}

// AgentSummary is the running per-agent activity record kept by the log
type AgentSummary struct {
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	ActionCount int       `json:"action_count"`
}

// LogStatistics is a read-only view over the episodic log
type LogStatistics struct {
	SessionCount    int                   `json:"session_count"`
	ActionCount     int                   `json:"action_count"`
	AgentCount      int                   `json:"agent_count"`
	PerAgentCounts  map[string]int        `json:"per_agent_counts"`
	StatusCounts    map[SessionStatus]int `json:"status_counts"`
	EarliestSession *time.Time            `json:"earliest_session,omitempty"`
	LatestSession   *time.Time            `json:"latest_session,omitempty"`
}

// ClonePayload copies the top level of an action payload so that callers
// cannot mutate a logged action through the map they passed in.
func ClonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return maps.Clone(payload)
}
