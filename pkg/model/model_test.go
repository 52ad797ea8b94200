package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestNewSessionID(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	gt.Equal(t, model.NewSessionID(3, now), model.SessionID("session_3_1709285400"))
}

func TestSessionStatus(t *testing.T) {
	gt.NoError(t, model.SessionStatusActive.Validate())
	gt.NoError(t, model.SessionStatusFailed.Validate())
	gt.True(t, errors.Is(model.SessionStatus("paused").Validate(), model.ErrInvalidSessionStatus))

	gt.False(t, model.SessionStatusActive.Terminal())
	gt.True(t, model.SessionStatusCompleted.Terminal())
	gt.True(t, model.SessionStatusFailed.Terminal())
}

func TestSubtaskTypeValidate(t *testing.T) {
	gt.NoError(t, model.SubtaskTypeSearch.Validate())
	gt.True(t, errors.Is(model.SubtaskType("browse").Validate(), model.ErrInvalidSubtaskType))
}

func TestSessionCopy(t *testing.T) {
	ended := time.Now()
	orig := &model.Session{
		ID:      "s1",
		Status:  model.SessionStatusCompleted,
		EndedAt: &ended,
		Actions: []*model.Action{{Agent: "PlannerAgent"}},
	}

	c := orig.Copy()
	c.Actions = append(c.Actions, &model.Action{Agent: "SearchAgent"})
	*c.EndedAt = ended.Add(time.Hour)

	gt.A(t, orig.Actions).Length(1)
	gt.Equal(t, *orig.EndedAt, ended)
}

func TestSessionCopyIsolatesActions(t *testing.T) {
	orig := &model.Session{
		ID:      "s1",
		Status:  model.SessionStatusActive,
		Actions: []*model.Action{{Agent: "SearchAgent", Payload: map[string]any{"n": 3}}},
	}

	c := orig.Copy()
	c.Actions[0].Agent = "Other"
	c.Actions[0].Payload["n"] = 4

	gt.Equal(t, orig.Actions[0].Agent, "SearchAgent")
	gt.Equal(t, orig.Actions[0].Payload["n"], any(3))
}

func TestMemoryEntryCopy(t *testing.T) {
	orig := &model.MemoryEntry{
		ID:        1,
		Text:      "finding",
		Embedding: []float32{1, 0},
		Metadata:  map[string]any{"type": "key_finding"},
	}

	c := orig.Copy()
	c.Embedding[0] = 9
	c.Metadata["type"] = "changed"

	gt.Equal(t, orig.Embedding[0], float32(1))
	gt.Equal(t, orig.Metadata["type"], any("key_finding"))
}

func TestClonePayload(t *testing.T) {
	gt.Equal(t, len(model.ClonePayload(nil)), 0)
	gt.V(t, model.ClonePayload(nil)).NotNil()

	src := map[string]any{"query": "solar"}
	c := model.ClonePayload(src)
	c["query"] = "wind"
	gt.Equal(t, src["query"], any("solar"))
}
