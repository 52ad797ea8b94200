package episodic_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/fennec/pkg/adapter"
	"github.com/m-mizutani/fennec/pkg/episodic"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/gt"
)

// stepClock returns a clock that advances one second per call
func stepClock() func() time.Time {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

type brokenStorage struct{}

func (brokenStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return nil, errors.New("disk full")
}

func (brokenStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("permission denied")
}

func TestStartSession(t *testing.T) {
	ctx := context.Background()
	log := episodic.New(adapter.NewFileStorage(t.TempDir()), episodic.WithClock(stepClock()))

	id1, err := log.StartSession(ctx, "quantum computing")
	gt.NoError(t, err)
	id2, err := log.StartSession(ctx, "quantum computing")
	gt.NoError(t, err)
	gt.NotEqual(t, id1, id2)
	gt.True(t, strings.HasPrefix(string(id1), "session_1_"))
	gt.True(t, strings.HasPrefix(string(id2), "session_2_"))

	session, err := log.GetSession(id1)
	gt.NoError(t, err)
	gt.Equal(t, session.Status, model.SessionStatusActive)
	gt.Equal(t, session.Query, "quantum computing")
	gt.A(t, session.Actions).Length(0)
	gt.Nil(t, session.EndedAt)
}

func TestStartSessionIsNotPersistedUntilFlush(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log := episodic.New(adapter.NewFileStorage(dir))

	_, err := log.StartSession(ctx, "q")
	gt.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, episodic.DefaultKey))
	gt.True(t, os.IsNotExist(err))

	gt.NoError(t, log.Persist(ctx))
	_, err = os.Stat(filepath.Join(dir, episodic.DefaultKey))
	gt.NoError(t, err)
}

func TestLogAction(t *testing.T) {
	ctx := context.Background()
	log := episodic.New(adapter.NewFileStorage(t.TempDir()), episodic.WithClock(stepClock()))

	id, err := log.StartSession(ctx, "q")
	gt.NoError(t, err)

	payload := map[string]any{"query": "q"}
	gt.NoError(t, log.LogAction(ctx, id, "SearchAgent", "search_started", payload))
	gt.NoError(t, log.LogAction(ctx, id, "SearchAgent", "search_completed", map[string]any{"results_count": 5}))
	gt.NoError(t, log.LogAction(ctx, id, "SummarizerAgent", "summarize_started", nil))

	// mutating the caller's map must not change the recorded action
	payload["query"] = "changed"

	session, err := log.GetSession(id)
	gt.NoError(t, err)
	gt.A(t, session.Actions).Length(3)
	gt.Equal(t, session.Actions[0].Payload["query"], "q")
	gt.Equal(t, session.Actions[2].Agent, "SummarizerAgent")
	gt.Equal(t, session.Actions[2].SessionID, id)

	actions := log.Actions()
	gt.A(t, actions).Length(3)
	gt.Equal(t, actions[1].ActionType, "search_completed")

	agents := log.Agents()
	gt.Equal(t, agents["SearchAgent"].ActionCount, 2)
	gt.True(t, agents["SearchAgent"].LastSeen.After(agents["SearchAgent"].FirstSeen))
	gt.Equal(t, agents["SummarizerAgent"].ActionCount, 1)

	// agent counts sum to the global action count
	total := 0
	for _, a := range agents {
		total += a.ActionCount
	}
	gt.Equal(t, total, len(actions))
}

func TestLogActionUnknownSession(t *testing.T) {
	ctx := context.Background()
	log := episodic.New(adapter.NewFileStorage(t.TempDir()))

	err := log.LogAction(ctx, "session_99_0", "SearchAgent", "search_started", nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrUnknownSession))
	gt.A(t, log.Actions()).Length(0)
	gt.Equal(t, log.Statistics().AgentCount, 0)
}

func TestLogActionAfterEnd(t *testing.T) {
	ctx := context.Background()
	log := episodic.New(adapter.NewFileStorage(t.TempDir()))

	id, err := log.StartSession(ctx, "q")
	gt.NoError(t, err)
	gt.NoError(t, log.EndSession(ctx, id, model.SessionStatusCompleted))
	gt.NoError(t, log.LogAction(ctx, id, "WriterAgent", "late_note", nil))

	session, err := log.GetSession(id)
	gt.NoError(t, err)
	gt.Equal(t, session.Status, model.SessionStatusCompleted)
	gt.A(t, session.Actions).Length(1)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()

	t.Run("completes active session", func(t *testing.T) {
		log := episodic.New(adapter.NewFileStorage(t.TempDir()), episodic.WithClock(stepClock()))
		id, err := log.StartSession(ctx, "q")
		gt.NoError(t, err)

		gt.NoError(t, log.EndSession(ctx, id, model.SessionStatusCompleted))
		session, err := log.GetSession(id)
		gt.NoError(t, err)
		gt.Equal(t, session.Status, model.SessionStatusCompleted)
		gt.V(t, session.EndedAt).NotNil()
		gt.True(t, session.EndedAt.After(session.StartedAt))
	})

	t.Run("twice is rejected", func(t *testing.T) {
		log := episodic.New(adapter.NewFileStorage(t.TempDir()))
		id, err := log.StartSession(ctx, "q")
		gt.NoError(t, err)

		gt.NoError(t, log.EndSession(ctx, id, model.SessionStatusFailed))
		err = log.EndSession(ctx, id, model.SessionStatusCompleted)
		gt.True(t, errors.Is(err, model.ErrInvalidStateTransition))

		session, err := log.GetSession(id)
		gt.NoError(t, err)
		gt.Equal(t, session.Status, model.SessionStatusFailed)
	})

	t.Run("back to active is rejected", func(t *testing.T) {
		log := episodic.New(adapter.NewFileStorage(t.TempDir()))
		id, err := log.StartSession(ctx, "q")
		gt.NoError(t, err)

		err = log.EndSession(ctx, id, model.SessionStatusActive)
		gt.True(t, errors.Is(err, model.ErrInvalidStateTransition))
	})

	t.Run("unknown status", func(t *testing.T) {
		log := episodic.New(adapter.NewFileStorage(t.TempDir()))
		id, err := log.StartSession(ctx, "q")
		gt.NoError(t, err)

		err = log.EndSession(ctx, id, model.SessionStatus("paused"))
		gt.True(t, errors.Is(err, model.ErrInvalidSessionStatus))
	})

	t.Run("unknown session", func(t *testing.T) {
		log := episodic.New(adapter.NewFileStorage(t.TempDir()))
		err := log.EndSession(ctx, "session_1_1", model.SessionStatusCompleted)
		gt.True(t, errors.Is(err, model.ErrUnknownSession))
	})
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	log := episodic.New(adapter.NewFileStorage(t.TempDir()), episodic.WithClock(stepClock()))

	empty := log.Statistics()
	gt.Equal(t, empty.SessionCount, 0)
	gt.Equal(t, empty.ActionCount, 0)
	gt.Nil(t, empty.EarliestSession)

	id1, err := log.StartSession(ctx, "first")
	gt.NoError(t, err)
	id2, err := log.StartSession(ctx, "second")
	gt.NoError(t, err)

	gt.NoError(t, log.LogAction(ctx, id1, "PlannerAgent", "plan_created", nil))
	gt.NoError(t, log.LogAction(ctx, id2, "PlannerAgent", "plan_created", nil))
	gt.NoError(t, log.LogAction(ctx, id2, "WriterAgent", "report_written", nil))
	gt.NoError(t, log.EndSession(ctx, id1, model.SessionStatusCompleted))

	stats := log.Statistics()
	gt.Equal(t, stats.SessionCount, 2)
	gt.Equal(t, stats.ActionCount, 3)
	gt.Equal(t, stats.AgentCount, 2)
	gt.Equal(t, stats.PerAgentCounts["PlannerAgent"], 2)
	gt.Equal(t, stats.PerAgentCounts["WriterAgent"], 1)
	gt.Equal(t, stats.StatusCounts[model.SessionStatusCompleted], 1)
	gt.Equal(t, stats.StatusCounts[model.SessionStatusActive], 1)

	s1, err := log.GetSession(id1)
	gt.NoError(t, err)
	s2, err := log.GetSession(id2)
	gt.NoError(t, err)
	gt.True(t, stats.EarliestSession.Equal(s1.StartedAt))
	gt.True(t, stats.LatestSession.Equal(s2.StartedAt))

	// reading statistics does not change them
	again := log.Statistics()
	gt.Equal(t, again.ActionCount, stats.ActionCount)
}

func TestPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	storage := adapter.NewFileStorage(t.TempDir())
	log := episodic.New(storage, episodic.WithClock(stepClock()))

	id, err := log.StartSession(ctx, "machine learning")
	gt.NoError(t, err)
	gt.NoError(t, log.LogAction(ctx, id, "SearchAgent", "search_completed", map[string]any{"results_count": "5"}))
	gt.NoError(t, log.EndSession(ctx, id, model.SessionStatusCompleted))

	loaded, err := episodic.Open(ctx, storage)
	gt.NoError(t, err)
	gt.False(t, loaded.Recovered())

	session, err := loaded.GetSession(id)
	gt.NoError(t, err)
	gt.Equal(t, session.Query, "machine learning")
	gt.Equal(t, session.Status, model.SessionStatusCompleted)
	gt.A(t, session.Actions).Length(1)
	gt.Equal(t, session.Actions[0].Payload["results_count"], "5")

	orig := log.Statistics()
	stats := loaded.Statistics()
	gt.Equal(t, stats.SessionCount, orig.SessionCount)
	gt.Equal(t, stats.ActionCount, orig.ActionCount)
	gt.Equal(t, stats.PerAgentCounts, orig.PerAgentCounts)

	// a new session after reload does not collide with loaded ones
	next, err := loaded.StartSession(ctx, "next")
	gt.NoError(t, err)
	gt.NotEqual(t, next, id)
}

func TestPersistAndLoadManySessions(t *testing.T) {
	ctx := context.Background()
	storage := adapter.NewFileStorage(t.TempDir())
	log := episodic.New(storage, episodic.WithClock(stepClock()))

	steps := []struct{ agent, action string }{
		{"PlannerAgent", "plan_created"},
		{"SearchAgent", "search_completed"},
		{"AnalysisAgent", "analysis_completed"},
	}
	var ids []model.SessionID
	for _, query := range []string{"quantum computing", "protein folding"} {
		id, err := log.StartSession(ctx, query)
		gt.NoError(t, err)
		for _, step := range steps {
			gt.NoError(t, log.LogAction(ctx, id, step.agent, step.action, map[string]any{"n": 3}))
		}
		ids = append(ids, id)
	}
	gt.NoError(t, log.EndSession(ctx, ids[0], model.SessionStatusCompleted))

	loaded, err := episodic.Open(ctx, storage)
	gt.NoError(t, err)
	gt.False(t, loaded.Recovered())

	sessions := loaded.Sessions()
	gt.A(t, sessions).Length(2)
	gt.Equal(t, sessions[0].ID, ids[0])
	gt.Equal(t, sessions[1].ID, ids[1])
	gt.Equal(t, sessions[0].Status, model.SessionStatusCompleted)
	gt.Equal(t, sessions[1].Status, model.SessionStatusActive)
	for _, session := range sessions {
		gt.A(t, session.Actions).Length(len(steps))
		for i, step := range steps {
			gt.Equal(t, session.Actions[i].Agent, step.agent)
			gt.Equal(t, session.Actions[i].ActionType, step.action)
			gt.Equal(t, session.Actions[i].SessionID, session.ID)
		}
	}

	// numbers come back as float64 but encode to the same JSON
	actions := loaded.Actions()
	gt.A(t, actions).Length(2 * len(steps))
	gt.Equal(t, actions[0].Payload["n"], any(float64(3)))

	want, err := json.Marshal(log.Actions())
	gt.NoError(t, err)
	got, err := json.Marshal(actions)
	gt.NoError(t, err)
	gt.Equal(t, string(got), string(want))

	wantSessions, err := json.Marshal(log.Sessions())
	gt.NoError(t, err)
	gotSessions, err := json.Marshal(sessions)
	gt.NoError(t, err)
	gt.Equal(t, string(gotSessions), string(wantSessions))
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	log := episodic.New(adapter.NewFileStorage(t.TempDir()), episodic.WithClock(stepClock()))

	id, err := log.StartSession(ctx, "q")
	gt.NoError(t, err)
	gt.NoError(t, log.LogAction(ctx, id, "SearchAgent", "search_completed", map[string]any{"results_count": "5"}))

	session, err := log.GetSession(id)
	gt.NoError(t, err)
	session.Actions[0].Payload["results_count"] = "999"
	session.Actions[0].Agent = "Intruder"

	actions := log.Actions()
	actions[0].Payload["extra"] = true

	fresh, err := log.GetSession(id)
	gt.NoError(t, err)
	gt.Equal(t, fresh.Actions[0].Payload["results_count"], "5")
	gt.Equal(t, fresh.Actions[0].Agent, "SearchAgent")

	again := log.Actions()
	gt.Equal(t, again[0].Payload["results_count"], "5")
	_, ok := again[0].Payload["extra"]
	gt.False(t, ok)
}

func TestLoadMissingDocument(t *testing.T) {
	ctx := context.Background()
	log, err := episodic.Open(ctx, adapter.NewFileStorage(t.TempDir()))
	gt.NoError(t, err)
	gt.Equal(t, log.Statistics().SessionCount, 0)
	gt.False(t, log.Recovered())
}

func TestLoadCorruptDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers with empty log and backup", func(t *testing.T) {
		dir := t.TempDir()
		gt.NoError(t, os.WriteFile(filepath.Join(dir, episodic.DefaultKey), []byte("{not json"), 0o644))

		log, err := episodic.Open(ctx, adapter.NewFileStorage(dir))
		gt.NoError(t, err)
		gt.True(t, log.Recovered())
		gt.Equal(t, log.Statistics().SessionCount, 0)

		backups, err := filepath.Glob(filepath.Join(dir, episodic.DefaultKey+".corrupt-*"))
		gt.NoError(t, err)
		gt.A(t, backups).Length(1)
		raw, err := os.ReadFile(backups[0])
		gt.NoError(t, err)
		gt.Equal(t, string(raw), "{not json")
	})

	t.Run("inconsistent counts are corrupt", func(t *testing.T) {
		dir := t.TempDir()
		doc := `{"metadata":{},"sessions":[{"id":"session_1_1","query":"q","status":"active","actions":[]}],
"agents":{"SearchAgent":{"action_count":3}},"actions":[]}`
		gt.NoError(t, os.WriteFile(filepath.Join(dir, episodic.DefaultKey), []byte(doc), 0o644))

		log, err := episodic.Open(ctx, adapter.NewFileStorage(dir))
		gt.NoError(t, err)
		gt.True(t, log.Recovered())
	})

	corrupt := map[string]string{
		"null actions": `{"sessions":[{"id":"s1","status":"active","actions":[null]}],"actions":[null],"agents":{}}`,
		"null action in global list only": `{"sessions":[{"id":"s1","status":"active","actions":[]}],"actions":[null],"agents":{}}`,
		"null agent summary": `{"sessions":[{"id":"s1","status":"active","actions":[{"agent":"A","action":"x","session_id":"s1"}]}],
"actions":[{"agent":"A","action":"x","session_id":"s1"}],"agents":{"A":null}}`,
		"misattributed action": `{"sessions":[{"id":"s1","status":"active","actions":[{"agent":"A","action":"x","session_id":"s2"}]},
{"id":"s2","status":"active","actions":[]}],
"actions":[{"agent":"A","action":"x","session_id":"s2"}],"agents":{"A":{"action_count":1}}}`,
		"per session counts differ": `{"sessions":[{"id":"s1","status":"active","actions":[{"agent":"A","action":"x","session_id":"s1"}]},
{"id":"s2","status":"active","actions":[]}],
"actions":[{"agent":"A","action":"x","session_id":"s2"}],"agents":{"A":{"action_count":1}}}`,
	}
	for name, doc := range corrupt {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			gt.NoError(t, os.WriteFile(filepath.Join(dir, episodic.DefaultKey), []byte(doc), 0o644))

			log, err := episodic.Open(ctx, adapter.NewFileStorage(dir))
			gt.NoError(t, err)
			gt.True(t, log.Recovered())
			gt.Equal(t, log.Statistics().SessionCount, 0)
			gt.Equal(t, log.Statistics().ActionCount, 0)

			_, err = episodic.Open(ctx, adapter.NewFileStorage(dir), episodic.WithStrictLoad())
			gt.True(t, errors.Is(err, model.ErrRecoveredFromCorruption))
		})
	}

	t.Run("strict load fails", func(t *testing.T) {
		dir := t.TempDir()
		gt.NoError(t, os.WriteFile(filepath.Join(dir, episodic.DefaultKey), []byte("[]"), 0o644))

		_, err := episodic.Open(ctx, adapter.NewFileStorage(dir), episodic.WithStrictLoad())
		gt.True(t, errors.Is(err, model.ErrRecoveredFromCorruption))
	})
}

func TestPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	log := episodic.New(brokenStorage{})

	id, err := log.StartSession(ctx, "q")
	gt.NoError(t, err)

	err = log.LogAction(ctx, id, "SearchAgent", "search_started", nil)
	gt.True(t, errors.Is(err, model.ErrPersistence))
	// the action is still recorded in memory
	gt.Equal(t, log.Statistics().ActionCount, 1)

	err = log.Load(ctx)
	gt.True(t, errors.Is(err, model.ErrPersistence))
}

func TestResearchSessionScenario(t *testing.T) {
	ctx := context.Background()
	storage := adapter.NewFileStorage(t.TempDir())
	log := episodic.New(storage, episodic.WithClock(stepClock()))

	id, err := log.StartSession(ctx, "artificial intelligence")
	gt.NoError(t, err)

	steps := []struct{ agent, action string }{
		{"PlannerAgent", "plan_created"},
		{"SearchAgent", "search_started"},
		{"SearchAgent", "search_completed"},
		{"SummarizerAgent", "summarize_completed"},
		{"WriterAgent", "report_written"},
	}
	for _, s := range steps {
		gt.NoError(t, log.LogAction(ctx, id, s.agent, s.action, map[string]any{"query": "artificial intelligence"}))
	}
	gt.NoError(t, log.EndSession(ctx, id, model.SessionStatusCompleted))

	reloaded, err := episodic.Open(ctx, storage)
	gt.NoError(t, err)

	stats := reloaded.Statistics()
	gt.Equal(t, stats.SessionCount, 1)
	gt.Equal(t, stats.ActionCount, 5)
	gt.Equal(t, stats.AgentCount, 4)
	gt.Equal(t, stats.PerAgentCounts["SearchAgent"], 2)
	gt.Equal(t, stats.StatusCounts[model.SessionStatusCompleted], 1)
}

func TestSingleActionSession(t *testing.T) {
	ctx := context.Background()
	log := episodic.New(adapter.NewFileStorage(t.TempDir()))

	id, err := log.StartSession(ctx, "test")
	gt.NoError(t, err)
	gt.NoError(t, log.LogAction(ctx, id, "Planner", "decompose", map[string]any{"n": 3}))
	gt.NoError(t, log.EndSession(ctx, id, model.SessionStatusCompleted))

	stats := log.Statistics()
	gt.Equal(t, stats.SessionCount, 1)
	gt.Equal(t, stats.ActionCount, 1)
	gt.Equal(t, stats.PerAgentCounts["Planner"], 1)
}
