package tui_test

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/service/tui"
	"github.com/m-mizutani/gt"
)

func testSessions() []*model.Session {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ended := base.Add(time.Minute)
	return []*model.Session{
		{
			ID:        model.NewSessionID(1, base),
			Query:     "solar panels",
			StartedAt: base,
			Status:    model.SessionStatusCompleted,
			EndedAt:   &ended,
			Actions: []*model.Action{
				{Agent: "PlannerAgent", ActionType: "planning_started", Payload: map[string]any{"query": "solar panels"}, Timestamp: base},
			},
		},
		{
			ID:        model.NewSessionID(2, base.Add(time.Hour)),
			Query:     "wind power",
			StartedAt: base.Add(time.Hour),
			Status:    model.SessionStatusFailed,
		},
		{
			ID:        model.NewSessionID(3, base.Add(2*time.Hour)),
			Query:     "solar storage",
			StartedAt: base.Add(2 * time.Hour),
			Status:    model.SessionStatusActive,
		},
	}
}

func press(t *testing.T, b tui.Browser, keys ...tea.KeyMsg) tui.Browser {
	for _, key := range keys {
		m, _ := b.Update(key)
		var ok bool
		b, ok = m.(tui.Browser)
		gt.True(t, ok)
	}
	return b
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBrowserNewestFirst(t *testing.T) {
	b := tui.NewBrowser(testSessions())
	list := b.Filtered()
	gt.A(t, list).Length(3)
	gt.Equal(t, list[0].Query, "solar storage")
	gt.Equal(t, list[2].Query, "solar panels")
	gt.Equal(t, b.Selected().Query, "solar storage")
}

func TestBrowserStatusFilter(t *testing.T) {
	b := tui.NewBrowser(testSessions())

	b = press(t, b, tea.KeyMsg{Type: tea.KeyTab})
	gt.A(t, b.Filtered()).Length(1)
	gt.Equal(t, b.Filtered()[0].Status, model.SessionStatusActive)

	b = press(t, b, tea.KeyMsg{Type: tea.KeyTab})
	gt.A(t, b.Filtered()).Length(1)
	gt.Equal(t, b.Filtered()[0].Status, model.SessionStatusCompleted)

	b = press(t, b, tea.KeyMsg{Type: tea.KeyTab}, tea.KeyMsg{Type: tea.KeyTab})
	gt.A(t, b.Filtered()).Length(3)
}

func TestBrowserSearch(t *testing.T) {
	b := tui.NewBrowser(testSessions())

	b = press(t, b, runes("/"), runes("s"), runes("o"), runes("l"))
	gt.A(t, b.Filtered()).Length(2)
	gt.True(t, strings.Contains(b.View(), "Search:"))

	b = press(t, b, tea.KeyMsg{Type: tea.KeyEnter})
	gt.A(t, b.Filtered()).Length(2)
	gt.True(t, strings.Contains(b.View(), "q: quit"))
}

func TestBrowserDetail(t *testing.T) {
	b := tui.NewBrowser(testSessions())

	b = press(t, b, runes("j"), runes("j"), tea.KeyMsg{Type: tea.KeyEnter})
	gt.V(t, b.Detail()).NotNil()
	gt.Equal(t, b.Detail().Query, "solar panels")

	view := b.View()
	gt.True(t, strings.Contains(view, "planning_started"))
	gt.True(t, strings.Contains(view, "PlannerAgent"))

	b = press(t, b, tea.KeyMsg{Type: tea.KeyEsc})
	gt.Nil(t, b.Detail())
	gt.Equal(t, b.Selected().Query, "solar panels")
}

func TestBrowserEmpty(t *testing.T) {
	b := tui.NewBrowser(nil)
	gt.Nil(t, b.Selected())

	b = press(t, b, tea.KeyMsg{Type: tea.KeyEnter}, runes("j"))
	gt.Nil(t, b.Detail())
	gt.True(t, strings.Contains(b.View(), "0 sessions"))
}
