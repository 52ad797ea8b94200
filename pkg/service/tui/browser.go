package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/m-mizutani/fennec/pkg/model"
)

type mode int

const (
	modeList mode = iota
	modeSearch
	modeDetail
)

var statusFilters = []string{"all", "active", "completed", "failed"}

// Browser is a bubbletea model listing research sessions of the episodic
// log, newest first, with a text filter and a per-session action view.
type Browser struct {
	sessions    []*model.Session
	filtered    []*model.Session
	cursor      int
	offset      int
	width       int
	height      int
	mode        mode
	searchInput textinput.Model
	filter      int

	detail       *model.Session
	detailLines  []string
	detailOffset int
}

// NewBrowser creates a Browser over sessions. The slice is not modified.
func NewBrowser(sessions []*model.Session) Browser {
	sorted := make([]*model.Session, len(sessions))
	for i, s := range sessions {
		sorted[len(sessions)-1-i] = s
	}

	si := textinput.New()
	si.Placeholder = "search..."
	si.CharLimit = 100

	b := Browser{
		sessions:    sorted,
		searchInput: si,
		width:       120,
		height:      30,
	}
	b.applyFilter()
	return b
}

// Filtered returns the sessions currently shown in the list
func (b Browser) Filtered() []*model.Session {
	return b.filtered
}

// Selected returns the session under the cursor, or nil if the list is empty
func (b Browser) Selected() *model.Session {
	if len(b.filtered) == 0 {
		return nil
	}
	return b.filtered[b.cursor]
}

// Detail returns the session opened in the detail view, if any
func (b Browser) Detail() *model.Session {
	if b.mode != modeDetail {
		return nil
	}
	return b.detail
}

func (b *Browser) applyFilter() {
	b.filtered = nil
	search := strings.ToLower(b.searchInput.Value())
	status := statusFilters[b.filter]

	for _, s := range b.sessions {
		if status != "all" && string(s.Status) != status {
			continue
		}
		if search != "" {
			haystack := strings.ToLower(s.Query + " " + string(s.ID))
			if !strings.Contains(haystack, search) {
				continue
			}
		}
		b.filtered = append(b.filtered, s)
	}

	if b.cursor >= len(b.filtered) {
		b.cursor = max(0, len(b.filtered)-1)
	}
	b.clampOffset()
}

func (b Browser) Init() tea.Cmd {
	return nil
}

func (b Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width = msg.Width
		b.height = msg.Height
		b.clampOffset()
		return b, nil

	case tea.KeyMsg:
		switch b.mode {
		case modeList:
			return b.updateList(msg)
		case modeSearch:
			return b.updateSearch(msg)
		case modeDetail:
			return b.updateDetail(msg)
		}
	}
	return b, nil
}

func (b Browser) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return b, tea.Quit

	case "up", "k":
		if b.cursor > 0 {
			b.cursor--
			b.clampOffset()
		}

	case "down", "j":
		if b.cursor < len(b.filtered)-1 {
			b.cursor++
			b.clampOffset()
		}

	case "home", "g":
		b.cursor = 0
		b.clampOffset()

	case "end", "G":
		b.cursor = max(0, len(b.filtered)-1)
		b.clampOffset()

	case "enter":
		if s := b.Selected(); s != nil {
			b.detail = s
			b.detailLines = renderActions(s)
			b.detailOffset = 0
			b.mode = modeDetail
		}

	case "/":
		b.searchInput.Focus()
		b.mode = modeSearch

	case "tab":
		b.filter = (b.filter + 1) % len(statusFilters)
		b.applyFilter()
	}

	return b, nil
}

func (b Browser) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		b.searchInput.Blur()
		b.mode = modeList
		return b, nil
	}

	var cmd tea.Cmd
	b.searchInput, cmd = b.searchInput.Update(msg)
	b.applyFilter()
	return b, cmd
}

func (b Browser) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return b, tea.Quit
	case "esc", "q":
		b.mode = modeList
		b.detail = nil
	case "up", "k":
		if b.detailOffset > 0 {
			b.detailOffset--
		}
	case "down", "j":
		if b.detailOffset < len(b.detailLines)-1 {
			b.detailOffset++
		}
	}
	return b, nil
}

func renderActions(s *model.Session) []string {
	lines := []string{
		fmt.Sprintf("Query:   %s", s.Query),
		fmt.Sprintf("Status:  %s", StatusTag(string(s.Status))),
		fmt.Sprintf("Started: %s", s.StartedAt.Format("2006-01-02 15:04:05")),
	}
	if s.EndedAt != nil {
		lines = append(lines, fmt.Sprintf("Ended:   %s", s.EndedAt.Format("2006-01-02 15:04:05")))
	}
	lines = append(lines, "")

	if len(s.Actions) == 0 {
		return append(lines, dimStyle.Render("no actions recorded"))
	}

	for i, a := range s.Actions {
		lines = append(lines, fmt.Sprintf("%3d %s %s %s",
			i+1,
			dimStyle.Render(a.Timestamp.Format("15:04:05")),
			agentStyle.Render(a.Agent),
			a.ActionType))
		if len(a.Payload) > 0 {
			data, err := json.Marshal(a.Payload)
			if err == nil {
				lines = append(lines, "    "+dimStyle.Render(truncate(string(data), 160)))
			}
		}
	}
	return lines
}

func (b Browser) View() string {
	if b.mode == modeDetail && b.detail != nil {
		return b.viewDetail()
	}

	var sb strings.Builder

	title := titleStyle.Render("fennec sessions")
	info := dimStyle.Render(fmt.Sprintf("  [%s]  %d sessions", statusFilters[b.filter], len(b.filtered)))
	sb.WriteString(title + info + "\n")
	sb.WriteString(b.renderHeader() + "\n")

	visible := b.visibleRows()
	end := min(b.offset+visible, len(b.filtered))
	for i := b.offset; i < end; i++ {
		sb.WriteString(b.renderRow(b.filtered[i], i == b.cursor) + "\n")
	}
	for i := end - b.offset; i < visible; i++ {
		sb.WriteString("\n")
	}

	if b.mode == modeSearch {
		sb.WriteString(statusBarStyle.Render("Search: ") + b.searchInput.View())
	} else {
		sb.WriteString(helpStyle.Render("  Enter: actions  /: search  Tab: status  q: quit"))
	}

	return sb.String()
}

func (b Browser) viewDetail() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(string(b.detail.ID)) + "\n")

	visible := b.visibleRows()
	end := min(b.detailOffset+visible, len(b.detailLines))
	for _, line := range b.detailLines[b.detailOffset:end] {
		sb.WriteString(line + "\n")
	}
	for i := end - b.detailOffset; i < visible; i++ {
		sb.WriteString("\n")
	}

	sb.WriteString(helpStyle.Render("  j/k: scroll  Esc: back"))
	return sb.String()
}

type colWidths struct {
	id      int
	status  int
	started int
	actions int
	query   int
}

func (b Browser) colWidths() colWidths {
	w := colWidths{
		id:      30,
		status:  10,
		started: 12,
		actions: 7,
	}
	used := w.id + w.status + w.started + w.actions + 6
	w.query = max(20, b.width-used)
	return w
}

func (b Browser) renderHeader() string {
	w := b.colWidths()
	cols := []string{
		pad("Session", w.id),
		pad("Status", w.status),
		pad("Started", w.started),
		pad("Actions", w.actions),
		pad("Query", w.query),
	}
	return headerStyle.Render(strings.Join(cols, " "))
}

func (b Browser) renderRow(s *model.Session, selected bool) string {
	w := b.colWidths()
	started := s.StartedAt.Format("01-02 15:04")
	actions := fmt.Sprintf("%d", len(s.Actions))
	query := truncate(s.Query, w.query)

	if selected {
		row := selectedStyle.Render(strings.Join([]string{
			pad(string(s.ID), w.id),
			pad(string(s.Status), w.status),
			pad(started, w.started),
			pad(actions, w.actions),
			query,
		}, " "))
		return lipgloss.PlaceHorizontal(b.width, lipgloss.Left, row)
	}

	return normalStyle.Render(strings.Join([]string{
		pad(string(s.ID), w.id),
		StatusTag(pad(string(s.Status), w.status)),
		pad(started, w.started),
		pad(actions, w.actions),
		query,
	}, " "))
}

func (b Browser) visibleRows() int {
	return max(1, b.height-4)
}

func (b *Browser) clampOffset() {
	visible := b.visibleRows()
	if b.cursor < b.offset {
		b.offset = b.cursor
	}
	if b.cursor >= b.offset+visible {
		b.offset = b.cursor - visible + 1
	}
	if b.offset < 0 {
		b.offset = 0
	}
}

func pad(s string, width int) string {
	runes := []rune(s)
	if len(runes) >= width {
		return string(runes[:width])
	}
	return s + strings.Repeat(" ", width-len(runes))
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-2]) + ".."
}
