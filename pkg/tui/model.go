// Package tui is the interactive browser over stored trace records.
package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/DrSkyle/agenttrace/pkg/store"
	"github.com/DrSkyle/agenttrace/pkg/trace"
)

type ViewState int

const (
	ViewStateList ViewState = iota
	ViewStateDetail
)

// Loader fetches the full record behind a summary.
type Loader func(ctx context.Context, key string) (*trace.Record, error)

type recordMsg struct {
	key string
	rec *trace.Record
	err error
}

type Model struct {
	table   table.Model
	spinner spinner.Model
	load    Loader

	sums  []store.Summary
	stats store.Analytics

	state    ViewState
	loading  bool
	detail   *trace.Record
	err      error
	width    int
	height   int
	quitting bool
}

func NewModel(sums []store.Summary, load Loader) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = special

	t := table.New(
		table.WithColumns(columns()),
		table.WithRows(rows(sums)),
		table.WithFocused(true),
		table.WithHeight(min(len(sums)+1, 15)),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.Foreground(colorNeonPurple).Bold(true)
	st.Selected = st.Selected.Foreground(colorTextMain).Background(colorNeonPurple)
	t.SetStyles(st)

	return Model{
		table:   t,
		spinner: s,
		load:    load,
		sums:    sums,
		stats:   store.Analyze(sums),
		state:   ViewStateList,
	}
}

func columns() []table.Column {
	return []table.Column{
		{Title: "COMMIT", Width: 10},
		{Title: "TIMESTAMP", Width: 20},
		{Title: "FILES", Width: 5},
		{Title: "TRACE HASH", Width: 16},
		{Title: "ANCHOR", Width: 10},
		{Title: "REFERENCE", Width: 16},
	}
}

func rows(sums []store.Summary) []table.Row {
	out := make([]table.Row, 0, len(sums))
	for _, s := range sums {
		status := s.AnchorStatus
		if status == "" {
			status = "-"
		}
		out = append(out, table.Row{
			short(s.Revision, 10),
			s.Timestamp,
			fmt.Sprintf("%d", s.Files),
			short(s.TraceHash, 16),
			status,
			short(s.AnchorReference, 16),
		})
	}
	return out
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case recordMsg:
		m.loading = false
		m.detail, m.err = msg.rec, msg.err
		if msg.err == nil {
			m.state = ViewStateDetail
		}
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "esc", "b", "backspace":
			if m.state == ViewStateDetail {
				m.state = ViewStateList
				m.detail = nil
				return m, nil
			}
		case "enter":
			if m.state == ViewStateList && len(m.sums) > 0 && !m.loading {
				m.loading = true
				m.err = nil
				return m, tea.Batch(m.spinner.Tick, m.loadSelected())
			}
		}
	}

	if m.state == ViewStateList {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) loadSelected() tea.Cmd {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.sums) {
		return nil
	}
	key := m.sums[i].Key
	load := m.load
	return func() tea.Msg {
		if load == nil {
			return recordMsg{key: key, err: fmt.Errorf("no loader configured")}
		}
		rec, err := load(context.Background(), key)
		return recordMsg{key: key, rec: rec, err: err}
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.state == ViewStateDetail && m.detail != nil {
		return m.viewDetails()
	}
	return m.viewList()
}

// Run starts the program on the terminal.
func Run(sums []store.Summary, load Loader) error {
	_, err := tea.NewProgram(NewModel(sums, load), tea.WithAltScreen()).Run()
	return err
}
