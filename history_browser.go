package main

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pooolify/pooolctl/history"
)

type sessionItem struct {
	summary history.SessionSummary
}

func (s sessionItem) Title() string {
	return fmt.Sprintf("%s %s (%s, %d exchanges)",
		s.summary.Timestamp.Format("01/02 15:04"), s.summary.SessionID, s.summary.Model, s.summary.Exchanges)
}
func (s sessionItem) Description() string { return s.summary.Summary }
func (s sessionItem) FilterValue() string {
	return s.summary.SessionID + " " + s.summary.Summary + " " + s.summary.Model
}

type sessionListModel struct {
	list     list.Model
	selected *history.SessionSummary
	quitting bool
}

func newSessionListModel(sessions []history.SessionSummary) sessionListModel {
	items := make([]list.Item, len(sessions))
	for i, s := range sessions {
		items[i] = sessionItem{summary: s}
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Logged Sessions"
	l.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFF")).
		Background(lipgloss.Color("#7D56F4")).
		Padding(0, 1)

	return sessionListModel{list: l}
}

func (m sessionListModel) Init() tea.Cmd {
	return nil
}

func (m sessionListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
		if msg.String() == "enter" {
			if i, ok := m.list.SelectedItem().(sessionItem); ok {
				m.selected = &i.summary
				return m, tea.Quit
			}
		}
	case tea.WindowSizeMsg:
		h, v := lipgloss.NewStyle().Margin(1, 2).GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m sessionListModel) View() string {
	if m.quitting {
		return ""
	}
	return lipgloss.NewStyle().Margin(1, 2).Render(m.list.View())
}

// browseHistory shows the session picker, then dumps the chosen
// session's logged exchanges.
func browseHistory(sessions []history.SessionSummary) error {
	p := tea.NewProgram(newSessionListModel(sessions), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}

	m, ok := final.(sessionListModel)
	if !ok || m.selected == nil {
		return nil
	}

	exchanges, err := historyMgr.GetSessionExchanges(m.selected.SessionID)
	if err != nil {
		return err
	}
	for _, e := range exchanges {
		fmt.Printf("\033[1;32mYou\033[0m · %s\n%s\n\n", e.Timestamp.Format("2006-01-02 15:04"), e.Query)
		label := e.Agent
		if label == "" {
			label = "AI"
		}
		suffix := ""
		if e.TimedOut {
			suffix = " (still processing when logged)"
		}
		fmt.Printf("\033[1;34m%s\033[0m%s\n%s\n\n", label, suffix, e.Answer)
	}
	return nil
}
