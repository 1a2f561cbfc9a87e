package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	markdown "github.com/vlanse/go-term-markdown"
)

var TEXTINPUT_PLACEHOLDER = "Type a message and press Enter to send..."

var (
	youStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	agentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	systemStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	internalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("171"))
)

// Events produced by the coordinator and the refresh scheduler; the
// bubbletea loop is the single consumer, so snapshot writes stay
// serialized no matter which trigger produced them.
type snapshotEvent struct{ snap *ConversationSnapshot }
type errorEvent struct{ err error }
type settledEvent struct {
	query string
	err   error
}

// chanEvent wraps events delivered through the shared channel so the
// update loop knows to re-arm the channel reader.
type chanEvent struct{ ev tea.Msg }

type chatModel struct {
	cfg   RunConfig
	coord *Coordinator
	sched *RefreshScheduler

	events chan tea.Msg

	spinner  spinner.Model
	viewport viewport.Model
	textarea textarea.Model

	snap         *ConversationSnapshot
	lastErr      error
	inFlight     bool
	showInternal bool
	width        int
	height       int

	// Called once per settled submission, for local history logging.
	onSettled func(query string, snap *ConversationSnapshot)
}

func newChatModel(cfg RunConfig, api ConversationAPI, onSettled func(string, *ConversationSnapshot)) *chatModel {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.Focus()

	ta.Prompt = "┃ "
	ta.CharLimit = 100000
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(80, 16)
	vp.SetContent("<no conversation yet - send a message>")
	vp.MouseWheelEnabled = true

	sp := spinner.New()
	sp.Spinner = spinner.Pulse
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("171"))

	m := &chatModel{
		cfg:          cfg,
		events:       make(chan tea.Msg, 32),
		spinner:      sp,
		viewport:     vp,
		textarea:     ta,
		showInternal: cfg.ShowInternal,
		width:        80,
		onSettled:    onSettled,
	}

	m.coord = NewCoordinator(api, cfg.Session, cfg.Model, cfg.RefreshEvery)
	m.coord.OnSnapshot = func(snap *ConversationSnapshot) { m.post(snapshotEvent{snap}) }
	m.coord.OnError = func(err error) { m.post(errorEvent{err}) }

	m.sched = NewRefreshScheduler(api)
	m.sched.OnSnapshot = func(snap *ConversationSnapshot) { m.post(snapshotEvent{snap}) }
	m.sched.OnError = func(err error) { m.post(errorEvent{err}) }

	return m
}

// post never blocks a producer goroutine; a dropped snapshot is
// superseded by the next one anyway.
func (m *chatModel) post(ev tea.Msg) {
	select {
	case m.events <- ev:
	default:
	}
}

func waitEvent(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return chanEvent{ev: <-ch}
	}
}

func (m *chatModel) fetchOnce() tea.Cmd {
	api, session, timeout := m.coord.api, m.cfg.Session, m.cfg.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		snap, err := api.FetchConversation(ctx, session)
		if err != nil {
			return errorEvent{err}
		}
		return snapshotEvent{snap}
	}
}

func (m *chatModel) submitCmd(query string) tea.Cmd {
	return func() tea.Msg {
		err := m.coord.Submit(context.Background(), query)
		return settledEvent{query: query, err: err}
	}
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.fetchOnce(), waitEvent(m.events))
}

// reconcileScheduler re-evaluates the background refresh condition
// against the last fetched snapshot.
func (m *chatModel) reconcileScheduler() {
	active := m.cfg.AutoRefresh && m.snap.Processing()
	m.sched.Reconfigure(m.cfg.Session, m.cfg.RefreshEvery, active)
}

func (m *chatModel) apply(ev tea.Msg) tea.Cmd {
	switch ev := ev.(type) {
	case snapshotEvent:
		m.snap = ev.snap
		m.lastErr = nil
		m.reconcileScheduler()
		m.refreshViewport()
	case errorEvent:
		// Keep the stale snapshot; just flag the error.
		m.lastErr = ev.err
	case settledEvent:
		m.inFlight = false
		m.lastErr = ev.err
		if ev.err == nil && m.onSettled != nil {
			m.onSettled(ev.query, m.snap)
		}
		m.reconcileScheduler()
		m.refreshViewport()
	}
	return nil
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.sched.Stop()
			return m, tea.Quit
		case tea.KeyEnter:
			query := strings.TrimSpace(m.textarea.Value())
			if query == "" || m.inFlight {
				// Whitespace-only input never reaches the network.
				return m, tea.Batch(tiCmd, vpCmd)
			}
			m.inFlight = true
			m.lastErr = nil
			m.textarea.Reset()
			m.textarea.Placeholder = TEXTINPUT_PLACEHOLDER
			m.refreshViewport()
			return m, tea.Batch(tiCmd, vpCmd, m.spinner.Tick, m.submitCmd(query))
		case tea.KeyCtrlT:
			m.showInternal = !m.showInternal
			m.refreshViewport()
		case tea.KeyCtrlY:
			if text, _, ok := m.snap.LastAnswer(); ok {
				clipboard.WriteAll(text)
			}
		case tea.KeyCtrlR:
			return m, tea.Batch(tiCmd, vpCmd, m.fetchOnce())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - m.textarea.Height() - 4
		m.textarea.SetWidth(msg.Width)
		m.refreshViewport()

	case chanEvent:
		cmd := m.apply(msg.ev)
		return m, tea.Batch(tiCmd, vpCmd, cmd, waitEvent(m.events))

	case snapshotEvent, errorEvent, settledEvent:
		cmd := m.apply(msg)
		return m, tea.Batch(tiCmd, vpCmd, cmd)

	case spinner.TickMsg:
		var spCmd tea.Cmd
		m.spinner, spCmd = m.spinner.Update(msg)
		return m, tea.Batch(tiCmd, vpCmd, spCmd)
	}

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *chatModel) refreshViewport() {
	if m.snap == nil || len(m.snap.Conversation) == 0 {
		m.viewport.SetContent("<no conversation yet - send a message>")
		return
	}
	m.viewport.SetContent(formatConversation(m.snap.Conversation, m.showInternal, m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m *chatModel) View() string {
	status := fmt.Sprintf("session:%s model:%s", m.cfg.Session, m.cfg.Model)
	if m.inFlight || m.snap.Processing() {
		status += "  " + m.spinner.View() + " processing"
	}

	errLine := ""
	if m.lastErr != nil {
		errLine = errorStyle.Render("error: "+m.lastErr.Error()) + "\n"
	}

	return fmt.Sprintf(
		"%s\n%s\n%s%s\n%s",
		statusStyle.Render(status),
		m.viewport.View(),
		errLine,
		m.textarea.View(),
		internalStyle.Render("enter: send · ctrl+t: internal traces · ctrl+y: copy answer · ctrl+r: refresh · esc: quit"),
	)
}

var markdownCache = struct {
	sync.Mutex
	cache map[string]string
}{cache: make(map[string]string)}

func renderMarkdownCached(content string, lineWidth int) string {
	key := fmt.Sprintf("%s__%d", content, lineWidth)
	markdownCache.Lock()
	defer markdownCache.Unlock()
	if cached, ok := markdownCache.cache[key]; ok {
		return cached
	}
	rendered := string(markdown.Render(content, lineWidth, 0))
	markdownCache.cache[key] = rendered
	return rendered
}

// formatConversation renders a snapshot for the viewport. Messages
// stay in backend order; internal traces only appear when requested.
func formatConversation(msgs []Message, showInternal bool, lineWidth int) string {
	if lineWidth <= 0 {
		lineWidth = 80
	}

	var ret strings.Builder

	for _, msg := range msgs {
		label := msg.RoleLabel()
		switch msg.Type {
		case MessageTypeHuman:
			label = youStyle.Render(label)
		case MessageTypeAI:
			label = agentStyle.Render(label)
		default:
			label = systemStyle.Render(label)
		}

		stamp := ""
		if msg.Timestamp != "" {
			stamp = " · " + msg.Timestamp
		}
		fmt.Fprintf(&ret, "%s%s\n", label, internalStyle.Render(stamp))

		text := msg.DisplayText()
		if text != "" {
			if msg.Content != nil && msg.Content.Error != "" && msg.Content.Answer == "" {
				ret.WriteString(errorStyle.Render(text))
				ret.WriteString("\n")
			} else if msg.Type == MessageTypeHuman {
				ret.WriteString(strings.TrimRight(text, " \t\r\n"))
				ret.WriteString("\n")
			} else {
				ret.WriteString(strings.TrimRight(renderMarkdownCached(text, lineWidth), " \t\r\n"))
				ret.WriteString("\n")
			}
		}

		if showInternal && msg.HasInternal() {
			for _, trace := range []struct{ name, body string }{
				{"thought", msg.Content.Thought},
				{"plan", msg.Content.Plan},
				{"route", msg.Content.Route},
				{"decision", msg.Content.Decision},
			} {
				if trace.body == "" {
					continue
				}
				fmt.Fprintf(&ret, "%s\n", internalStyle.Render(fmt.Sprintf("  [%s] %s", trace.name, strings.TrimSpace(trace.body))))
			}
		}

		ret.WriteString("\n")
	}

	return ret.String()
}

func runChatTUI(cfg RunConfig, api ConversationAPI, onSettled func(string, *ConversationSnapshot)) error {
	m := newChatModel(cfg, api, onSettled)
	defer m.sched.Stop()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}
