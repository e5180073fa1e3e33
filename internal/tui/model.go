package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vitaminmoo/vsp-ota/internal/ota"
)

// maxLogLines is how many status messages stay on screen.
const maxLogLines = 8

type logLine struct {
	text     string
	severity ota.Severity
}

// Model is the Bubbletea model for a single module operation.
type Model struct {
	title  string
	link   string
	width  int
	cancel func()

	// State
	phase     ota.Phase
	log       []logLine
	progress  ProgressState
	confirm   *confirmMsg
	outcome   *ota.Outcome
	cancelled bool

	// Components
	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	styles  Styles
}

// --- Messages from the notifier ---

type notifyMsg ota.Notification

type progressMsg ota.Progress

type phaseMsg ota.Phase

type finishedMsg ota.Outcome

// confirmMsg asks the operator a question. The answer goes to reply.
type confirmMsg struct {
	req   ota.Confirmation
	reply chan<- bool
}

// NewModel creates the model. cancel is called when the operator cancels a
// running operation; it must not block.
func NewModel(title, link string, cancel func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		title:    title,
		link:     link,
		cancel:   cancel,
		progress: NewProgressState(),
		keys:     DefaultKeyMap(),
		help:     help.New(),
		spinner:  s,
		styles:   DefaultStyles(),
	}
}

// Outcome returns the operation result, nil while it is still running.
func (m Model) Outcome() *ota.Outcome {
	return m.outcome
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.SetWidth(msg.Width)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)

	case notifyMsg:
		m.appendLog(msg.Text, msg.Severity)
		return m, nil

	case progressMsg:
		m.progress.Update(ota.Progress(msg))
		return m, nil

	case phaseMsg:
		m.phase = ota.Phase(msg)
		return m, nil

	case confirmMsg:
		m.confirm = &msg
		return m, nil

	case finishedMsg:
		out := ota.Outcome(msg)
		m.outcome = &out
		m.phase = ota.Idle
		if m.confirm != nil {
			m.answer(false)
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirm != nil {
		switch {
		case key.Matches(msg, m.keys.Yes):
			m.answer(true)
		case key.Matches(msg, m.keys.No), key.Matches(msg, m.keys.Cancel):
			m.answer(false)
		case key.Matches(msg, m.keys.Quit):
			m.answer(false)
			return m.quit()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Cancel):
		if m.phase.Operating() && !m.cancelled {
			m.cancelled = true
			m.appendLog("Cancelling...", ota.SeverityWarning)
			m.cancel()
		}
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// quit cancels any running operation and leaves without waiting for it.
func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.phase.Operating() && !m.cancelled {
		m.cancelled = true
		m.cancel()
	}
	return m, tea.Quit
}

func (m *Model) answer(ok bool) {
	m.confirm.reply <- ok
	m.confirm = nil
}

func (m *Model) appendLog(text string, sev ota.Severity) {
	m.log = append(m.log, logLine{text: text, severity: sev})
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// View renders the screen.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderTitleBar())
	b.WriteString("\n")

	for _, line := range m.log {
		b.WriteString(m.styles.Severity(line.severity).Render(line.text))
		b.WriteString("\n")
	}

	if m.progress.IsActive() {
		b.WriteString("\n")
		b.WriteString(m.progress.View())
		b.WriteString("\n")
	}

	if m.confirm != nil {
		prompt := lipgloss.JoinVertical(lipgloss.Left,
			m.styles.Warning.Bold(true).Render(m.confirm.req.Title),
			m.confirm.req.Text,
			m.styles.Muted.Render("[y]es / [n]o"),
		)
		b.WriteString(m.styles.Prompt.Render(prompt))
		b.WriteString("\n")
	}

	if m.outcome != nil {
		b.WriteString("\n")
		b.WriteString(m.styles.Severity(m.outcome.Severity).Render(m.outcome.Message))
		b.WriteString("\n")
		return m.styles.App.Render(b.String())
	}

	b.WriteString(m.styles.Help.Render(m.help.View(m.keys)))
	return m.styles.App.Render(b.String())
}

func (m Model) renderTitleBar() string {
	parts := []string{m.styles.Title.Render(m.title)}
	if m.link != "" {
		parts = append(parts, m.styles.StatusKey.Render("Link:")+m.styles.StatusValue.Render(m.link))
	}
	switch {
	case m.outcome != nil:
	case m.phase == ota.Idle:
		parts = append(parts, m.styles.Muted.Render("waiting"))
	default:
		parts = append(parts, m.spinner.View()+" "+m.styles.Warning.Render(m.phase.String()))
	}
	return m.styles.TitleBar.Render(strings.Join(parts, " "))
}
