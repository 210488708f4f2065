// Package console is an interactive terminal playground for the guardrails.
// Type a message, press enter, and see the verdict the API would return.
package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mackeh/AegisGuard/internal/guardrails"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	blockedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	flaggedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF8700")).
			Bold(true)

	safeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	subtleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// Mode selects which check a submitted message runs through.
type Mode int

const (
	ModeInput Mode = iota
	ModeOutput
)

func (m Mode) String() string {
	if m == ModeOutput {
		return "output"
	}
	return "input"
}

const historySize = 5

// Entry is one evaluated message.
type Entry struct {
	Mode       Mode
	Text       string
	Confidence float64
	Verdict    guardrails.Verdict
	Categories []guardrails.Category
	Pattern    string
}

// Model is the bubbletea model of the playground.
type Model struct {
	engine        *guardrails.Engine
	input         textinput.Model
	mode          Mode
	confidence    float64
	minConfidence float64
	history       []Entry
	quitting      bool
}

// NewModel creates a playground screening with engine.
func NewModel(engine *guardrails.Engine, minConfidence float64) Model {
	if engine == nil {
		engine = guardrails.NewEngine()
	}
	if minConfidence <= 0 {
		minConfidence = guardrails.DefaultMinConfidence
	}
	ti := textinput.New()
	ti.Placeholder = "type a message and press enter"
	ti.CharLimit = guardrails.DefaultMaxChars
	ti.Width = 72
	ti.Focus()

	return Model{
		engine:        engine,
		input:         ti,
		confidence:    guardrails.DefaultConfidence,
		minConfidence: minConfidence,
	}
}

// History returns evaluated messages, newest last.
func (m Model) History() []Entry { return m.history }

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyTab:
			m.mode = 1 - m.mode
			return m, nil
		case tea.KeyUp:
			if m.mode == ModeOutput {
				m.confidence = clamp(m.confidence + 0.1)
			}
			return m, nil
		case tea.KeyDown:
			if m.mode == ModeOutput {
				m.confidence = clamp(m.confidence - 0.1)
			}
			return m, nil
		case tea.KeyEnter:
			m.evaluate(m.input.Value())
			m.input.SetValue("")
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) evaluate(text string) {
	e := Entry{Mode: m.mode, Text: text, Confidence: m.confidence}
	if m.mode == ModeOutput {
		e.Verdict = m.engine.CheckOutput(text,
			guardrails.WithConfidence(m.confidence),
			guardrails.WithMinConfidence(m.minConfidence),
		)
	} else {
		e.Verdict = m.engine.CheckInput(guardrails.EnforceLength(text, guardrails.DefaultMaxChars))
		e.Pattern = m.engine.DetectInjection(text).MatchedPattern
	}
	e.Categories = m.engine.DetectPII(text).Categories

	m.history = append(m.history, e)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
}

func clamp(c float64) float64 {
	// Round to one decimal so repeated steps do not drift.
	c = float64(int(c*10+0.5)) / 10
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	s := strings.Builder{}
	s.WriteString(fmt.Sprintf("\n%s  mode: %s", titleStyle.Render(" AEGISGUARD PLAYGROUND "), m.mode))
	if m.mode == ModeOutput {
		s.WriteString(fmt.Sprintf("  confidence: %.1f (min %.2f)", m.confidence, m.minConfidence))
	}
	s.WriteString("\n\n  " + m.input.View() + "\n\n")

	for i := len(m.history) - 1; i >= 0; i-- {
		s.WriteString(renderEntry(m.history[i]))
	}

	s.WriteString(subtleStyle.Render("  [enter] check  [tab] input/output  [↑/↓] confidence  [esc] quit"))
	s.WriteString("\n")
	return s.String()
}

func renderEntry(e Entry) string {
	s := strings.Builder{}
	s.WriteString(fmt.Sprintf("  %s %s %s\n", renderBadge(e.Verdict), subtleStyle.Render(e.Mode.String()+":"), truncate(e.Text, 60)))

	switch {
	case e.Verdict.Blocked:
		s.WriteString(fmt.Sprintf("    reason: %s", e.Verdict.BlockReason))
		if e.Pattern != "" {
			s.WriteString(fmt.Sprintf("  pattern: %s", e.Pattern))
		}
		s.WriteString("\n")
	case e.Verdict.SanitizedText != e.Text:
		s.WriteString(fmt.Sprintf("    → %s\n", truncate(e.Verdict.SanitizedText, 60)))
	}
	for _, w := range e.Verdict.Warnings {
		s.WriteString(subtleStyle.Render("    ! "+w) + "\n")
	}
	s.WriteString("\n")
	return s.String()
}

func renderBadge(v guardrails.Verdict) string {
	switch {
	case v.Blocked:
		return blockedStyle.Render("BLOCKED")
	case !v.IsSafe:
		return flaggedStyle.Render("FLAGGED")
	case len(v.Warnings) > 0:
		return flaggedStyle.Render("SANITIZED")
	default:
		return safeStyle.Render("SAFE")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run starts the playground on the terminal and blocks until the user quits.
func Run(engine *guardrails.Engine, minConfidence float64) error {
	_, err := tea.NewProgram(NewModel(engine, minConfidence)).Run()
	return err
}
