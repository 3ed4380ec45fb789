package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxScrollback bounds how many transcript entries the view keeps.
const maxScrollback = 200

type entry struct {
	input  string
	output string
	failed bool
}

// interactiveModel evaluates on the bubbletea update goroutine, which is
// the only goroutine that touches the session.
type interactiveModel struct {
	s       *session
	input   textinput.Model
	entries []entry
	history []string
	// histIdx is len(history) when not browsing.
	histIdx int
	printed strings.Builder
}

func newInteractiveModel(s *session) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "1 + 2.3"
	ti.Width = 72
	ti.Focus()

	m := &interactiveModel{s: s, input: ti}
	s.out = &m.printed
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history) {
				m.histIdx++
			}
			if m.histIdx == len(m.history) {
				m.input.SetValue("")
			} else {
				m.input.SetValue(m.history[m.histIdx])
			}
			m.input.CursorEnd()
			return m, nil

		case "enter":
			return m, m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) submit() tea.Cmd {
	line := m.input.Value()
	m.input.SetValue("")
	if strings.TrimSpace(line) != "" {
		m.history = append(m.history, line)
	}
	m.histIdx = len(m.history)

	m.printed.Reset()
	out, quit, err := m.s.eval(line)
	if quit {
		return tea.Quit
	}

	e := entry{input: line}
	if p := strings.TrimRight(m.printed.String(), "\n"); p != "" {
		out = strings.TrimLeft(p+"\n"+out, "\n")
	}
	if err != nil {
		e.output, e.failed = err.Error(), true
	} else {
		e.output = out
	}
	m.entries = append(m.entries, e)
	if len(m.entries) > maxScrollback {
		m.entries = m.entries[len(m.entries)-maxScrollback:]
	}
	return nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("jsrepl"))
	b.WriteString("\n\n")

	for _, e := range m.entries {
		b.WriteString(inputStyle.Render("> " + e.input))
		b.WriteString("\n")
		switch {
		case e.failed:
			b.WriteString(errorStyle.Render(e.output))
			b.WriteString("\n")
		case e.output != "":
			b.WriteString(resultStyle.Render(e.output))
			b.WriteString("\n")
		}
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter evaluate • ↑/↓ history • .gc .stats .exit • ctrl+c quit"))
	return b.String()
}

func runInteractive(s *session) error {
	p := tea.NewProgram(newInteractiveModel(s))
	_, err := p.Run()
	return err
}
