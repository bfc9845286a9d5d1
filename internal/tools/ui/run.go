package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).PaddingLeft(2)
	frames      = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
)

const frameInterval = 90 * time.Millisecond

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	frame   int
	done    bool
	details []string
	err     error
	cancel  context.CancelFunc
}

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(frames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
		}
	}
	return m, nil
}

func (m model) View() string {
	if !m.done {
		return fmt.Sprintf("%s %s\n", frames[m.frame], titleStyle.Render(m.title))
	}
	return Summary(m.title, m.details, m.err)
}

// Summary renders the final status block for a finished task.
func Summary(title string, details []string, err error) string {
	var b strings.Builder
	if err != nil {
		b.WriteString(failStyle.Render("✗ " + title))
	} else {
		b.WriteString(okStyle.Render("✓ " + title))
	}
	b.WriteByte('\n')
	for _, d := range details {
		b.WriteString(detailStyle.Render(d))
		b.WriteByte('\n')
	}
	if err != nil {
		b.WriteString(detailStyle.Render("error: " + err.Error()))
		b.WriteByte('\n')
	}
	return b.String()
}

// Run shows a spinner on stdout while fn executes. Pressing q or ctrl+c
// cancels the context handed to fn.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	return RunWithIO(context.Background(), os.Stdin, os.Stdout, title, fn)
}

func RunWithIO(ctx context.Context, in io.Reader, out io.Writer, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(model{title: title, cancel: cancel}, tea.WithInput(in), tea.WithOutput(out))
	go func() {
		details, err := fn(ctx)
		p.Send(doneMsg{details: details, err: err})
	}()
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("ui: %w", err)
	}
	m, ok := final.(model)
	if !ok {
		return nil, errors.New("ui: unexpected model")
	}
	return m.details, m.err
}
