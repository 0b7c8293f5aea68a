package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/samlang-runtime/config"
	"github.com/wippyai/samlang-runtime/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	outputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateEditArgs modelState = iota
	stateRunning
	stateShowResult
)

// syncBuffer collects program output written from the run goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	b.buf.Reset()
	return s
}

type interactiveModel struct {
	err      error
	cfg      config.Config
	rt       *runtime.Runtime
	module   *runtime.Module
	out      *syncBuffer
	filename string
	output   string
	input    textinput.Model
	runs     int
	status   int
	state    modelState
}

func newInteractiveModel(cfg config.Config, filename string, args []string) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "args: "
	ti.Placeholder = "space separated arguments"
	ti.Width = 60
	ti.SetValue(strings.Join(args, " "))
	ti.Focus()

	return &interactiveModel{
		cfg:      cfg,
		out:      &syncBuffer{},
		filename: filename,
		input:    ti,
		state:    stateEditArgs,
	}
}

type loadedMsg struct {
	err error
	rt  *runtime.Runtime
	mod *runtime.Module
}

type runResultMsg struct {
	err    error
	output string
	status int
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.loadProgram, textinput.Blink)
}

func (m *interactiveModel) loadProgram() tea.Msg {
	ctx := context.Background()

	rt, err := runtime.New(ctx, m.cfg, runtime.WithStdout(m.out))
	if err != nil {
		return loadedMsg{err: err}
	}
	mod, err := rt.LoadFile(ctx, m.filename)
	if err != nil {
		rt.Close(ctx)
		return loadedMsg{err: err}
	}
	return loadedMsg{rt: rt, mod: mod}
}

func (m *interactiveModel) runProgram() tea.Msg {
	if m.module == nil {
		return runResultMsg{err: fmt.Errorf("program not loaded"), status: 1}
	}
	argv := append([]string{m.filename}, strings.Fields(m.input.Value())...)
	status, err := m.module.Run(context.Background(), argv)
	return runResultMsg{err: err, output: m.out.take(), status: status}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.rt != nil {
				m.rt.Close(context.Background())
			}
			return m, tea.Quit

		case "q":
			if m.state != stateEditArgs {
				if m.rt != nil {
					m.rt.Close(context.Background())
				}
				return m, tea.Quit
			}

		case "enter":
			switch m.state {
			case stateEditArgs:
				if m.module == nil {
					return m, nil
				}
				m.state = stateRunning
				m.input.Blur()
				return m, m.runProgram

			case stateShowResult:
				m.state = stateEditArgs
				m.output = ""
				m.err = nil
				return m, m.input.Focus()
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.module = msg.mod

	case runResultMsg:
		m.runs++
		m.output = msg.output
		m.status = msg.status
		m.err = msg.err
		m.state = stateShowResult
		return m, nil
	}

	if m.state == stateEditArgs {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.err))
	}
	if m.module == nil {
		return "Loading program..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("samlang runner"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(typeStyle.Render(m.rt.Layout().String()))
	b.WriteString("\n\n")

	switch m.state {
	case stateEditArgs:
		b.WriteString(fmt.Sprintf("Entry %s receives [%s, args...]\n\n", funcStyle.Render(m.module.Entry()), m.filename))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter run • esc quit"))

	case stateRunning:
		b.WriteString("Running...")

	case stateShowResult:
		b.WriteString(fmt.Sprintf("Run %d of %s:\n\n", m.runs, funcStyle.Render(m.module.Entry())))
		output := strings.TrimSuffix(m.output, "\n")
		if output == "" {
			output = helpStyle.Render("(no output)")
		}
		b.WriteString(outputStyle.Render(output))
		b.WriteString("\n\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v (status %d)", m.err, m.status)))
		} else if m.status != 0 {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Exit status %d", m.status)))
		} else {
			b.WriteString(resultStyle.Render("Exit status 0"))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter edit arguments • q quit"))
	}

	return b.String()
}

func runInteractive(cfg config.Config, filename string, args []string) error {
	p := tea.NewProgram(newInteractiveModel(cfg, filename, args), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
