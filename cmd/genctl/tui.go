package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"genforge/internal/client"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type progressMsg struct {
	jobID    string
	progress string
}

type doneMsg struct {
	out *client.Outcome
	err error
}

type generateModel struct {
	spinner  spinner.Model
	started  time.Time
	jobID    string
	progress string
	out      *client.Outcome
	err      error
	done     bool
	detached bool
	cancel   context.CancelFunc
}

func newGenerateModel(cancel context.CancelFunc) generateModel {
	return generateModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(titleStyle)),
		started: time.Now(),
		cancel:  cancel,
	}
}

func (m generateModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m generateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.detached = true
			m.cancel()
			return m, tea.Quit
		}
	case progressMsg:
		m.jobID, m.progress = msg.jobID, msg.progress
	case doneMsg:
		m.out, m.err, m.done = msg.out, msg.err, true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m generateModel) View() string {
	if m.done || m.detached {
		return ""
	}
	status := m.progress
	if status == "" {
		status = "submitting"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("genforge") + " " + m.spinner.View() + " " + status + "\n")
	if m.jobID != "" {
		b.WriteString(mutedStyle.Render("job "+m.jobID) + "\n")
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("elapsed %s, q detaches and the job keeps running", time.Since(m.started).Round(time.Second))))
	return panelStyle.Render(b.String()) + "\n"
}

func runInteractive(ctx context.Context, cancel context.CancelFunc, job func(func(jobID, progress string)) (*client.Outcome, error)) error {
	p := tea.NewProgram(newGenerateModel(cancel), tea.WithContext(ctx))
	go func() {
		out, err := job(func(jobID, progress string) {
			p.Send(progressMsg{jobID: jobID, progress: progress})
		})
		p.Send(doneMsg{out: out, err: err})
	}()

	final, err := p.Run()
	fm, ok := final.(generateModel)
	if err != nil && !(ok && fm.done) {
		return err
	}
	switch {
	case fm.detached:
		if fm.jobID != "" {
			fmt.Println(mutedStyle.Render("detached, resume with -resume " + fm.jobID))
		}
		return nil
	case fm.err != nil:
		return fm.err
	case fm.out != nil:
		printOutcome(fm.out)
	}
	return nil
}
