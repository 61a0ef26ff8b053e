// Package tui holds the terminal views of staffctl.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/staffctl/staffctl/internal/employee"
)

// DefaultInterval is how often the store is polled.
const DefaultInterval = 2 * time.Second

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

type recordMsg struct {
	rec *employee.Record
	err error
}

type tickMsg time.Time

// WatchModel follows one employee record until it reaches a terminal status.
type WatchModel struct {
	store    employee.Store
	id       string
	interval time.Duration
	now      func() time.Time

	spinner spinner.Model
	record  *employee.Record
	seen    bool
	removed bool
	err     error
	done    bool
}

// NewWatchModel creates a watch on employee id.
func NewWatchModel(store employee.Store, id string, interval time.Duration) WatchModel {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = highlightStyle

	return WatchModel{
		store:    store,
		id:       id,
		interval: interval,
		now:      time.Now,
		spinner:  s,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m WatchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.interval*5)
		defer cancel()
		rec, err := m.store.Get(ctx, m.id)
		return recordMsg{rec: rec, err: err}
	}
}

func (m WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case recordMsg:
		switch {
		case errors.Is(msg.err, employee.ErrNotFound):
			m.err = nil
			// A clean deletion removes the record.
			if m.seen {
				m.removed = true
				m.done = true
				return m, tea.Quit
			}
		case msg.err != nil:
			m.err = msg.err
		default:
			m.err = nil
			m.record = msg.rec
			m.seen = true
			if msg.rec.Status.Terminal() {
				m.done = true
				return m, tea.Quit
			}
		}
		return m, m.tick()

	case tickMsg:
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Employee " + m.id))
	b.WriteString("\n\n")

	switch {
	case m.removed:
		b.WriteString("  " + successStyle.Render("Record removed, deletion complete") + "\n")
		return b.String()
	case m.record == nil:
		b.WriteString(fmt.Sprintf("  %s Waiting for record...\n", m.spinner.View()))
		if m.err != nil {
			b.WriteString("  " + errStyle.Render(m.err.Error()) + "\n")
		}
		return b.String()
	}

	rec := m.record
	prefix := m.spinner.View()
	if rec.Status.Terminal() {
		prefix = " "
	}
	b.WriteString(fmt.Sprintf("  %s Status: %s\n", prefix, statusStyle(rec.Status).Render(string(rec.Status))))
	field := func(label, value string) {
		if value != "" {
			b.WriteString(fmt.Sprintf("    %-11s %s\n", label+":", value))
		}
	}
	field("Name", rec.Name)
	field("Email", rec.Email)
	field("Department", rec.Department)
	field("Instance", rec.InstanceID)
	field("Workspace", rec.WorkspaceID)
	field("RDP file", rec.ArtifactRef)
	if rec.Error != "" {
		b.WriteString("    " + errStyle.Render("Error: "+rec.Error) + "\n")
	}
	if !rec.UpdatedAt.IsZero() {
		b.WriteString("    " + dimStyle.Render("updated "+humanize.RelTime(rec.UpdatedAt, m.now(), "ago", "from now")) + "\n")
	}
	if m.err != nil {
		b.WriteString("  " + errStyle.Render(m.err.Error()) + "\n")
	}
	if !m.done {
		b.WriteString("\n" + dimStyle.Render("  q to stop watching") + "\n")
	}
	return b.String()
}

func statusStyle(s employee.Status) lipgloss.Style {
	switch s {
	case employee.StatusActive, employee.StatusDeleted:
		return successStyle
	case employee.StatusFailed, employee.StatusDeleteFailed:
		return errStyle
	}
	return highlightStyle
}

// Record returns the last record seen.
func (m WatchModel) Record() *employee.Record { return m.record }

// Removed reports whether the record disappeared while being watched.
func (m WatchModel) Removed() bool { return m.removed }

// Done reports whether the watch has finished.
func (m WatchModel) Done() bool { return m.done }
