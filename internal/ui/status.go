package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/remoteupdate/internal/updater"
)

const maxEvents = 6

// SnapshotMsg carries a controller snapshot into the status view.
type SnapshotMsg updater.Snapshot

// StoppedMsg tells the status view that the agent has shut down.
type StoppedMsg struct{ Err error }

type event struct {
	at   time.Time
	text string
	up   bool
}

// StatusModel is the live status view of the update agent.
type StatusModel struct {
	Title string
	Info  []Field // static lines, e.g. portal URL and listener port

	spinner spinner.Model
	snap    updater.Snapshot
	events  []event
	width   int
	err     error
	onQuit  func()
	now     func() time.Time
}

// NewStatusModel creates the status view. onQuit runs when the user quits.
func NewStatusModel(title string, info []Field, onQuit func()) StatusModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor)

	return StatusModel{
		Title:   title,
		Info:    info,
		spinner: s,
		width:   GetTerminalWidth(),
		onQuit:  onQuit,
		now:     time.Now,
	}
}

// Observer returns an updater.Observer that forwards snapshots to p.
func Observer(p *tea.Program) updater.Observer {
	return func(s updater.Snapshot) {
		p.Send(SnapshotMsg(s))
	}
}

// Init implements tea.Model
func (m StatusModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model
func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case SnapshotMsg:
		snap := updater.Snapshot(msg)
		switch snap.Transition {
		case updater.TransitionEstablished:
			m.addEvent("link up as "+snap.HostIdentity, true)
		case updater.TransitionLost:
			m.addEvent("link lost", false)
		}
		m.snap = snap

	case StoppedMsg:
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *StatusModel) addEvent(text string, up bool) {
	m.events = append(m.events, event{at: m.now(), text: text, up: up})
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
}

// View implements tea.Model
func (m StatusModel) View() string {
	var b strings.Builder

	b.WriteString(NewHeader(m.Title, "updater-agent run", m.Info...).SetWidth(m.width).Render())
	b.WriteString("\n\n")

	if m.snap.Connected {
		b.WriteString(LinkUpStyle.Render("  "+LinkUpMarker+" link up") + "  " + ValueStyle.Render(m.snap.HostIdentity))
	} else {
		b.WriteString("  " + m.spinner.View() + " " + LinkDownStyle.Render("waiting for link"))
	}
	b.WriteString("\n")
	b.WriteString(NoteStyle.Render(fmt.Sprintf("  established %d  lost %d",
		m.snap.Stats.Established, m.snap.Stats.Lost)))
	b.WriteString("\n\n")

	for _, e := range m.events {
		marker, style := LinkDownMarker, LinkDownStyle
		if e.up {
			marker, style = LinkUpMarker, LinkUpStyle
		}
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			NoteStyle.Render(e.at.Format("15:04:05")), style.Render(marker), e.text))
	}

	if m.err != nil {
		b.WriteString("\n" + ErrorMessageStyle.Render("  "+m.err.Error()) + "\n")
	}
	b.WriteString("\n" + NoteStyle.Render("  q to quit") + "\n")
	return b.String()
}
