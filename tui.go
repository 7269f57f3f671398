package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cobalt/audio"
	"cobalt/pipeline"
)

type tickMsg time.Time

type eventMsg pipeline.Event

type tuiModel struct {
	app        *app
	events     <-chan pipeline.Event
	deviceLine string

	snap    pipeline.Snapshot
	level   float64
	peak    float64
	noVoice bool
	partial string
	status  string
	lastErr string
	width   int
	height  int
}

var (
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Italic(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	barOn        = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	barOff       = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
)

func newTUIModel(a *app, device *audio.DeviceInfo) tuiModel {
	name := "system default"
	if device != nil {
		name = device.Name
		if audio.IsBluetooth(device.Name) {
			name += " (BT!)"
		}
	}
	_, events := a.orch.Subscribe()
	return tuiModel{app: a, events: events, deviceLine: "mic: " + name}
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitEvent(events <-chan pipeline.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return tea.Quit()
		}
		return eventMsg(ev)
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(tuiTick(), waitEvent(m.events))
}

func (m tuiModel) run(line string) tuiModel {
	if _, err := m.app.exec(context.Background(), line); err != nil {
		m.lastErr = err.Error()
	} else {
		m.lastErr = ""
	}
	return m
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			switch m.app.orch.State() {
			case pipeline.Recording, pipeline.Paused:
				m = m.run("stop")
			default:
				m.peak = 0
				m = m.run("start")
			}
		case "p":
			if m.app.orch.State() == pipeline.Paused {
				m = m.run("resume")
			} else {
				m = m.run("pause")
			}
		case "c":
			m = m.run("cancel")
		case "d":
			m = m.run("discard")
		case "s":
			m = m.run("save")
		case "t":
			m = m.run("remote toggle")
		case "enter", " ":
			m = m.run("play")
		case "left":
			m = m.run("rew")
		case "right":
			m = m.run("ff")
		}

	case tickMsg:
		m.snap = m.app.orch.Snapshot()
		m.noVoice = m.app.NoVoice()
		m.partial = m.app.Partial()
		if m.snap.State == pipeline.Recording {
			lvl := m.app.Level()
			m.level = m.level*0.6 + lvl*0.4
			m.peak = max(m.peak, lvl)
		} else {
			m.level = 0
		}
		return m, tuiTick()

	case eventMsg:
		ev := pipeline.Event(msg)
		m.snap = ev.Snapshot
		switch ev.Type {
		case pipeline.Saved:
			m.status = "saved " + ev.NoteID
		case pipeline.Discarded:
			m.status = "discarded"
		case pipeline.PermissionNeeded:
			m.lastErr = "microphone permission needed"
		case pipeline.Error:
			m.lastErr = ev.Err.Error()
		case pipeline.StateChanged:
			if ev.State == pipeline.Recording {
				m.status = ""
			}
		}
		return m, waitEvent(m.events)
	}
	return m, nil
}

func (m tuiModel) statusLine() string {
	switch m.snap.State {
	case pipeline.Recording:
		return recStyle.Render(fmt.Sprintf("● REC %.1fs", m.snap.Elapsed.Seconds()))
	case pipeline.Paused:
		return pausedStyle.Render(fmt.Sprintf("❚❚ PAUSED %.1fs", m.snap.Elapsed.Seconds()))
	case pipeline.Processing:
		return busyStyle.Render("◌ TRANSCRIBING")
	case pipeline.Stopped:
		return doneStyle.Render(fmt.Sprintf("✓ DONE %.1fs (%s)", m.snap.Duration.Seconds(), m.snap.Backend))
	}
	return idleStyle.Render("○ STANDBY")
}

func levelBar(level float64, width int) string {
	n := int(level * 10 * float64(width))
	n = min(max(n, 0), width)
	return barOn.Render(strings.Repeat("█", n)) + barOff.Render(strings.Repeat("░", width-n))
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	wrap := max(m.width-2, 10)

	var b strings.Builder
	b.WriteString(m.statusLine() + "\n")
	if m.snap.State == pipeline.Recording || m.snap.State == pipeline.Paused {
		b.WriteString(levelBar(m.level, min(40, wrap)) + "\n")
		if m.noVoice || (m.snap.Elapsed > time.Second && m.peak < 0.02) {
			b.WriteString(warnStyle.Render("  ⚠ no voice detected") + "\n")
		}
	}

	remote := "local"
	if m.app.RemotePreferred() {
		remote = "remote preferred"
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("[%s | %d notes]", remote, m.app.NoteCount())) + "\n")
	b.WriteString(dimStyle.Render(m.deviceLine) + "\n\n")

	switch {
	case m.snap.State == pipeline.Processing && m.partial != "":
		for _, line := range wrapText(m.partial, wrap) {
			b.WriteString(partialStyle.Render(line) + "\n")
		}
	case m.snap.State == pipeline.Stopped:
		for _, line := range wrapText(m.snap.Transcript, wrap) {
			b.WriteString(textStyle.Render(line) + "\n")
		}
		b.WriteString(dimStyle.Render(m.snap.AudioPath) + "\n")
	default:
		b.WriteString(dimStyle.Render("No transcript yet") + "\n")
	}

	if m.status != "" {
		b.WriteString("\n" + doneStyle.Render(m.status) + "\n")
	}
	if m.lastErr != "" {
		b.WriteString("\n" + warnStyle.Render("error: "+m.lastErr) + "\n")
	}

	b.WriteString("\n")
	keys := []string{"r", "record/stop", "p", "pause", "c", "cancel", "s", "save", "d", "discard", "t", "remote", "⏎", "play", "←/→", "5s", "q", "quit"}
	var help []string
	for i := 0; i < len(keys); i += 2 {
		help = append(help, keyStyle.Render(keys[i])+helpStyle.Render(" "+keys[i+1]))
	}
	b.WriteString(strings.Join(help, helpStyle.Render("  ")) + "\n")
	b.WriteString(helpStyle.Render("cobalt " + version))
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for r := []rune(text); len(r) > 0; {
		if len(r) <= width {
			lines = append(lines, string(r))
			break
		}
		// Break at the last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if r[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(r[:splitAt]))
		r = []rune(strings.TrimLeft(string(r[splitAt:]), " "))
	}
	return lines
}
