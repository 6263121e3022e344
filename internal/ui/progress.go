package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type TransferMode int

const (
	ModeSend TransferMode = iota
	ModeReceive
)

const placeholderName = "incoming file"

type (
	beginMsg struct {
		name string
		size int64
	}
	percentMsg int
	finishMsg  struct {
		name string
		size int64
	}
	failMsg  struct{ err string }
	stateMsg string
	quitMsg  struct{}
)

type fileProgress struct {
	name     string
	size     int64
	percent  int
	started  time.Time
	elapsed  time.Duration
	complete bool
	failed   bool
	errMsg   string
}

// transferModel renders one line per file. Only the last file can be active.
type transferModel struct {
	mode        TransferMode
	state       string
	files       []*fileProgress
	bar         progress.Model
	spinner     spinner.Model
	now         func() time.Time
	quitting    bool
	interrupted bool
}

func newTransferModel(mode TransferMode) transferModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return transferModel{
		mode:    mode,
		state:   "Connecting...",
		bar:     progress.New(progress.WithGradient(ProgressStart, ProgressEnd), progress.WithWidth(25), progress.WithoutPercentage()),
		spinner: s,
		now:     time.Now,
	}
}

func (m transferModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m transferModel) active() *fileProgress {
	if n := len(m.files); n > 0 {
		if f := m.files[n-1]; !f.complete && !f.failed {
			return f
		}
	}
	return nil
}

func (m transferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.interrupted = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(25, msg.Width-60))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateMsg:
		m.state = string(msg)

	case beginMsg:
		if f := m.active(); f != nil {
			f.failed = true
			f.errMsg = "superseded"
		}
		m.files = append(m.files, &fileProgress{name: msg.name, size: msg.size, started: m.now()})

	case percentMsg:
		f := m.active()
		if f == nil {
			// Receivers learn the file name only on completion.
			if msg == 0 || m.mode != ModeReceive {
				return m, nil
			}
			f = &fileProgress{name: placeholderName, started: m.now()}
			m.files = append(m.files, f)
		}
		f.percent = int(msg)

	case finishMsg:
		f := m.active()
		if f == nil {
			f = &fileProgress{started: m.now()}
			m.files = append(m.files, f)
		}
		if msg.name != "" {
			f.name = msg.name
			f.size = msg.size
		}
		f.percent = 100
		f.complete = true
		f.elapsed = m.now().Sub(f.started)

	case failMsg:
		if f := m.active(); f != nil {
			f.failed = true
			f.errMsg = msg.err
			f.elapsed = m.now().Sub(f.started)
		}

	case quitMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m transferModel) View() string {
	var b strings.Builder

	if !m.quitting {
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), m.state)
	}

	for _, f := range m.files {
		var icon string
		nameStyle := lipgloss.NewStyle()
		switch {
		case f.failed:
			icon, nameStyle = IconError, ErrorStyle
		case f.complete:
			icon, nameStyle = IconSuccess, SuccessStyle
		default:
			icon = IconFile
		}

		fmt.Fprintf(&b, "%s %s ", icon, nameStyle.Render(Truncate(f.name, 30)))
		b.WriteString(m.bar.ViewAs(float64(f.percent) / 100))
		fmt.Fprintf(&b, " %3d%%", f.percent)

		switch {
		case f.failed:
			b.WriteString(ErrorStyle.Render(" " + f.errMsg))
		case f.size > 0:
			done := f.size * int64(f.percent) / 100
			b.WriteString(MutedStyle.Render(fmt.Sprintf(" (%s/%s)", FormatSize(done), FormatSize(f.size))))
			if elapsed := m.elapsed(f); elapsed > 0 && !f.complete {
				b.WriteString(MutedStyle.Render(" " + FormatSpeed(float64(done)/elapsed.Seconds())))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m transferModel) elapsed(f *fileProgress) time.Duration {
	if f.complete || f.failed {
		return f.elapsed
	}
	return m.now().Sub(f.started)
}
