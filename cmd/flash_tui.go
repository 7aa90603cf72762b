// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/cinder/pkg/flasher"
)

// Flash event log entry
type flashLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Messages
type flashTickMsg time.Time
type flashProgressMsg struct {
	progress flasher.Progress
	stats    flasher.Statistics
}
type flashLogMsg struct {
	message string
	isError bool
}
type flashDoneMsg struct {
	err   error
	state flasher.State
	chip  string
	stats flasher.Statistics
}

// TUI model for the flash command
type flashModel struct {
	connInfo      string
	regionCount   int
	totalBytes    int
	bar           progress.Model
	current       flasher.Progress
	stats         flasher.Statistics
	haveProgress  bool
	chip          string
	log           []flashLogEntry
	maxLogEntries int
	done          bool
	err           error
	width         int
	height        int
	quitting      bool
}

func newFlashModel(connInfo string, images *flasher.ImageSet) flashModel {
	return flashModel{
		connInfo:      connInfo,
		regionCount:   images.Count(),
		totalBytes:    images.TotalBytes(),
		bar:           progress.New(progress.WithDefaultGradient()),
		log:           make([]flashLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m flashModel) Init() tea.Cmd {
	return flashTickCmd()
}

func flashTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return flashTickMsg(t)
	})
}

func (m flashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = msg.Width - 8
		if m.bar.Width > 60 {
			m.bar.Width = 60
		}

	case flashTickMsg:
		// Update statistics rates
		m.stats.CalculateRates()
		return m, flashTickCmd()

	case flashProgressMsg:
		m.current = msg.progress
		m.stats = msg.stats
		m.haveProgress = true

	case flashLogMsg:
		m.addLogEntry(msg.message, msg.isError)

	case flashDoneMsg:
		m.done = true
		m.err = msg.err
		m.stats = msg.stats
		if msg.chip != "" {
			m.chip = msg.chip
		}
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("FAILED: %v", msg.err), true)
		} else {
			m.addLogEntry("Flash complete, module rebooted", false)
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m *flashModel) addLogEntry(message string, isError bool) {
	entry := flashLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.log = append(m.log, entry)

	// Keep only last N entries
	if len(m.log) > m.maxLogEntries {
		m.log = m.log[len(m.log)-m.maxLogEntries:]
	}
}

func (m flashModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("CINDER - FIRMWARE FLASH"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %d region(s), %d bytes | Press 'q' to abort",
		m.connInfo, m.regionCount, m.totalBytes)))
	s.WriteString("\n\n")

	// Phase status
	switch {
	case m.done && m.err != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ Failed: %v", m.err)))
	case m.done:
		s.WriteString(statsValueStyle.Render(fmt.Sprintf("✓ Complete, %s rebooted into new firmware", m.chip)))
	case !m.haveProgress:
		s.WriteString(warningStyle.Render("⏳ Connecting to bootloader..."))
	default:
		s.WriteString(statsValueStyle.Render(fmt.Sprintf("State: %s", m.current.State)))
	}
	s.WriteString("\n\n")

	// Progress bar
	s.WriteString(m.bar.ViewAs(m.current.Percentage() / 100.0))
	s.WriteString("\n")
	if m.haveProgress && m.current.RegionCount > 0 {
		name := m.current.RegionName
		if name == "" {
			name = fmt.Sprintf("region %d", m.current.Region)
		}
		s.WriteString(headerStyle.Render(fmt.Sprintf("Region %d/%d: %s (chunk %d)  %d / %d bytes",
			m.current.Region+1, m.current.RegionCount, name, m.current.Sequence,
			m.current.BytesWritten, m.current.TotalBytes)))
	}
	s.WriteString("\n\n")

	// Statistics
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Commands:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.CommandsSent)),
		statsLabelStyle.Render("OK:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.ResponsesOK)),
		statsLabelStyle.Render("Retries:"), func() string {
			if m.stats.Retries > 0 {
				return warningStyle.Render(fmt.Sprintf("%d", m.stats.Retries))
			}
			return statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Retries))
		}(),
	))

	if m.stats.Timeouts > 0 || m.stats.FramingErrors > 0 || m.stats.StatusRejections > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Timeouts:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.Timeouts)),
			statsLabelStyle.Render("Framing:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.FramingErrors)),
			statsLabelStyle.Render("Rejected:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.StatusRejections)),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Command Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f cmds/s", m.stats.CommandRate)),
		statsLabelStyle.Render("Throughput:"), statsValueStyle.Render(fmt.Sprintf("%.0f bytes/s", m.stats.Throughput)),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15 // Reserve space for header and stats
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.log) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.log) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.log); i++ {
			entry := m.log[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

// runFlashTUI flashes with a live terminal UI
func runFlashTUI(transport flasher.Transport, connInfo string, images *flasher.ImageSet) error {
	m := newFlashModel(connInfo, images)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Flash worker goroutine. Fills done before notifying the TUI so the
	// post-Run read below cannot miss a finished run.
	done := make(chan flashDoneMsg, 1)
	go func() {
		result := flashWorker(p, transport, images)
		done <- result
		p.Send(result)
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	select {
	case result := <-done:
		if result.err != nil {
			return result.err
		}
		fmt.Printf("\033[1;32mSUCCESS:\033[0m %s flashed and rebooted into new firmware\n\n", result.chip)
		fmt.Print(result.stats.String())
		return nil
	default:
		return fmt.Errorf("aborted before completion")
	}
}

// flashWorker runs the flashing session and reports back to the TUI
func flashWorker(p *tea.Program, transport flasher.Transport, images *flasher.ImageSet) flashDoneMsg {
	var session *flasher.Session

	opts := append(flashOptions(),
		flasher.WithLogger(&tuiLogger{p: p}),
		flasher.WithProgressCallback(func(prog flasher.Progress) {
			// Runs on this goroutine between chunks, so the snapshot
			// copy is race free.
			p.Send(flashProgressMsg{progress: prog, stats: *session.Statistics()})
		}),
	)
	session = flasher.New(transport, opts...)

	fail := func(err error) flashDoneMsg {
		return flashDoneMsg{
			err:   err,
			state: session.State(),
			chip:  session.Chip().String(),
			stats: *session.Statistics(),
		}
	}

	if err := session.Connect(); err != nil {
		return fail(err)
	}

	if err := session.Flash(images); err != nil {
		return fail(err)
	}

	if !flashNoVerify {
		if err := session.Verify(images); err != nil {
			if errors.Is(err, flasher.ErrVerificationUnavailable) {
				p.Send(flashLogMsg{message: "Verification skipped: loader cannot hash flash contents"})
			} else {
				return fail(err)
			}
		} else {
			p.Send(flashLogMsg{message: "All regions verified"})
		}
	}

	if err := session.Finalize(); err != nil {
		return fail(err)
	}

	return flashDoneMsg{
		state: session.State(),
		chip:  session.Chip().String(),
		stats: *session.Statistics(),
	}
}

// tuiLogger forwards session diagnostics into the TUI event log
type tuiLogger struct {
	p *tea.Program
}

func (l *tuiLogger) Debug(msg string, keysAndValues ...interface{}) {}

func (l *tuiLogger) Info(msg string, keysAndValues ...interface{}) {
	l.p.Send(flashLogMsg{message: formatLogLine(msg, keysAndValues)})
}

func (l *tuiLogger) Error(msg string, keysAndValues ...interface{}) {
	l.p.Send(flashLogMsg{message: formatLogLine(msg, keysAndValues), isError: true})
}
