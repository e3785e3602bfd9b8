// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Shared styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// statsModel is the linkstats terminal UI
type statsModel struct {
	connInfo      string
	showAll       bool
	monitor       *linkMonitor
	eventLog      []eventLogEntry
	maxLogEntries int
	closed        bool
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type frameMsg sniffed
type linkClosedMsg struct{}

// formatElapsed formats a duration as words, largest unit first
func formatElapsed(d time.Duration) string {
	seconds := int64(d / time.Second)
	days := seconds / 86400
	hours := seconds / 3600 % 24
	minutes := seconds / 60 % 60
	seconds %= 60

	unit := func(n int64, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, unit(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, unit(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, unit(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, unit(seconds, "second"))
	}

	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
}

func newStatsModel(connInfo string, showAll bool) statsModel {
	return statsModel{
		connInfo:      connInfo,
		showAll:       showAll,
		monitor:       newLinkMonitor(),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m statsModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m statsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.monitor.stats.Reset()
			m.monitor.unanswered = 0
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.monitor.stats.CalculateRates()
		return m, tickCmd()

	case frameMsg:
		line, isErr := m.monitor.observe(sniffed(msg))
		if isErr || m.showAll {
			m.addLogEntryAt(msg.at, line, isErr)
		}

	case linkClosedMsg:
		m.closed = true
		m.addLogEntry("Connection closed", true)
	}

	return m, nil
}

func (m *statsModel) addLogEntry(message string, isError bool) {
	m.addLogEntryAt(time.Now(), message, isError)
}

func (m *statsModel) addLogEntryAt(at time.Time, message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: at,
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m statsModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	stats := m.monitor.stats
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("COLDLOCKER - LINK STATISTICS"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' resets, 'q' quits", m.connInfo, mode)))
	s.WriteString("\n\n")

	if m.closed {
		s.WriteString(errorStyle.Render("Connection closed"))
	} else {
		s.WriteString(valueStyle.Render("Listening for " + formatElapsed(time.Since(stats.StartTime))))
	}
	s.WriteString("\n\n")

	stats.CalculateRates()
	var validPercent, errorPercent float64
	if stats.TotalFrames > 0 {
		validPercent = float64(stats.ValidFrames) * 100.0 / float64(stats.TotalFrames)
		errorPercent = float64(stats.Errors()) * 100.0 / float64(stats.TotalFrames)
	}

	var box strings.Builder
	box.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Total:"), valueStyle.Render(fmt.Sprintf("%d", stats.TotalFrames)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%d (%.1f%%)", stats.ValidFrames, validPercent)),
		labelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", stats.Errors(), errorPercent)),
	))

	if stats.CRCErrors > 0 || stats.AddressMismatches > 0 {
		box.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			labelStyle.Render("CRC Errors:"), errorStyle.Render(fmt.Sprintf("%d", stats.CRCErrors)),
			labelStyle.Render("Addr Mismatch:"), errorStyle.Render(fmt.Sprintf("%d", stats.AddressMismatches)),
		))
	}
	if malformed := stats.LengthErrors + stats.UnknownOpcodes + stats.ShortFrames + stats.Overflows; malformed > 0 {
		box.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d, %s: %d)\n",
			labelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d", malformed)),
			headerStyle.Render("length"), stats.LengthErrors,
			headerStyle.Render("opcode"), stats.UnknownOpcodes,
			headerStyle.Render("short"), stats.ShortFrames,
			headerStyle.Render("overflow"), stats.Overflows,
		))
	}
	if m.monitor.unanswered > 0 {
		box.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Unanswered:"), warningStyle.Render(fmt.Sprintf("%d", m.monitor.unanswered)),
		))
	}

	errorRate := valueStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
	if stats.ErrorRate > 0 {
		errorRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
	}
	box.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Frame Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frames/s", stats.FrameRate)),
		labelStyle.Render("Error Rate:"), errorRate,
	))

	s.WriteString(boxStyle.Render(box.String()))
	s.WriteString("\n\n")

	if latest := m.monitor.latest; !latest.at.IsZero() {
		s.WriteString(labelStyle.Render("Latest Readings:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(renderReadings(latest)))
		s.WriteString("\n\n")
	}

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 18
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	var events strings.Builder
	if len(m.eventLog) == 0 {
		events.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[startIdx:] {
		timestamp := headerStyle.Render(entry.timestamp.Format("01/02/06 15:04:05.000"))
		if entry.isError {
			events.WriteString(fmt.Sprintf("%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message)))
		} else {
			events.WriteString(fmt.Sprintf("%s %s\n", timestamp, warningStyle.Render("ℹ "+entry.message)))
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(events.String()))

	return s.String()
}

// renderReadings lays out the values seen so far; unseen values show as "-"
func renderReadings(r readings) string {
	orDash := func(v string) string {
		if v == "" {
			return "-"
		}
		return v
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Door:"), valueStyle.Render(orDash(r.door)),
		labelStyle.Render("Lock:"), valueStyle.Render(orDash(r.lock)),
	))
	b.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Temperature:"), valueStyle.Render(orDash(r.temperature)),
		labelStyle.Render("Set point:"), valueStyle.Render(orDash(r.setpoint)),
	))
	if len(r.weights) > 0 {
		parts := make([]string, len(r.weights))
		for i, w := range r.weights {
			parts[i] = formatWeight(w)
		}
		b.WriteString(fmt.Sprintf("\n%s %s", labelStyle.Render("Weights:"), valueStyle.Render(strings.Join(parts, " "))))
	}
	return b.String()
}
