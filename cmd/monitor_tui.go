// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/coldlocker/pkg/hostlink"
)

// Focus states
const (
	focusScaleList = iota
	focusSetpointInput
	focusLockButton
	focusCount
)

var (
	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))

	buttonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("12")).
			Padding(0, 2)

	focusedButtonStyle = buttonStyle.
				Background(lipgloss.Color("10"))
)

// scaleItem is one weight slot in the scale list
type scaleItem struct {
	slot    int
	address byte
	weight  int16
	seen    bool
}

func (s scaleItem) Title() string { return fmt.Sprintf("Scale %d", s.address) }
func (s scaleItem) Description() string {
	if !s.seen {
		return "-"
	}
	if s.weight == hostlink.NetWeightFault {
		return "FAULT"
	}
	return fmt.Sprintf("%d g", s.weight)
}
func (s scaleItem) FilterValue() string { return strconv.Itoa(int(s.address)) }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	ctx      context.Context
	session  *hostSession
	connInfo string
	poll     time.Duration

	scales    []byte
	scaleList list.Model

	setpointInput textinput.Model
	focusedField  int

	latest   *snapshot
	polling  bool
	lost     bool
	polls    uint64
	failures uint64

	eventLog      []eventLogEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
}

// Messages
type monitorTickMsg time.Time
type pollNowMsg struct{}

type snapshotMsg struct {
	snap snapshot
	err  error
}

type commandMsg struct {
	name string
	ok   bool
	err  error
}

type reconnectedMsg struct {
	connInfo string
}

func newMonitorModel(ctx context.Context, session *hostSession, scales []byte, poll time.Duration) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "4"
	ti.CharLimit = 4
	ti.Width = 6

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	scaleList := list.New(nil, delegate, 30, 10)
	scaleList.Title = "Scales"
	scaleList.SetShowStatusBar(false)
	scaleList.SetShowHelp(false)
	scaleList.SetFilteringEnabled(false)

	m := monitorModel{
		ctx:           ctx,
		session:       session,
		connInfo:      session.connInfo,
		poll:          poll,
		scales:        scales,
		scaleList:     scaleList,
		setpointInput: ti,
		focusedField:  focusScaleList,
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
	m.updateScaleList()
	return m
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return pollNowMsg{} },
		m.tickCmd(),
	)
}

func (m monitorModel) tickCmd() tea.Cmd {
	return tea.Tick(m.poll, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// pollCmd queries the controller off the UI goroutine
func (m *monitorModel) pollCmd() tea.Cmd {
	m.polling = true
	ctx, client := m.ctx, m.session.current()
	return func() tea.Msg {
		s, err := pollController(ctx, client)
		return snapshotMsg{snap: s, err: err}
	}
}

func (m *monitorModel) commandCmd(name string, fn func(ctx context.Context, c *hostlink.Client) (bool, error)) tea.Cmd {
	ctx, client := m.ctx, m.session.current()
	return func() tea.Msg {
		ok, err := fn(ctx, client)
		return commandMsg{name: name, ok: ok, err: err}
	}
}

func (m *monitorModel) reconnectCmd() tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		info, err := session.reconnect(ctx)
		if err != nil {
			return nil
		}
		return reconnectedMsg{connInfo: info}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case monitorTickMsg:
		cmds = append(cmds, m.tickCmd())
		if !m.polling && !m.lost {
			cmds = append(cmds, m.pollCmd())
		}
		return m, tea.Batch(cmds...)

	case pollNowMsg:
		if !m.polling && !m.lost {
			return m, m.pollCmd()
		}
		return m, nil

	case snapshotMsg:
		m.polling = false
		m.polls++
		if msg.err != nil {
			m.failures++
			return m, m.handleError("Poll failed", msg.err)
		}
		snap := msg.snap
		m.latest = &snap
		m.updateScaleList()

	case commandMsg:
		if msg.err != nil {
			return m, m.handleError(msg.name+" failed", msg.err)
		}
		if msg.ok {
			m.addLogEntry(msg.name+": SUCCESS", false)
		} else {
			m.addLogEntry(msg.name+": FAIL", true)
		}
		// show the effect without waiting for the next tick
		if !m.polling {
			return m, m.pollCmd()
		}

	case reconnectedMsg:
		m.lost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected: "+msg.connInfo, false)
		return m, m.pollCmd()
	}

	var cmd tea.Cmd
	if m.focusedField == focusSetpointInput {
		m.setpointInput, cmd = m.setpointInput.Update(msg)
		cmds = append(cmds, cmd)
	}
	if m.focusedField == focusScaleList {
		m.scaleList, cmd = m.scaleList.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// handleError logs err and starts reconnecting when the link is gone
func (m *monitorModel) handleError(what string, err error) tea.Cmd {
	if !connectionLost(err) {
		m.addLogEntry(fmt.Sprintf("%s: %v", what, err), true)
		return nil
	}
	if m.lost {
		return nil
	}
	m.lost = true
	m.addLogEntry("Connection lost - reconnecting...", true)
	return m.reconnectCmd()
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		m.cycleFocus(1)
		return m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return m, nil

	case "enter":
		return m.handleEnter()
	}

	var cmd tea.Cmd
	switch m.focusedField {
	case focusSetpointInput:
		m.setpointInput, cmd = m.setpointInput.Update(msg)
	case focusScaleList:
		m.scaleList, cmd = m.scaleList.Update(msg)
	}
	return m, cmd
}

func (m *monitorModel) cycleFocus(delta int) {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount
	if m.focusedField == focusSetpointInput {
		m.setpointInput.Focus()
	} else {
		m.setpointInput.Blur()
	}
}

func (m monitorModel) handleEnter() (tea.Model, tea.Cmd) {
	if m.lost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	switch m.focusedField {
	case focusSetpointInput:
		text := m.setpointInput.Value()
		if text == "" {
			text = m.setpointInput.Placeholder
		}
		v, err := strconv.ParseInt(text, 10, 8)
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Invalid set point: %s", text), true)
			return m, nil
		}
		m.setpointInput.SetValue("")
		setpoint := int8(v)
		return m, m.commandCmd(fmt.Sprintf("SET_TEMPERATURE %d", setpoint), func(ctx context.Context, c *hostlink.Client) (bool, error) {
			return c.SetTemperature(ctx, setpoint)
		})

	case focusLockButton:
		if m.latest != nil && m.latest.locked {
			return m, m.commandCmd("UNLOCK", func(ctx context.Context, c *hostlink.Client) (bool, error) {
				return c.Unlock(ctx)
			})
		}
		return m, m.commandCmd("LOCK", func(ctx context.Context, c *hostlink.Client) (bool, error) {
			return c.Lock(ctx)
		})

	case focusScaleList:
		item, ok := m.scaleList.SelectedItem().(scaleItem)
		if !ok {
			return m, nil
		}
		addr := item.address
		return m, m.commandCmd(fmt.Sprintf("REMOVE_TARE %d", addr), func(ctx context.Context, c *hostlink.Client) (bool, error) {
			return c.RemoveTare(ctx, addr)
		})
	}
	return m, nil
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m *monitorModel) updateScaleList() {
	items := make([]list.Item, len(m.scales))
	for i, addr := range m.scales {
		item := scaleItem{slot: i, address: addr}
		if m.latest != nil && i < len(m.latest.weights) {
			item.weight = m.latest.weights[i]
			item.seen = true
		}
		items[i] = item
	}
	m.scaleList.SetItems(items)
}

func (m *monitorModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.scaleList.SetSize(28, listHeight)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("COLDLOCKER MONITOR"))
	s.WriteString(" ")
	status := valueStyle.Render(m.connInfo)
	if m.lost {
		status = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | Tab: focus, Enter: act, q: quit", status)))
	s.WriteString("\n\n")

	s.WriteString(m.renderReadings())
	s.WriteString("\n")

	leftWidth := 32
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}
	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusScaleList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	scalePanel := listStyle.Render(m.scaleList.View())
	controlPanel := boxStyle.Width(rightWidth).Render(m.renderControls())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, scalePanel, " ", controlPanel))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog())
	return s.String()
}

func (m monitorModel) renderReadings() string {
	var content strings.Builder
	if m.latest == nil {
		content.WriteString(warningStyle.Render("Waiting for the first poll..."))
		return boxStyle.Width(m.width - 4).Render(content.String())
	}

	snap := m.latest
	door := valueStyle.Render(doorText(snap.doorOpen))
	if snap.doorOpen {
		door = warningStyle.Render(doorText(true))
	}
	temperature := valueStyle.Render(formatTemperature(snap.temperature, snap.valid))
	if !snap.valid {
		temperature = errorStyle.Render(formatTemperature(0, false))
	}

	content.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s  %s %s\n",
		labelStyle.Render("Door:"), door,
		labelStyle.Render("Lock:"), valueStyle.Render(lockText(snap.locked)),
		labelStyle.Render("Temp:"), temperature,
		labelStyle.Render("Set point:"), valueStyle.Render(fmt.Sprintf("%d C", snap.setpoint)),
	))
	content.WriteString(headerStyle.Render(fmt.Sprintf("Polled %s ago, %d polls, %d failed",
		time.Since(snap.at).Round(time.Second), m.polls, m.failures)))
	return boxStyle.Width(m.width - 4).Render(content.String())
}

func (m monitorModel) renderControls() string {
	var s strings.Builder

	s.WriteString(labelStyle.Render("Set point: "))
	s.WriteString(m.setpointInput.View())
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("Enter applies the new set point"))
	s.WriteString("\n\n")

	btnText := "[ Lock ]"
	if m.latest != nil && m.latest.locked {
		btnText = "[ Unlock ]"
	}
	if m.focusedField == focusLockButton {
		s.WriteString(focusedButtonStyle.Render(btnText))
	} else {
		s.WriteString(buttonStyle.Render(btnText))
	}
	s.WriteString("\n\n")
	s.WriteString(headerStyle.Render("Enter on a scale removes its tare"))
	return s.String()
}

func (m monitorModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := m.height - m.height/3 - 16
	if logHeight < 3 {
		logHeight = 3
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
		style := warningStyle
		if entry.isError {
			style = errorStyle
		}
		events.WriteString(fmt.Sprintf("%s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05")),
			style.Render(entry.message)))
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(events.String()))
	return s.String()
}
