// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/watchdog/pkg/bpacket"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	connInfo string
	conn     io.Writer
	to       bpacket.Address
	from     bpacket.Address
	code     bpacket.Code
	showAll  bool

	stats         *bpacket.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int
	lastSeen      map[bpacket.Address]time.Time // Last packet from each sender

	synchronized bool
	skipped      int // Decode errors before the first packet
	started      time.Time

	input    textinput.Model
	width    int
	height   int
	quitting bool
	closed   bool
}

// Messages
type monitorTickMsg time.Time

type monitorBatchMsg struct {
	events []streamEvent
}

type monitorSentMsg struct {
	packet *bpacket.Packet
	err    error
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	unit := func(n uint64, name string) string {
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

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialMonitorModel(conn io.Writer, connInfo string, to, from bpacket.Address, code bpacket.Code, showAll bool) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "message text"
	ti.CharLimit = bpacket.MaxDataSize
	ti.Width = 60
	ti.Prompt = fmt.Sprintf("%s> ", to)
	ti.Focus()

	return monitorModel{
		connInfo:      connInfo,
		conn:          conn,
		to:            to,
		from:          from,
		code:          code,
		showAll:       showAll,
		stats:         bpacket.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		lastSeen:      make(map[bpacket.Address]time.Time),
		started:       time.Now(),
		input:         ti,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(monitorTickCmd(), textinput.Blink)
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// sendPacketCmd writes p on w outside the update loop
func sendPacketCmd(w io.Writer, p *bpacket.Packet) tea.Cmd {
	return func() tea.Msg {
		frame, err := bpacket.Encode(p)
		if err == nil {
			_, err = w.Write(frame)
		}
		return monitorSentMsg{packet: p, err: err}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			return m.handleEnter()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if msg.Width > 20 {
			m.input.Width = msg.Width - 20
		}

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case monitorBatchMsg:
		for _, ev := range msg.events {
			m.processEvent(ev)
		}
		return m, nil

	case monitorSentMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Send failed: %v", msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("-> %s: %s", msg.packet.Receiver(), msg.packet.Text()), false)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m monitorModel) handleEnter() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if m.closed {
		m.addLogEntry("Cannot send message: connection closed", true)
		return m, nil
	}

	packet, err := bpacket.NewMessagePacket(m.to, m.from, m.code, text)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Cannot send message: %v", err), true)
		return m, nil
	}
	m.input.Reset()
	return m, sendPacketCmd(m.conn, packet)
}

// processEvent applies one decoder result to the model
func (m *monitorModel) processEvent(ev streamEvent) {
	switch {
	case ev.readErr != nil:
		if !m.closed {
			m.closed = true
			m.addLogEntry(fmt.Sprintf("Connection closed: %v", ev.readErr), true)
		}

	case ev.decodeErr != nil:
		// Garbage before the first frame is line noise, not an error
		if !m.synchronized {
			m.skipped++
			return
		}
		m.stats.Update(nil, ev.decodeErr, nil)
		m.addLogEntry("DECODE ERROR: "+bpacket.FormatDecodeError(ev.decodeErr), true)

	case ev.packet != nil:
		p := ev.packet
		if !m.synchronized {
			m.synchronized = true
			if m.skipped > 0 {
				m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d decode errors", m.skipped), false)
			} else {
				m.addLogEntry("Synchronized", false)
			}
		}

		anomalies := bpacket.ValidatePacket(p)
		m.stats.Update(p, nil, anomalies)
		m.lastSeen[p.Sender()] = p.Timestamp()

		switch {
		case len(anomalies) > 0:
			for _, a := range anomalies {
				m.addLogEntry(fmt.Sprintf("%s: %s", p.Request(), a.Message), true)
			}
		case p.Request() == bpacket.RequestMessage:
			m.addLogEntry(fmt.Sprintf("%s (%s): %s", p.Sender(), p.Code(), p.Text()), p.Code() == bpacket.CodeError)
		case m.showAll:
			m.addLogEntry(p.String(), false)
		}
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
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

	var s strings.Builder
	s.WriteString(titleStyle.Render("WATCHDOG - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Sending as %s to %s | Up %s | Esc to quit",
		m.connInfo, m.from, m.to, formatUptime(uint64(time.Since(m.started).Milliseconds())))))
	s.WriteString("\n\n")

	switch {
	case m.closed:
		s.WriteString(errorStyle.Render("✗ Connection closed"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.skipped > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d decode errors)", m.skipped)))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	st := m.stats
	var validPercent, errorPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidPackets) * 100.0 / float64(st.TotalFrames)
		errorPercent = float64(st.Errors()) * 100.0 / float64(st.TotalFrames)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidPackets, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.Errors(), errorPercent)),
	))

	if st.FramingErrors > 0 || st.FieldErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Framing:"), errorStyle.Render(fmt.Sprintf("%d", st.FramingErrors)),
			statsLabelStyle.Render("Fields:"), errorStyle.Render(fmt.Sprintf("%d", st.FieldErrors)),
		))
	}

	if st.Anomalies > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Anomalies:"), warningStyle.Render(fmt.Sprintf("%d", st.Anomalies)),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", st.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n")

	// Nodes heard from
	nodes := make([]string, 0, len(bpacket.Addresses))
	for _, a := range bpacket.Addresses {
		if t, ok := m.lastSeen[a]; ok {
			nodes = append(nodes, fmt.Sprintf("%s %s ago", a, time.Since(t).Truncate(time.Second)))
		}
	}
	if len(nodes) > 0 {
		s.WriteString(statsLabelStyle.Render("Heard from: "))
		s.WriteString(statsValueStyle.Render(strings.Join(nodes, ", ")))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 16 // Reserve space for header, stats and input
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
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

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(logContent.String()))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(width).Render(m.input.View()))

	return s.String()
}

// batchEvents forwards events to send in batches, at most one per interval.
// Whatever is pending is flushed when the stream ends.
func batchEvents(ctx context.Context, events <-chan streamEvent, interval time.Duration, send func(tea.Msg)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var batch []streamEvent
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				if len(batch) > 0 {
					send(monitorBatchMsg{events: batch})
				}
				return
			}
			batch = append(batch, ev)

		case <-ticker.C:
			if len(batch) > 0 {
				send(monitorBatchMsg{events: batch})
				batch = nil
			}
		}
	}
}
