// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/twestage/internal/metrics"
	"github.com/Thermoquad/twestage/pkg/twefmt"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// TUI model
type model struct {
	connInfo      string
	showAll       bool
	stats         *twefmt.Statistics
	nodes         *nodeTable
	metrics       *metrics.AppMetrics
	errorLog      []errorLogEntry
	maxLogEntries int
	synchronized  bool
	skipped       int
	width         int
	height        int
	quitting      bool
	closed        bool
	lastPacket    twefmt.Packet
}

// Messages
type tickMsg time.Time
type frameMsg struct {
	decoded
}
type syncMsg struct {
	skipped int
}
type connClosedMsg struct {
	err error
}

// formatElapsed formats a duration as a human-friendly string
func formatElapsed(d time.Duration) string {
	total := int64(d / time.Second)
	if total <= 0 {
		return "0 seconds"
	}

	days := total / 86400
	hours := total / 3600 % 24
	minutes := total / 60 % 60
	seconds := total % 60

	parts := []string{}
	for _, p := range []struct {
		n    int64
		unit string
	}{
		{days, "day"},
		{hours, "hour"},
		{minutes, "minute"},
		{seconds, "second"},
	} {
		switch {
		case p.n == 1:
			parts = append(parts, "1 "+p.unit)
		case p.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", p.n, p.unit))
		}
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

func initialModel(connInfo string, showAll bool, m *metrics.AppMetrics) model {
	return model{
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         twefmt.NewStatistics(),
		nodes:         newNodeTable(),
		metrics:       m,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
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

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.skipped = msg.skipped
		if msg.skipped > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d rejected frames", msg.skipped), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case connClosedMsg:
		m.closed = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Connection lost: %v", msg.err), true)
		} else {
			m.addLogEntry("Connection closed", true)
		}

	case frameMsg:
		m.handleFrame(msg.decoded)
	}

	return m, nil
}

func (m *model) handleFrame(d decoded) {
	if d.err != nil {
		if m.synchronized {
			m.stats.Update(nil, d.err, nil)
			m.addLogEntry(fmt.Sprintf("FRAME ERROR: %v", d.err), true)
		}
		return
	}

	m.stats.Update(d.packet, d.parseErr, d.issues)
	if d.parseErr != nil {
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v (%d bytes)", d.parseErr, len(d.payload)), true)
		return
	}

	m.lastPacket = d.packet
	info := d.packet.Info()
	if m.nodes.observe(d.packet) {
		m.metrics.NodesSeen.Set(float64(m.nodes.len()))
		m.addLogEntry(fmt.Sprintf("New node %08X (%s)", info.SrcAddr, d.packet.Kind()), false)
	}

	if len(d.issues) > 0 {
		for _, v := range d.issues {
			m.addLogEntry(fmt.Sprintf("%s %08X: %s", d.packet.Kind(), info.SrcAddr, v.Message), true)
		}
	} else if m.showAll {
		m.addLogEntry(fmt.Sprintf("%s %08X lqi=%d (valid)", d.packet.Kind(), info.SrcAddr, info.LQI), false)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
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

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("TWESTAGE - MONITOR"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All packets"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset, 'q' quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.closed:
		s.WriteString(errorStyle.Render("✗ Disconnected"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.skipped > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d rejected frames)", m.skipped)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.statsView()))
	s.WriteString("\n\n")

	if m.lastPacket != nil {
		s.WriteString(statsLabelStyle.Render("Latest Packet:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(strings.TrimRight(twefmt.FormatPacket(m.lastPacket), "\n")))
		s.WriteString("\n\n")
	}

	// Error log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Reserve space for header, stats and the packet box
	logHeight := m.height - 20
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
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

func (m model) statsView() string {
	st := m.stats
	st.CalculateRates()

	var validPercent, errorPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidPackets) * 100.0 / float64(st.TotalFrames)
		errorPercent = float64(st.ErrorCount()) * 100.0 / float64(st.TotalFrames)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidPackets, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ErrorCount(), errorPercent)),
	))

	if st.ChecksumErrors > 0 || st.FramingErrors > 0 {
		b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", st.ChecksumErrors)),
			statsLabelStyle.Render("Framing:"), errorStyle.Render(fmt.Sprintf("%d", st.FramingErrors)),
		))
	}

	if st.UnknownPackets > 0 || st.MalformedPkts > 0 {
		b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Unknown:"), warningStyle.Render(fmt.Sprintf("%d", st.UnknownPackets)),
			statsLabelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d", st.MalformedPkts)),
		))
	}

	if st.AnomalousValues > 0 {
		b.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", st.AnomalousValues)),
			headerStyle.Render("low volt"), st.LowVoltage,
			headerStyle.Render("zero LQI"), st.ZeroLQI,
			headerStyle.Render("temp"), st.InvalidTemp,
			headerStyle.Render("humidity"), st.InvalidHumidity,
		))
	}

	errRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), errRate,
		statsLabelStyle.Render("Nodes:"), statsValueStyle.Render(fmt.Sprintf("%d", m.nodes.len())),
	))
	b.WriteString(fmt.Sprintf("%s %s",
		statsLabelStyle.Render("Running:"), statsValueStyle.Render(formatElapsed(time.Since(st.StartTime))),
	))

	return b.String()
}
