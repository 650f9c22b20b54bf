// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/twestage/pkg/tweprog"
)

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type progEventMsg struct {
	ev     tweprog.Event
	chunk  int
	chunks int
}

type progDoneMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

// stepEntry is one line of the state checklist.
type stepEntry struct {
	state tweprog.State
	done  bool
	ok    bool
	note  string
}

// progModel shows a bootloader session: a checklist of states, a spinner
// for the active one and a progress bar for WRITE and VERIFY.
type progModel struct {
	title    string
	portName string
	cancel   context.CancelFunc

	spinner spinner.Model
	bar     progress.Model

	steps   []stepEntry
	current tweprog.State
	percent float64
	chunk   int
	chunks  int
	started time.Time

	width     int
	done      bool
	err       error
	cancelled bool
}

func newProgModel(title, portName string, cancel context.CancelFunc) progModel {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = statsLabelStyle

	return progModel{
		title:    title,
		portName: portName,
		cancel:   cancel,
		spinner:  sp,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		started:  time.Now(),
		width:    80,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m progModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			// The session resets the module before reporting done.
			if !m.cancelled && m.cancel != nil {
				m.cancel()
			}
			m.cancelled = true
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(max(msg.Width-20, 20), 80)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progEventMsg:
		m.handleEvent(msg)
		return m, nil

	case progDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m *progModel) handleEvent(msg progEventMsg) {
	ev := msg.ev
	m.chunk, m.chunks = msg.chunk, msg.chunks

	if ev.Kind == tweprog.EventNewState {
		m.current = ev.State
		m.steps = append(m.steps, stepEntry{state: ev.State})
		if ev.State.Chunked() {
			m.percent = 0
		}
		return
	}

	if ev.State.Chunked() && ev.OK {
		m.percent = float64(ev.Progress) / 1024
		if ev.Progress < 1024 {
			return
		}
	}

	if len(m.steps) == 0 {
		return
	}
	last := &m.steps[len(m.steps)-1]
	last.done = true
	last.ok = ev.OK
	if !ev.OK {
		if ev.TimedOut {
			last.note = "timeout"
		} else {
			last.note = ev.Status.String()
		}
	}
}

func (m progModel) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("TWESTAGE - BOOTLOADER"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Port: %s | %s | Press 'q' to abort", m.portName, m.title)))
	s.WriteString("\n\n")

	for i, st := range m.steps {
		active := i == len(m.steps)-1 && !st.done && !m.done
		switch {
		case active:
			s.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), st.state))
		case st.done && st.ok:
			s.WriteString(statsValueStyle.Render("✓ "+st.state.String()) + "\n")
		case st.done:
			s.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s (%s)", st.state, st.note)) + "\n")
		default:
			s.WriteString(warningStyle.Render("- "+st.state.String()) + "\n")
		}
	}

	if m.current.Chunked() {
		s.WriteString("\n")
		s.WriteString(m.bar.ViewAs(m.percent))
		s.WriteString(headerStyle.Render(fmt.Sprintf("  chunk %d/%d", m.chunk, m.chunks)))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	elapsed := time.Since(m.started).Round(100 * time.Millisecond)
	switch {
	case m.done && m.err != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("Failed after %s: %v", elapsed, m.err)))
	case m.done:
		s.WriteString(statsValueStyle.Render(fmt.Sprintf("Done in %s", elapsed)))
	case m.cancelled:
		s.WriteString(warningStyle.Render("Aborting, resetting module..."))
	default:
		s.WriteString(headerStyle.Render(fmt.Sprintf("Elapsed %s", elapsed)))
	}
	s.WriteString("\n")

	return s.String()
}
