package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model interface
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case StatusMsg:
		return m.handleStatus(msg)
	case RunStartedMsg:
		return m.handleRunStarted(msg)
	case TickMsg:
		return m, tea.Batch(pollStatus(m.Client), tick())
	}
	return m, nil
}

// handleKeyPress processes keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "r", "R":
		if m.Connected {
			return m, startRun(m.Client)
		}
	}
	return m, nil
}

// handleStatus processes a status poll result
func (m Model) handleStatus(msg StatusMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.Connected = false
		m.Err = msg.Err
		return m, nil
	}
	m.Connected = true
	m.Err = nil
	m.Status = msg.Status
	return m, nil
}

// handleRunStarted processes the result of a manual run trigger
func (m Model) handleRunStarted(msg RunStartedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.Err = msg.Err
	}
	return m, nil
}
