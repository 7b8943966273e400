package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// StatusMsg carries a status poll result
type StatusMsg struct {
	Status *StatusResponse
	Err    error
}

// RunStartedMsg carries the result of a manual run trigger
type RunStartedMsg struct {
	Err error
}

// TickMsg drives the polling loop
type TickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func pollStatus(client *SchedulerClient) tea.Cmd {
	return func() tea.Msg {
		status, err := client.GetStatus()
		return StatusMsg{Status: status, Err: err}
	}
}

func startRun(client *SchedulerClient) tea.Cmd {
	return func() tea.Msg {
		return RunStartedMsg{Err: client.StartRun()}
	}
}
