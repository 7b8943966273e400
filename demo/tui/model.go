package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// LogEntry mirrors the scheduler's run log line
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// RunSummary mirrors the scheduler's end-of-run summary
type RunSummary struct {
	Succeeded      int `json:"succeeded"`
	FailedTerminal int `json:"failed_terminal"`
	Dropped        int `json:"dropped"`
	Retries        int `json:"retries"`
	Cancelled      int `json:"cancelled"`
}

// StatusResponse is the JSON response from GET /api/status
type StatusResponse struct {
	State          string      `json:"state"`
	Logs           []LogEntry  `json:"logs"`
	Candidates     int         `json:"candidates"`
	Rendered       int         `json:"rendered"`
	Terminal       int         `json:"terminal"`
	LastRunAt      *time.Time  `json:"last_run_at,omitempty"`
	LastRunSummary *RunSummary `json:"last_run_summary,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// Model is the dashboard state, a thin client over the scheduler API
type Model struct {
	Client *SchedulerClient

	Status    *StatusResponse
	Connected bool
	Err       error
}

// NewModel creates a dashboard model for the given scheduler URL
func NewModel(schedulerURL string) Model {
	return Model{
		Client: NewSchedulerClient(schedulerURL),
	}
}

// Init implements tea.Model: start polling immediately
func (m Model) Init() tea.Cmd {
	return tea.Batch(pollStatus(m.Client), tick())
}
