package tui

import (
	"fmt"
	"strings"
)

// View implements tea.Model interface
func (m Model) View() string {
	var b strings.Builder

	// Title
	b.WriteString(TitleStyle.Render("🎬 Clippy Scheduler Dashboard"))
	b.WriteString("\n\n")

	// Connection state
	if !m.Connected {
		b.WriteString(ErrorStyle.Render("❌ Disconnected from scheduler"))
		if m.Err != nil {
			b.WriteString("\n")
			b.WriteString(InfoStyle.Render("   " + m.Err.Error()))
		}
		b.WriteString("\n\n")
		b.WriteString(InfoStyle.Render("Press 'q' or Ctrl+C to quit"))
		return b.String()
	}

	st := m.Status
	if st == nil {
		b.WriteString(InfoStyle.Render("Connecting..."))
		return b.String()
	}

	// Run state
	b.WriteString(m.stateText(st.State))
	b.WriteString("\n\n")

	// Candidate counts
	counts := fmt.Sprintf("📊 Candidates: %d | Rendered: %d | Terminal: %d",
		st.Candidates, st.Rendered, st.Terminal)
	b.WriteString(InfoStyle.Render(counts))
	b.WriteString("\n")

	// Last run summary
	if st.LastRunSummary != nil {
		summary := fmt.Sprintf("   Last run: %d published, %d failed, %d dropped, %d retries",
			st.LastRunSummary.Succeeded, st.LastRunSummary.FailedTerminal,
			st.LastRunSummary.Dropped, st.LastRunSummary.Retries)
		b.WriteString(InfoStyle.Render(summary))
		b.WriteString("\n")
		if st.LastRunAt != nil {
			b.WriteString(InfoStyle.Render("   Finished at: " + st.LastRunAt.Format("15:04:05")))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	// Recent activity
	if len(st.Logs) > 0 {
		b.WriteString(InfoStyle.Render("📝 Recent Activity:"))
		b.WriteString("\n")
		logs := st.Logs
		if len(logs) > 10 {
			logs = logs[len(logs)-10:]
		}
		for _, entry := range logs {
			line := fmt.Sprintf("   %s %s", entry.Timestamp.Format("15:04:05"), entry.Message)
			b.WriteString(InfoStyle.Render(line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if st.Error != "" {
		b.WriteString(ErrorStyle.Render("⚠️ " + st.Error))
		b.WriteString("\n\n")
	}

	// Help text
	if st.State == "idle" {
		b.WriteString(HighlightStyle.Render("Press 'r' to start a run"))
		b.WriteString(InfoStyle.Render("  Press 'q' or Ctrl+C to quit"))
	} else {
		b.WriteString(InfoStyle.Render("Press 'q' or Ctrl+C to quit"))
	}

	return b.String()
}

func (m Model) stateText(state string) string {
	switch state {
	case "idle":
		return StatusStyle.Render("✅ Idle, waiting for next scheduled run")
	case "planning":
		return StatusStyle.Render("🗓️ Planning publication queue...")
	case "publishing":
		return StatusStyle.Render("📤 Publishing clips...")
	case "error":
		return ErrorStyle.Render("❌ Last run failed")
	default:
		return InfoStyle.Render("State: " + state)
	}
}
