package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/saya/internal/events"
	"github.com/mattjoyce/saya/internal/saya"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case saya.KindModuleInstalled:
		typeStyle = theme.StatusOK
	case saya.KindModuleUninstall:
		typeStyle = theme.StatusPending
	case saya.KindModuleUninstalled:
		typeStyle = theme.StatusFailed
	case "scheduler.tick":
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-24s", e.Type))
	return fmt.Sprintf("%s %s %-16s %s", ts, typeName, e.Module, truncate(string(e.Data), 60))
}
