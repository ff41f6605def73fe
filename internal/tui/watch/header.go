package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks host health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	ModulesLoaded int
	Behaviours    int
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, ticker Ticker, activity Activity, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEventStr := "never"
	if !activity.LastEvent().IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", now.Sub(activity.LastEvent()).Round(time.Second))
	}

	titleText := fmt.Sprintf(" SAYA WATCH %s", theme.Highlight.Render(ticker.Current()))
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := max(1, innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Modules: %d  Behaviours: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.ModulesLoaded,
		health.Behaviours,
	)
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
