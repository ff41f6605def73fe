package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/saya/internal/events"
)

// ScheduleState tracks one scheduled job from its tick events.
type ScheduleState struct {
	Module    string
	Job       string
	Runs      int64
	LastError string
	LastRun   time.Time
}

func updateScheduleState(schedules map[string]*ScheduleState, e events.Event) {
	if e.Type != "scheduler.tick" {
		return
	}

	var data struct {
		Job   string `json:"job"`
		Run   int64  `json:"run"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.Job == "" {
		return
	}

	key := e.Module + "\x00" + data.Job
	st, ok := schedules[key]
	if !ok {
		st = &ScheduleState{Module: e.Module, Job: data.Job}
		schedules[key] = st
	}
	st.Runs = data.Run
	st.LastError = data.Error
	st.LastRun = e.At
}

// dropModuleSchedules forgets the jobs of an unloaded module.
func dropModuleSchedules(schedules map[string]*ScheduleState, module string) {
	for key, st := range schedules {
		if st.Module == module {
			delete(schedules, key)
		}
	}
}

func renderSchedules(schedules map[string]*ScheduleState, theme Theme, width int) string {
	innerWidth := width - 4

	if len(schedules) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("SCHEDULES"),
			theme.Dim.Render("  No job has ticked yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	keys := make([]string, 0, len(schedules))
	for key := range schedules {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := []string{theme.Title.Render("SCHEDULES")}
	for i, key := range keys {
		if i >= 8 {
			break
		}
		lines = append(lines, renderScheduleRow(schedules[key], theme))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderScheduleRow(s *ScheduleState, theme Theme) string {
	status := theme.StatusOK.Render("[ok]")
	if s.LastError != "" {
		status = theme.StatusFailed.Render("[failed]")
	}

	last := "-"
	if !s.LastRun.IsZero() {
		last = s.LastRun.Local().Format("15:04:05")
	}

	detail := ""
	if s.LastError != "" {
		detail = " " + theme.Dim.Render(truncate(s.LastError, 40))
	}

	name := fmt.Sprintf("%s/%s", s.Module, s.Job)
	return fmt.Sprintf(" %-28s %s runs=%d last=%s%s", name, status, s.Runs, last, detail)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
