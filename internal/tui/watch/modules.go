package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/saya/internal/api"
	"github.com/mattjoyce/saya/internal/events"
	"github.com/mattjoyce/saya/internal/saya"
)

// ModuleState tracks one module as seen through polling and lifecycle events.
type ModuleState struct {
	ID        string
	Status    string
	Name      string
	Version   string
	Cubes     int
	Changed   time.Time
	Available bool
}

// applyModuleList replaces polled fields while keeping event timestamps.
func applyModuleList(modules map[string]*ModuleState, list api.ModuleListResponse) {
	seen := make(map[string]bool, len(list.Loaded)+len(list.Available))
	for _, m := range list.Loaded {
		st := moduleEntry(modules, m.ID)
		st.Status = m.State
		st.Name = m.Name
		st.Version = m.Version
		st.Cubes = m.Cubes
		st.Available = false
		seen[m.ID] = true
	}
	for _, id := range list.Available {
		st := moduleEntry(modules, id)
		st.Status = saya.StateUnloaded.String()
		st.Cubes = 0
		st.Available = true
		seen[id] = true
	}
	for id, st := range modules {
		if !seen[id] && st.Status == saya.StateUnloaded.String() {
			delete(modules, id)
		}
	}
}

// updateModuleState folds a lifecycle event into the module table.
func updateModuleState(modules map[string]*ModuleState, e events.Event) {
	if e.Module == "" {
		return
	}
	var status string
	switch e.Type {
	case saya.KindModuleInstalled:
		status = saya.StateLoaded.String()
	case saya.KindModuleUninstall:
		status = saya.StateUnloading.String()
	case saya.KindModuleUninstalled:
		status = saya.StateUnloaded.String()
	default:
		return
	}

	st := moduleEntry(modules, e.Module)
	st.Status = status
	st.Changed = e.At
	if e.Type == saya.KindModuleInstalled {
		var data struct {
			Cubes int    `json:"cubes"`
			Name  string `json:"name"`
		}
		if json.Unmarshal(e.Data, &data) == nil {
			st.Cubes = data.Cubes
			if data.Name != "" {
				st.Name = data.Name
			}
		}
	}
}

func moduleEntry(modules map[string]*ModuleState, id string) *ModuleState {
	st, ok := modules[id]
	if !ok {
		st = &ModuleState{ID: id}
		modules[id] = st
	}
	return st
}

func newModuleTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Module", Width: 20},
			{Title: "State", Width: 10},
			{Title: "Name", Width: 20},
			{Title: "Version", Width: 10},
			{Title: "Cubes", Width: 6},
			{Title: "Changed", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func moduleRows(modules map[string]*ModuleState) []table.Row {
	ids := make([]string, 0, len(modules))
	for id := range modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		st := modules[id]
		changed := "-"
		if !st.Changed.IsZero() {
			changed = st.Changed.Local().Format("15:04:05")
		}
		rows = append(rows, table.Row{
			st.ID,
			st.Status,
			st.Name,
			st.Version,
			fmt.Sprintf("%d", st.Cubes),
			changed,
		})
	}
	return rows
}

func renderModules(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4
	if count == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("MODULES"),
			theme.Dim.Render("  No modules known yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("MODULES"),
		t.View(),
	)
	return theme.Border.Width(innerWidth).Render(content)
}
