package watch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/saya/internal/api"
	"github.com/mattjoyce/saya/internal/events"
	"github.com/mattjoyce/saya/internal/saya"
)

const eventLogSize = 50

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	client client

	width  int
	height int

	health    HealthState
	modules   map[string]*ModuleState
	schedules map[string]*ScheduleState
	eventLog  []events.Event

	ticker   Ticker
	activity Activity
	table    table.Model
	theme    Theme
	now      func() time.Time

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model for the admin API at apiURL.
func New(apiURL, token string) Model {
	return Model{
		client:    client{baseURL: apiURL, token: token, http: &http.Client{Timeout: 5 * time.Second}},
		modules:   make(map[string]*ModuleState),
		schedules: make(map[string]*ScheduleState),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		table:     newModuleTable(),
		theme:     NewDefaultTheme(),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribe(m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		m.client.fetchModules,
		tick(),
		tea.EnterAltScreen,
	)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.client.fetchModules
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(20, m.width-8))

	case tickMsg:
		m.ticker.Tick()
		m.activity.Decay(time.Time(msg))
		return m, tick()

	case eventMsg:
		m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.ModulesLoaded = msg.ModulesLoaded
		m.health.Behaviours = msg.Behaviours
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.client.fetchHealth() })

	case modulesMsg:
		applyModuleList(m.modules, api.ModuleListResponse(msg))
		m.table.SetRows(moduleRows(m.modules))
		return m, tea.Tick(10*time.Second, func(time.Time) tea.Msg { return m.client.fetchModules() })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.client.subscribe(m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.client.fetchHealth() })
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// applyEvent folds one hub event into every panel.
func (m *Model) applyEvent(e events.Event) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > eventLogSize {
		m.eventLog = m.eventLog[:eventLogSize]
	}
	m.activity.OnEvent(e.At)

	updateModuleState(m.modules, e)
	updateScheduleState(m.schedules, e)
	if e.Type == saya.KindModuleUninstalled {
		dropModuleSchedules(m.schedules, e.Module)
	}
	m.table.SetRows(moduleRows(m.modules))

	m.health.Connected = true
	m.lastError = ""
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing saya watch..."
	}

	parts := []string{
		renderHeader(m.health, m.ticker, m.activity, m.theme, m.width, m.now()),
		renderModules(m.table, len(m.modules), m.theme, m.width),
		renderSchedules(m.schedules, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [r] Refresh • [↑/↓] Navigate modules"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the TUI and blocks until the user quits.
func Run(apiURL, token string) error {
	_, err := tea.NewProgram(New(apiURL, token)).Run()
	return err
}
