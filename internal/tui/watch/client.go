package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/saya/internal/api"
	"github.com/mattjoyce/saya/internal/events"
)

type eventMsg events.Event

type healthMsg api.HealthzResponse

type modulesMsg api.ModuleListResponse

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// client talks to the admin API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c client) fetchHealth() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var h api.HealthzResponse
	if err := c.get(ctx, "/healthz", &h); err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}

func (c client) fetchModules() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var l api.ModuleListResponse
	if err := c.get(ctx, "/modules", &l); err != nil {
		return errMsg(err)
	}
	return modulesMsg(l)
}

// subscribe reads /events/stream into ch until the connection drops.
func (c client) subscribe(ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/events/stream", nil)
		if err != nil {
			return errMsg(err)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		// No client timeout: the stream is long-lived.
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		readSSE(bufio.NewScanner(resp.Body), ch)
		return sseDisconnectedMsg{}
	}
}

// readSSE parses server-sent event frames into hub events. Each data line
// carries a full JSON event record.
func readSSE(scanner *bufio.Scanner, ch chan<- events.Event) {
	var (
		current events.Event
		hasData bool
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if hasData {
				ch <- current
			}
			current, hasData = events.Event{}, false
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			id, typ := current.ID, current.Type
			if err := json.Unmarshal([]byte(line[6:]), &current); err != nil {
				continue
			}
			if current.ID == 0 {
				current.ID = id
			}
			if current.Type == "" {
				current.Type = typ
			}
			hasData = true
		}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
