// Package broadcast is an in-process event bus. Modules subscribe handlers by
// registering ListenerSchema cubes, which the broadcast Behaviour turns into
// bus listeners for as long as the module stays loaded.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/saya/internal/events"
	"github.com/mattjoyce/saya/internal/saya"
)

// DefaultNamespace is assigned to listeners that do not name one.
const DefaultNamespace = "default"

// DefaultPriority is used when a schema leaves Priority at zero. Lower runs first.
const DefaultPriority = 16

// Event is anything delivered on the bus.
type Event interface {
	Kind() string
}

// Message is a free-form event for host and module code.
type Message struct {
	Name   string
	Module string
	Data   any
}

func (m Message) Kind() string     { return m.Name }
func (m Message) ModuleID() string { return m.Module }

// Handler receives events a listener subscribed to.
type Handler func(ctx context.Context, ev Event) error

// Listener is one subscription on the bus.
type Listener struct {
	ID        string
	Module    string
	Events    []string
	Priority  int
	Namespace string
	Handler   Handler
}

func (l *Listener) listens(kind string) bool {
	for _, e := range l.Events {
		if e == kind {
			return true
		}
	}
	return false
}

// Bus delivers events to listeners in priority order.
type Bus struct {
	mu        sync.RWMutex
	listeners []*Listener
	disabled  map[string]bool

	hub    *events.Hub
	logger *slog.Logger
	sync   bool
	wg     sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithHub records every posted lifecycle event on hub.
func WithHub(hub *events.Hub) Option {
	return func(b *Bus) { b.hub = hub }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithSyncDelivery makes Post deliver before returning.
func WithSyncDelivery() Option {
	return func(b *Bus) { b.sync = true }
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		disabled: make(map[string]bool),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "broadcast")
	return b
}

// Subscribe adds l and returns its id. Missing id, namespace and priority are
// filled in.
func (b *Bus) Subscribe(l Listener) string {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Namespace == "" {
		l.Namespace = DefaultNamespace
	}
	if l.Priority == 0 {
		l.Priority = DefaultPriority
	}

	b.mu.Lock()
	b.listeners = append(b.listeners, &l)
	b.mu.Unlock()

	b.logger.Debug("listener subscribed", "listener", l.ID, "module", l.Module, "events", l.Events)
	return l.ID
}

// Unsubscribe removes the listener with id and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.ID == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Listeners returns a copy of the subscriptions in subscription order.
func (b *Bus) Listeners() []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Listener, len(b.listeners))
	for i, l := range b.listeners {
		out[i] = *l
	}
	return out
}

// SetNamespaceEnabled pauses or resumes delivery to every listener in ns.
func (b *Bus) SetNamespaceEnabled(ns string, enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if enabled {
		delete(b.disabled, ns)
		return
	}
	b.disabled[ns] = true
}

// Publish delivers ev to every matching listener before returning. Handler
// errors do not stop delivery; they are joined into the result.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	return b.deliver(ctx, ev, b.matching(ev.Kind()))
}

// Post implements saya.Notifier. The event is recorded on the hub and
// delivered to the listeners subscribed at the time of the call.
func (b *Bus) Post(ctx context.Context, ev saya.Event) {
	if b.hub != nil {
		b.hub.Publish(ev.Kind(), ev.ModuleID(), lifecycleData(ev))
	}

	targets := b.matching(ev.Kind())
	if len(targets) == 0 {
		return
	}
	if b.sync {
		_ = b.deliver(ctx, ev, targets)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		_ = b.deliver(context.WithoutCancel(ctx), ev, targets)
	}()
}

// Wait blocks until asynchronous deliveries started by Post have finished.
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) matching(kind string) []*Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Listener
	for _, l := range b.listeners {
		if b.disabled[l.Namespace] || !l.listens(kind) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

func (b *Bus) deliver(ctx context.Context, ev Event, targets []*Listener) error {
	var errs []error
	for _, l := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := b.call(ctx, l, ev); err != nil {
			b.logger.Warn("listener failed", "listener", l.ID, "module", l.Module, "event", ev.Kind(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) call(ctx context.Context, l *Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener %s panicked: %v", l.ID, r)
		}
	}()
	return l.Handler(ctx, ev)
}

func lifecycleData(ev saya.Event) map[string]any {
	switch e := ev.(type) {
	case saya.ModuleInstalled:
		data := map[string]any{"cubes": e.Cubes}
		if e.Channel != nil {
			data["name"] = e.Channel.Meta.Name
		}
		return data
	case saya.ModuleUninstall:
		return map[string]any{"cubes": e.Cubes}
	default:
		return nil
	}
}
