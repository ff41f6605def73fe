package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/saya/internal/behaviour"
	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/cube"
)

var (
	ErrNotHandler = errors.New("listener content is not a broadcast handler")
	ErrNoEvents   = errors.New("listener subscribes to no events")
)

// Behaviour wires ListenerSchema cubes into a Bus.
type Behaviour struct {
	behaviour.Base
	bus *Bus
}

// NewBehaviour creates a behaviour subscribing listeners on bus.
func NewBehaviour(bus *Bus) *Behaviour {
	return &Behaviour{bus: bus}
}

func (b *Behaviour) Name() string { return "broadcast" }

// Bus returns the bus listeners are subscribed on.
func (b *Behaviour) Bus() *Bus { return b.bus }

func (b *Behaviour) Allocate(ctx context.Context, c *cube.Cube) (bool, error) {
	schema, ok := listenerSchema(c)
	if !ok {
		return false, nil
	}
	handler, err := asHandler(c.Content)
	if err != nil {
		return false, err
	}
	if len(schema.Events) == 0 {
		return false, ErrNoEvents
	}

	var module string
	if ch, err := channel.Current(ctx); err == nil {
		module = ch.Module
	}
	id := b.bus.Subscribe(Listener{
		Module:    module,
		Events:    append([]string(nil), schema.Events...),
		Priority:  schema.Priority,
		Namespace: schema.Namespace,
		Handler:   handler,
	})

	c.SetContent(id)
	b.Manage(c)
	return true, nil
}

func (b *Behaviour) Uninstall(_ context.Context, c *cube.Cube) (bool, error) {
	if _, ok := listenerSchema(c); !ok || !b.Manages(c) {
		return false, nil
	}
	id, _ := c.Content.(string)
	if !b.bus.Unsubscribe(id) {
		b.bus.logger.Warn("listener already gone", "listener", id)
	}
	b.Release(c)
	c.UnsetContent()
	return true, nil
}

var listenerKinds = behaviour.Accepts(KindListener)

// listenerSchema matches on the schema kind, then reads the listener fields.
func listenerSchema(c *cube.Cube) (ListenerSchema, bool) {
	if p, ok := c.Schema.(*ListenerSchema); ok && p == nil {
		return ListenerSchema{}, false
	}
	if !listenerKinds.Match(c) {
		return ListenerSchema{}, false
	}
	switch s := c.Schema.(type) {
	case ListenerSchema:
		return s, true
	case *ListenerSchema:
		return *s, true
	}
	return ListenerSchema{}, false
}

func asHandler(content any) (Handler, error) {
	switch h := content.(type) {
	case Handler:
		return h, nil
	case func(context.Context, Event) error:
		return h, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrNotHandler, content)
}
