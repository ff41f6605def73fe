package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/saya/internal/behaviour"
	"github.com/mattjoyce/saya/internal/cube"
)

// GlobalModule names the bottom frame holding the global behaviours.
const GlobalModule = "saya.global"

// ErrDispatchCrashed is returned when no behaviour claims a cube.
var ErrDispatchCrashed = errors.New("dispatch crashed")

// Observer is notified of dispatch outcomes.
type Observer interface {
	CubeAllocated(module string, b behaviour.Behaviour, c *cube.Cube)
	CubeUninstalled(module string, b behaviour.Behaviour, c *cube.Cube)
	DispatchCrashed(module string, c *cube.Cube)
}

// Frame is one in-progress module load.
type Frame struct {
	Module     string
	Behaviours []behaviour.Behaviour

	// cursor is the candidate index currently being consulted while active > 0.
	cursor int
	active int
}

// Interface walks the behaviour pools for each dispatched cube.
type Interface struct {
	frames     []*Frame
	allocating []*cube.Cube
	owners     map[string]behaviour.Behaviour
	observer   Observer
	logger     *slog.Logger
}

// New creates an Interface with an empty global pool.
func New(logger *slog.Logger) *Interface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interface{
		frames: []*Frame{{Module: GlobalModule}},
		owners: make(map[string]behaviour.Behaviour),
		logger: logger.With("component", "dispatch"),
	}
}

// SetObserver installs o; nil disables observation.
func (i *Interface) SetObserver(o Observer) {
	i.observer = o
}

// Global returns a snapshot of the global pool.
func (i *Interface) Global() []behaviour.Behaviour {
	g := i.frames[0].Behaviours
	out := make([]behaviour.Behaviour, len(g))
	copy(out, g)
	return out
}

// AddGlobal appends behaviours to the global pool.
func (i *Interface) AddGlobal(bs ...behaviour.Behaviour) {
	i.frames[0].Behaviours = append(i.frames[0].Behaviours, bs...)
}

// RemoveGlobal drops b from the global pool and reports whether it was present.
func (i *Interface) RemoveGlobal(b behaviour.Behaviour) bool {
	g := i.frames[0].Behaviours
	for idx, candidate := range g {
		if candidate == b {
			i.frames[0].Behaviours = append(g[:idx:idx], g[idx+1:]...)
			return true
		}
	}
	return false
}

// Enter pushes a frame for module. The returned leave func pops it and must be
// called on every exit path, typically with defer.
func (i *Interface) Enter(module string, scoped ...behaviour.Behaviour) (leave func()) {
	frame := &Frame{Module: module, Behaviours: scoped}
	i.frames = append(i.frames, frame)
	depth := len(i.frames) - 1

	return func() {
		if depth < len(i.frames) && i.frames[depth] == frame {
			i.frames = i.frames[:depth]
			return
		}
		i.logger.Error("require frame popped out of order", "module", module)
	}
}

// Depth returns the number of module frames above the global frame.
func (i *Interface) Depth() int {
	return len(i.frames) - 1
}

// CurrentModule returns the module of the innermost frame.
func (i *Interface) CurrentModule() string {
	return i.top().Module
}

// CurrentCube returns the cube being allocated or uninstalled, nil when idle.
func (i *Interface) CurrentCube() *cube.Cube {
	if len(i.allocating) == 0 {
		return nil
	}
	return i.allocating[len(i.allocating)-1]
}

// Owner returns the behaviour recorded as owning c.
func (i *Interface) Owner(c *cube.Cube) (behaviour.Behaviour, bool) {
	key, err := c.UniqueKey()
	if err != nil {
		return nil, false
	}
	b, ok := i.owners[key]
	return b, ok
}

// AllocateCube offers c to the candidate behaviours until one claims it.
func (i *Interface) AllocateCube(ctx context.Context, c *cube.Cube) error {
	frame := i.top()
	b, err := i.scan(ctx, frame, c, func(b behaviour.Behaviour) (bool, error) {
		return b.Allocate(ctx, c)
	})
	if err != nil {
		return err
	}

	if !c.Live() {
		c.SetContent(c.Content)
	}
	key, _ := c.UniqueKey()
	i.owners[key] = b

	i.logger.Debug("cube allocated", "module", frame.Module, "cube", c.String(), "behaviour", behaviour.Name(b))
	if i.observer != nil {
		i.observer.CubeAllocated(frame.Module, b, c)
	}
	return nil
}

// UninstallCube hands c back to its owner for teardown.
func (i *Interface) UninstallCube(ctx context.Context, c *cube.Cube) error {
	frame := i.top()
	key, keyErr := c.UniqueKey()

	var (
		owner behaviour.Behaviour
		err   error
	)
	if keyErr == nil {
		if recorded, ok := i.owners[key]; ok {
			owner, err = i.uninstallWithOwner(ctx, recorded, c)
		}
	}
	if owner == nil && err == nil {
		owner, err = i.scan(ctx, frame, c, func(b behaviour.Behaviour) (bool, error) {
			return b.Uninstall(ctx, c)
		})
	}
	if err != nil {
		return err
	}

	if keyErr == nil {
		delete(i.owners, key)
	}
	i.logger.Debug("cube uninstalled", "module", frame.Module, "cube", c.String(), "behaviour", behaviour.Name(owner))
	if i.observer != nil {
		i.observer.CubeUninstalled(frame.Module, owner, c)
	}
	return nil
}

func (i *Interface) uninstallWithOwner(ctx context.Context, owner behaviour.Behaviour, c *cube.Cube) (behaviour.Behaviour, error) {
	i.allocating = append(i.allocating, c)
	defer func() { i.allocating = i.allocating[:len(i.allocating)-1] }()

	ok, err := owner.Uninstall(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("behaviour %s uninstall %s: %w", behaviour.Name(owner), c, err)
	}
	if !ok {
		i.logger.Warn("recorded owner refused cube, rescanning", "cube", c.String(), "behaviour", behaviour.Name(owner))
		return nil, nil
	}
	return owner, nil
}

// scan visits global then frame-scoped candidates and returns the first that claims c.
func (i *Interface) scan(ctx context.Context, frame *Frame, c *cube.Cube, try func(behaviour.Behaviour) (bool, error)) (behaviour.Behaviour, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candidates := i.candidates(frame)

	start := 0
	if frame.active > 0 {
		start = frame.cursor + 1
	}

	prevCursor := frame.cursor
	frame.active++
	i.allocating = append(i.allocating, c)
	defer func() {
		i.allocating = i.allocating[:len(i.allocating)-1]
		frame.active--
		frame.cursor = prevCursor
	}()

	for idx := start; idx < len(candidates); idx++ {
		frame.cursor = idx
		b := candidates[idx]
		ok, err := try(b)
		if err != nil {
			return nil, fmt.Errorf("behaviour %s on %s: %w", behaviour.Name(b), c, err)
		}
		if ok {
			return b, nil
		}
	}

	if i.observer != nil {
		i.observer.DispatchCrashed(frame.Module, c)
	}
	return nil, fmt.Errorf("%w: no behaviour claimed %s in module %q", ErrDispatchCrashed, c, frame.Module)
}

func (i *Interface) candidates(frame *Frame) []behaviour.Behaviour {
	global := i.frames[0].Behaviours
	out := make([]behaviour.Behaviour, 0, len(global)+len(frame.Behaviours))
	out = append(out, global...)
	if frame != i.frames[0] {
		out = append(out, frame.Behaviours...)
	}
	return out
}

func (i *Interface) top() *Frame {
	return i.frames[len(i.frames)-1]
}
