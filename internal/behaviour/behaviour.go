// Package behaviour defines the extension points that claim cubes.
package behaviour

import (
	"context"
	"reflect"
	"sync"

	"github.com/mattjoyce/saya/internal/cube"
)

// Behaviour claims cubes whose schema it recognizes and wires them into the host.
//
// Allocate and Uninstall return (false, nil) when the cube is not theirs so the
// dispatcher can move on to the next candidate. On a match Allocate performs
// every wiring side effect, calls SetContent and records the cube as managed;
// Uninstall reverses all of it. Each is called at most once per cube per
// transition.
type Behaviour interface {
	Allocate(ctx context.Context, c *cube.Cube) (bool, error)
	Uninstall(ctx context.Context, c *cube.Cube) (bool, error)
}

// Managed is implemented by behaviours that expose the cubes they own.
type Managed interface {
	ManagedCubes() []*cube.Cube
}

// Base keeps the ordered set of cubes a behaviour currently owns.
// Embed it to satisfy Managed.
type Base struct {
	mu      sync.Mutex
	managed []*cube.Cube
}

// Manage records c as owned. Recording the same cube twice is a no-op.
func (b *Base) Manage(c *cube.Cube) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.managed {
		if m == c {
			return
		}
	}
	b.managed = append(b.managed, c)
}

// Release forgets c and reports whether it was owned.
func (b *Base) Release(c *cube.Cube) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.managed {
		if m == c {
			b.managed = append(b.managed[:i], b.managed[i+1:]...)
			return true
		}
	}
	return false
}

// Manages reports whether c is owned.
func (b *Base) Manages(c *cube.Cube) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.managed {
		if m == c {
			return true
		}
	}
	return false
}

// ManagedCubes returns the owned cubes in claim order.
func (b *Base) ManagedCubes() []*cube.Cube {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*cube.Cube, len(b.managed))
	copy(out, b.managed)
	return out
}

// ManagedCount returns the number of cubes b owns, or 0 if it does not report them.
func ManagedCount(b Behaviour) int {
	m, ok := b.(Managed)
	if !ok {
		return 0
	}
	return len(m.ManagedCubes())
}

// KindSet is the set of schema kinds a behaviour accepts.
type KindSet map[cube.Kind]struct{}

// Accepts builds a KindSet.
func Accepts(kinds ...cube.Kind) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// Match reports whether c's schema kind is in the set.
func (s KindSet) Match(c *cube.Cube) bool {
	_, ok := s[c.Kind()]
	return ok
}

// TypeOf is the identity used to keep one behaviour per concrete type.
func TypeOf(b Behaviour) reflect.Type {
	return reflect.TypeOf(b)
}

// Name is a readable name for b, used in logs and the admin API.
func Name(b Behaviour) string {
	if n, ok := b.(interface{ Name() string }); ok {
		return n.Name()
	}
	t := reflect.TypeOf(b)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}
