// Package channel holds the per-module container of registered cubes.
package channel

import (
	"context"
	"errors"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/mattjoyce/saya/internal/cube"
)

// MainModule is the reserved identifier of the host's own channel.
const MainModule = "__main__"

// ErrNoActiveLoad is returned by Current when no module load is in progress.
var ErrNoActiveLoad = errors.New("no active module load")

// Meta describes a module. Fields mirror the module manifest.
type Meta struct {
	Name         string            `yaml:"name,omitempty" json:"name,omitempty"`
	Version      string            `yaml:"version,omitempty" json:"version,omitempty"`
	License      string            `yaml:"license,omitempty" json:"license,omitempty"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Icon         string            `yaml:"icon,omitempty" json:"icon,omitempty"`
	Authors      []string          `yaml:"authors,omitempty" json:"authors,omitempty"`
	URLs         map[string]string `yaml:"urls,omitempty" json:"urls,omitempty"`
	Classifiers  []string          `yaml:"classifiers,omitempty" json:"classifiers,omitempty"`
	Dependencies []string          `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Clone returns a copy of m that shares no slices or maps with it.
func (m Meta) Clone() Meta {
	m.Authors = slices.Clone(m.Authors)
	m.URLs = maps.Clone(m.URLs)
	m.Classifiers = slices.Clone(m.Classifiers)
	m.Dependencies = slices.Clone(m.Dependencies)
	return m
}

// Executable runs a module's registration code against the channel bound to ctx.
type Executable func(ctx context.Context) error

// Channel collects the cubes a module registered while its code ran.
type Channel struct {
	Module  string
	Meta    Meta
	Content []*cube.Cube

	export    any
	hasExport bool
	exec      Executable

	scopeMu sync.Mutex
	scopes  map[any]any
}

// New creates an empty channel for module.
func New(module string) *Channel {
	return &Channel{Module: module}
}

// Name sets the display name.
func (c *Channel) Name(name string) *Channel {
	c.Meta.Name = name
	return c
}

// Author appends authors.
func (c *Channel) Author(authors ...string) *Channel {
	c.Meta.Authors = append(c.Meta.Authors, authors...)
	return c
}

// Description sets the description.
func (c *Channel) Description(text string) *Channel {
	c.Meta.Description = text
	return c
}

// Version sets the module version.
func (c *Channel) Version(v string) *Channel {
	c.Meta.Version = v
	return c
}

// License sets the license identifier.
func (c *Channel) License(l string) *Channel {
	c.Meta.License = l
	return c
}

// URL records a labelled link.
func (c *Channel) URL(label, url string) *Channel {
	if c.Meta.URLs == nil {
		c.Meta.URLs = make(map[string]string)
	}
	c.Meta.URLs[label] = url
	return c
}

// Use returns a registrar for schema. Calling it appends a cube and hands the
// payload back unchanged, so it can wrap a declaration in place:
//
//	var onStart = ch.Use(schema)(func(ctx context.Context, ev Event) error { ... })
func (c *Channel) Use(schema cube.Schema) func(payload any) any {
	return func(payload any) any {
		c.Content = append(c.Content, cube.New(payload, schema))
		return payload
	}
}

// Register is Use(schema)(payload).
func (c *Channel) Register(schema cube.Schema, payload any) any {
	return c.Use(schema)(payload)
}

// Add appends a cube for payload and returns it, for later CancelCube.
func (c *Channel) Add(schema cube.Schema, payload any) *cube.Cube {
	cb := cube.New(payload, schema)
	c.Content = append(c.Content, cb)
	return cb
}

// Cancel retracts every pending cube whose content is payload, compared with
// cube.SameContent. Func payloads never match; register them with Add and
// retract them with CancelCube.
func (c *Channel) Cancel(payload any) {
	c.retract(func(cb *cube.Cube) bool { return cube.SameContent(cb.Content, payload) })
}

// CancelCube retracts target by identity and reports whether it was present.
func (c *Channel) CancelCube(target *cube.Cube) bool {
	n := len(c.Content)
	c.retract(func(cb *cube.Cube) bool { return cb == target })
	return len(c.Content) != n
}

func (c *Channel) retract(match func(*cube.Cube) bool) {
	kept := c.Content[:0]
	for _, cb := range c.Content {
		if !match(cb) {
			kept = append(kept, cb)
		}
	}
	for i := len(kept); i < len(c.Content); i++ {
		c.Content[i] = nil
	}
	c.Content = kept
}

// Export designates the value Require returns instead of the channel.
func (c *Channel) Export(v any) any {
	c.export = v
	c.hasExport = true
	return v
}

// Exported returns the designated export, if any.
func (c *Channel) Exported() (any, bool) {
	return c.export, c.hasExport
}

// Bind records the executable that produced this channel.
func (c *Channel) Bind(exec Executable) {
	c.exec = exec
}

// Executable returns the bound executable, nil once unloaded.
func (c *Channel) Executable() Executable {
	return c.exec
}

// Unbind clears the executable handle.
func (c *Channel) Unbind() {
	c.exec = nil
}

// Cubes returns a snapshot of the content list.
func (c *Channel) Cubes() []*cube.Cube {
	out := make([]*cube.Cube, len(c.Content))
	copy(out, c.Content)
	return out
}

// Replace copies the mutable state of fresh onto c so that holders of c observe
// a reloaded module without re-fetching it.
func (c *Channel) Replace(fresh *Channel) {
	c.Meta = fresh.Meta
	c.Content = fresh.Content
	c.export = fresh.export
	c.hasExport = fresh.hasExport
	c.exec = fresh.exec

	fresh.scopeMu.Lock()
	scopes := fresh.scopes
	fresh.scopeMu.Unlock()

	c.scopeMu.Lock()
	c.scopes = scopes
	c.scopeMu.Unlock()
}

// ScopedContext returns the channel's single shared value for key, creating it
// with create on first use. Handlers declared as methods on that value share
// state scoped to this module load; a reload starts from a fresh value.
func (c *Channel) ScopedContext(key any, create func() any) any {
	c.scopeMu.Lock()
	defer c.scopeMu.Unlock()

	if c.scopes == nil {
		c.scopes = make(map[any]any)
	}
	if v, ok := c.scopes[key]; ok {
		return v
	}
	v := create()
	c.scopes[key] = v
	return v
}

// Scoped is the typed form of ScopedContext keyed by T.
func Scoped[T any](c *Channel) *T {
	key := reflect.TypeFor[T]()
	return c.ScopedContext(key, func() any { return new(T) }).(*T)
}
