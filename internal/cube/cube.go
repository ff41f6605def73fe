// Package cube defines the content unit that modules register and behaviours claim.
//
// A Cube pairs a payload (a handler func, a value, a struct) with a Schema that
// declares what the payload is and what a behaviour needs to wire it up. While a
// module is loading the cube is pending and owned by its channel; once a
// behaviour allocates it, the behaviour owns it until uninstall.
package cube

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// ErrUninitialized is returned by UniqueKey before a behaviour installed live content.
var ErrUninitialized = errors.New("cube content has not been initialized")

// Kind tags a schema so behaviours can match on it without reflection.
type Kind string

// Schema is the typed declaration attached to a cube.
type Schema interface {
	Kind() Kind
}

// Cube is a registered content unit.
type Cube struct {
	Content any
	Schema  Schema

	key  string
	live bool
}

// New creates a pending cube.
func New(content any, schema Schema) *Cube {
	return &Cube{Content: content, Schema: schema}
}

// Kind returns the schema kind, or "" for a cube without schema.
func (c *Cube) Kind() Kind {
	if c.Schema == nil {
		return ""
	}
	return c.Schema.Kind()
}

// SetContent installs the live object built by the claiming behaviour.
// The unique key is assigned on first use and survives later unset/set cycles.
func (c *Cube) SetContent(v any) {
	if c.key == "" {
		c.key = uuid.NewString()
	}
	c.Content = v
	c.live = true
}

// UnsetContent drops the live object on uninstall.
func (c *Cube) UnsetContent() {
	c.Content = nil
	c.live = false
}

// Live reports whether a behaviour has installed content on the cube.
func (c *Cube) Live() bool {
	return c.live
}

// UniqueKey identifies the cube while it is live.
func (c *Cube) UniqueKey() (string, error) {
	if !c.live {
		return "", ErrUninitialized
	}
	return c.key, nil
}

func (c *Cube) String() string {
	if c.live {
		return fmt.Sprintf("cube(%s, %s)", c.Kind(), c.key)
	}
	return fmt.Sprintf("cube(%s, %T)", c.Kind(), c.Content)
}

// SameContent reports whether a and b are the same payload.
// Reference kinds compare by pointer and everything else by == when the dynamic
// type is comparable. Funcs are never the same: closures built from one literal
// share a code pointer, so there is no identity to compare.
func SameContent(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Func:
		return false
	case reflect.Map, reflect.Slice, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	}
	if !va.Type().Comparable() {
		return false
	}
	return a == b
}
