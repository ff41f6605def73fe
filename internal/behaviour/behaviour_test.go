package behaviour

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/saya/internal/cube"
)

type kindSchema cube.Kind

func (k kindSchema) Kind() cube.Kind { return cube.Kind(k) }

type plain struct{}

func (plain) Allocate(context.Context, *cube.Cube) (bool, error)  { return false, nil }
func (plain) Uninstall(context.Context, *cube.Cube) (bool, error) { return false, nil }

type named struct{ Base }

func (*named) Name() string                                        { return "named-behaviour" }
func (*named) Allocate(context.Context, *cube.Cube) (bool, error)  { return false, nil }
func (*named) Uninstall(context.Context, *cube.Cube) (bool, error) { return false, nil }

func TestBaseKeepsClaimOrder(t *testing.T) {
	var b Base
	c1 := cube.New(1, kindSchema("a"))
	c2 := cube.New(2, kindSchema("a"))
	c3 := cube.New(3, kindSchema("a"))

	b.Manage(c1)
	b.Manage(c2)
	b.Manage(c3)
	b.Manage(c2)

	assert.Equal(t, []*cube.Cube{c1, c2, c3}, b.ManagedCubes())
	assert.True(t, b.Release(c2))
	assert.False(t, b.Release(c2))
	assert.Equal(t, []*cube.Cube{c1, c3}, b.ManagedCubes())
	assert.True(t, b.Manages(c1))
	assert.False(t, b.Manages(c2))
}

func TestManagedCount(t *testing.T) {
	n := &named{}
	n.Manage(cube.New(nil, kindSchema("a")))
	assert.Equal(t, 1, ManagedCount(n))
	assert.Equal(t, 0, ManagedCount(plain{}))
}

func TestKindSet(t *testing.T) {
	s := Accepts("listener", "schedule")
	assert.True(t, s.Match(cube.New(nil, kindSchema("listener"))))
	assert.False(t, s.Match(cube.New(nil, kindSchema("other"))))
}

func TestName(t *testing.T) {
	assert.Equal(t, "named-behaviour", Name(&named{}))
	assert.Equal(t, "behaviour.plain", Name(plain{}))
	assert.NotEqual(t, TypeOf(plain{}), TypeOf(&named{}))
}
