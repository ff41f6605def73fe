package cube

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSchema struct{}

func (testSchema) Kind() Kind { return "test" }

func TestUniqueKeyRequiresContent(t *testing.T) {
	c := New("payload", testSchema{})

	_, err := c.UniqueKey()
	if !errors.Is(err, ErrUninitialized) {
		t.Fatalf("expected ErrUninitialized, got %v", err)
	}

	c.SetContent("live")
	key, err := c.UniqueKey()
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.True(t, c.Live())
	assert.Equal(t, "live", c.Content)

	c.UnsetContent()
	assert.Nil(t, c.Content)
	_, err = c.UniqueKey()
	assert.ErrorIs(t, err, ErrUninitialized)

	c.SetContent("again")
	again, err := c.UniqueKey()
	require.NoError(t, err)
	assert.Equal(t, key, again, "key must be stable across set/unset")
}

func TestKind(t *testing.T) {
	assert.Equal(t, Kind("test"), New(nil, testSchema{}).Kind())
	assert.Equal(t, Kind(""), New(nil, nil).Kind())
}

func handlerA() {}
func handlerB() {}

func TestSameContent(t *testing.T) {
	p1 := &struct{ n int }{1}
	p2 := &struct{ n int }{1}
	m := map[string]int{}

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"same func", handlerA, handlerA, false},
		{"different func", handlerA, handlerB, false},
		{"same pointer", p1, p1, true},
		{"equal but distinct pointers", p1, p2, false},
		{"same map", m, m, true},
		{"equal strings", "x", "x", true},
		{"different types", "1", 1, false},
		{"nil and value", nil, "x", false},
		{"both nil", nil, nil, true},
		{"uncomparable struct", struct{ s []int }{}, struct{ s []int }{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameContent(tt.a, tt.b))
		})
	}
}
