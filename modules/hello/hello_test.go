package hello_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/saya/internal/broadcast"
	"github.com/mattjoyce/saya/internal/loader"
	"github.com/mattjoyce/saya/internal/saya"
	"github.com/mattjoyce/saya/modules/hello"
)

func newController(t *testing.T) (*saya.Saya, *broadcast.Bus) {
	t.Helper()
	reg := loader.NewRegistry()
	reg.MustRegister(hello.ID, hello.Setup)
	reg.MustRegister("other", func(context.Context) error { return nil })

	bus := broadcast.NewBus(broadcast.WithSyncDelivery())
	s := saya.New(reg, saya.WithNotifier(bus))
	require.NoError(t, s.InstallBehaviours(broadcast.NewBehaviour(bus)))
	return s, bus
}

func TestHelloExportsGreeter(t *testing.T) {
	s, bus := newController(t)

	v, err := s.Require(context.Background(), hello.ID)
	require.NoError(t, err)
	g, ok := v.(*hello.Greeter)
	require.True(t, ok, "export is %T", v)
	assert.Equal(t, "Hello, saya!", g.Greet("saya"))

	ch, ok := s.Channel(hello.ID)
	require.True(t, ok)
	assert.Equal(t, "Hello", ch.Meta.Name)

	listeners := bus.Listeners()
	require.Len(t, listeners, 1)
	assert.Equal(t, hello.ID, listeners[0].Module)
	assert.Equal(t, []string{saya.KindModuleInstalled}, listeners[0].Events)
}

func TestHelloUsesMountedGreeting(t *testing.T) {
	s, _ := newController(t)
	s.Mount(hello.GreetingMount, "Kia ora")

	v, err := s.Require(context.Background(), hello.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kia ora, world!", v.(*hello.Greeter).Greet("world"))
}

func TestHelloUnloadRemovesListener(t *testing.T) {
	s, bus := newController(t)
	ctx := context.Background()

	ch, err := s.RequireChannel(ctx, hello.ID)
	require.NoError(t, err)
	_, err = s.Require(ctx, "other")
	require.NoError(t, err, "listener handles later installs")

	require.NoError(t, s.UninstallChannel(ctx, ch))
	assert.Empty(t, bus.Listeners())
}
