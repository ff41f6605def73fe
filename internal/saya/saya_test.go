package saya_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/saya/internal/behaviour"
	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/cube"
	"github.com/mattjoyce/saya/internal/saya"
	"github.com/mattjoyce/saya/internal/saya/mocks"
)

type kind cube.Kind

func (k kind) Kind() cube.Kind { return cube.Kind(k) }

const (
	kindA        = kind("type-a")
	kindB        = kind("type-b")
	kindListener = kind("listener")
	kindOther    = kind("other")
)

type (
	alpha struct{}
	beta  struct{}
)

// claimer accepts cubes of its kinds. The type parameter only gives each test
// behaviour its own concrete type.
type claimer[T any] struct {
	behaviour.Base
	kinds        behaviour.KindSet
	uninstallErr error
}

func newClaimer[T any](kinds ...kind) *claimer[T] {
	ks := make([]cube.Kind, len(kinds))
	for i, k := range kinds {
		ks[i] = cube.Kind(k)
	}
	return &claimer[T]{kinds: behaviour.Accepts(ks...)}
}

func (b *claimer[T]) Allocate(_ context.Context, c *cube.Cube) (bool, error) {
	if !b.kinds.Match(c) {
		return false, nil
	}
	c.SetContent(c.Content)
	b.Manage(c)
	return true, nil
}

func (b *claimer[T]) Uninstall(_ context.Context, c *cube.Cube) (bool, error) {
	if !b.Manages(c) {
		return false, nil
	}
	if b.uninstallErr != nil {
		return false, b.uninstallErr
	}
	b.Release(c)
	c.UnsetContent()
	return true, nil
}

// registry is a static loader keyed by module id.
type registry struct {
	mu        sync.Mutex
	modules   map[string]channel.Executable
	loads     map[string]int
	forgotten []string
}

func newRegistry() *registry {
	return &registry{modules: make(map[string]channel.Executable), loads: make(map[string]int)}
}

func (r *registry) add(module string, exec channel.Executable) {
	r.modules[module] = exec
}

func (r *registry) Load(_ context.Context, module string) (channel.Executable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("%w: %s", saya.ErrModuleNotFound, module)
	}
	r.loads[module]++
	return exec, nil
}

func (r *registry) Forget(module string) {
	r.forgotten = append(r.forgotten, module)
}

// registers returns module code that registers one cube per kind.
func registers(kinds ...kind) channel.Executable {
	return func(ctx context.Context) error {
		ch, err := channel.Current(ctx)
		if err != nil {
			return err
		}
		for i, k := range kinds {
			ch.Register(k, fmt.Sprintf("%s-%d", k, i))
		}
		return nil
	}
}

func TestRequireAllocatesInRegistrationOrder(t *testing.T) {
	reg := newRegistry()
	reg.add("m", registers(kindA, kindB, kindA))
	s := saya.New(reg)

	b1 := newClaimer[alpha](kindA)
	b2 := newClaimer[beta](kindB)
	require.NoError(t, s.InstallBehaviours(b1, b2))

	ch, err := s.RequireChannel(context.Background(), "m")
	require.NoError(t, err)
	require.Len(t, ch.Content, 3)

	assert.Equal(t, []*cube.Cube{ch.Content[0], ch.Content[2]}, b1.ManagedCubes())
	assert.Equal(t, []*cube.Cube{ch.Content[1]}, b2.ManagedCubes())
	for _, c := range ch.Content {
		assert.True(t, c.Live())
	}
	assert.Equal(t, saya.StateLoaded, s.State("m"))
	assert.Equal(t, 0, s.Dispatch().Depth())
}

func TestRequireDispatchCrashRollsBack(t *testing.T) {
	reg := newRegistry()
	reg.add("m1", registers(kindListener, kindOther))
	s := saya.New(reg)

	b := newClaimer[alpha](kindListener)
	require.NoError(t, s.InstallBehaviours(b))

	_, err := s.Require(context.Background(), "m1")
	require.Error(t, err)
	assert.ErrorIs(t, err, saya.ErrDispatchCrashed)

	_, loaded := s.Channel("m1")
	assert.False(t, loaded)
	assert.NotContains(t, s.Modules(), "m1")
	assert.Equal(t, saya.StateUnloaded, s.State("m1"))
	assert.Empty(t, b.ManagedCubes(), "cubes allocated before the crash are uninstalled again")
	assert.Equal(t, 0, s.Dispatch().Depth())
}

// panicker panics on every cube of its kind.
type panicker struct {
	behaviour.Base
	kind cube.Kind
}

func (b *panicker) Allocate(_ context.Context, c *cube.Cube) (bool, error) {
	if c.Kind() != b.kind {
		return false, nil
	}
	panic("allocate exploded")
}

func (b *panicker) Uninstall(context.Context, *cube.Cube) (bool, error) { return false, nil }

func TestRequireRecoversFromPanickingModule(t *testing.T) {
	reg := newRegistry()
	reg.add("m", func(context.Context) error { panic("module exploded") })
	s := saya.New(reg)
	require.NoError(t, s.InstallBehaviours(newClaimer[alpha](kindA)))
	ctx := context.Background()

	assert.PanicsWithValue(t, "module exploded", func() { _, _ = s.Require(ctx, "m") })
	assert.Equal(t, saya.StateUnloaded, s.State("m"))
	assert.Equal(t, 0, s.Dispatch().Depth())

	reg.add("m", registers(kindA))
	ch, err := s.RequireChannel(ctx, "m")
	require.NoError(t, err)
	assert.Len(t, ch.Content, 1)
	assert.Equal(t, saya.StateLoaded, s.State("m"))
}

func TestRequirePanickingBehaviourRollsBack(t *testing.T) {
	reg := newRegistry()
	reg.add("m", registers(kindListener, kindOther))
	s := saya.New(reg)

	b := newClaimer[alpha](kindListener)
	require.NoError(t, s.InstallBehaviours(b, &panicker{kind: cube.Kind(kindOther)}))

	assert.Panics(t, func() { _, _ = s.Require(context.Background(), "m") })
	assert.Empty(t, b.ManagedCubes())
	assert.Equal(t, saya.StateUnloaded, s.State("m"))
	assert.NotContains(t, s.Modules(), "m")
	assert.Equal(t, 0, s.Dispatch().Depth())
}

func TestRequireIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := mocks.NewMockLoader(ctrl)

	var runs int
	loader.EXPECT().Load(gomock.Any(), "m").Return(channel.Executable(func(ctx context.Context) error {
		runs++
		return registers(kindA)(ctx)
	}), nil).Times(1)

	s := saya.New(loader)
	require.NoError(t, s.InstallBehaviours(newClaimer[alpha](kindA)))

	first, err := s.Require(context.Background(), "m")
	require.NoError(t, err)
	second, err := s.Require(context.Background(), "m")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, runs)
}

func TestRequireReturnsLoaderErrorUnchanged(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := mocks.NewMockLoader(ctrl)
	boom := errors.New("syntax error in module")
	loader.EXPECT().Load(gomock.Any(), "broken").Return(nil, boom)

	s := saya.New(loader)
	_, err := s.Require(context.Background(), "broken")
	assert.Equal(t, boom, err)
	assert.Equal(t, saya.StateUnloaded, s.State("broken"))
}

func TestRequireUnknownModule(t *testing.T) {
	s := saya.New(newRegistry())
	_, err := s.Require(context.Background(), "missing")
	assert.ErrorIs(t, err, saya.ErrModuleNotFound)
}

func TestRequireModuleCodeFailure(t *testing.T) {
	boom := errors.New("init failed")
	reg := newRegistry()
	reg.add("m", func(ctx context.Context) error {
		ch, _ := channel.Current(ctx)
		ch.Register(kindA, "partial")
		return boom
	})
	s := saya.New(reg)
	b := newClaimer[alpha](kindA)
	require.NoError(t, s.InstallBehaviours(b))

	_, err := s.Require(context.Background(), "m")
	assert.Equal(t, boom, err)
	assert.Empty(t, b.ManagedCubes(), "nothing is dispatched when module code fails")
	assert.Empty(t, s.Modules())
}

func TestRequireExport(t *testing.T) {
	type api struct{ greeting string }

	reg := newRegistry()
	reg.add("lib", func(ctx context.Context) error {
		ch, _ := channel.Current(ctx)
		ch.Export(&api{greeting: "hi"})
		return nil
	})
	reg.add("plain", registers())
	s := saya.New(reg)

	v, err := s.Require(context.Background(), "lib")
	require.NoError(t, err)
	exported, ok := v.(*api)
	require.True(t, ok, "expected export, got %T", v)
	assert.Equal(t, "hi", exported.greeting)

	v, err = s.Require(context.Background(), "plain")
	require.NoError(t, err)
	ch, ok := v.(*channel.Channel)
	require.True(t, ok, "expected channel, got %T", v)
	assert.Equal(t, "plain", ch.Module)
}

func TestUninstallReversesAllocate(t *testing.T) {
	reg := newRegistry()
	reg.add("m", registers(kindA, kindB, kindA))
	s := saya.New(reg)
	b1 := newClaimer[alpha](kindA)
	b2 := newClaimer[beta](kindB)
	require.NoError(t, s.InstallBehaviours(b1, b2))

	ch, err := s.RequireChannel(context.Background(), "m")
	require.NoError(t, err)
	cubes := ch.Cubes()

	require.NoError(t, s.UninstallChannel(context.Background(), ch))

	assert.Empty(t, b1.ManagedCubes())
	assert.Empty(t, b2.ManagedCubes())
	for _, c := range cubes {
		assert.False(t, c.Live())
	}
	_, loaded := s.Channel("m")
	assert.False(t, loaded)
	assert.Equal(t, saya.StateUnloaded, s.State("m"))
	assert.Nil(t, ch.Executable())
	assert.Equal(t, []string{"m"}, reg.forgotten)

	// A later require runs the module again.
	_, err = s.Require(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, 2, reg.loads["m"])
}

func TestUninstallCollectsBehaviourErrors(t *testing.T) {
	reg := newRegistry()
	reg.add("m", registers(kindA, kindB))
	s := saya.New(reg)
	bad := newClaimer[alpha](kindA)
	good := newClaimer[beta](kindB)
	require.NoError(t, s.InstallBehaviours(bad, good))

	ch, err := s.RequireChannel(context.Background(), "m")
	require.NoError(t, err)

	bad.uninstallErr = errors.New("listener stuck")
	err = s.UninstallChannel(context.Background(), ch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener stuck")

	assert.Empty(t, good.ManagedCubes(), "remaining cubes are still uninstalled")
	_, loaded := s.Channel("m")
	assert.False(t, loaded)
}

func TestUninstallUntrackedChannel(t *testing.T) {
	s := saya.New(newRegistry())
	err := s.UninstallChannel(context.Background(), channel.New("ghost"))
	assert.ErrorIs(t, err, saya.ErrChannelUnknown)

	assert.ErrorIs(t, s.UninstallChannel(context.Background(), nil), saya.ErrChannelUnknown)
	assert.ErrorIs(t, s.ReloadChannel(context.Background(), nil), saya.ErrChannelUnknown)
	assert.ErrorIs(t, s.InstallPending(context.Background(), nil), saya.ErrChannelUnknown)
}

func TestMainChannel(t *testing.T) {
	s := saya.New(newRegistry())
	ctx := context.Background()

	main := s.CreateMainChannel(ctx)
	assert.Same(t, main, s.CreateMainChannel(ctx))
	assert.Equal(t, channel.MainModule, main.Module)
	assert.Contains(t, s.Modules(), channel.MainModule)

	assert.ErrorIs(t, s.UninstallChannel(ctx, main), saya.ErrMainChannel)
	_, ok := s.Channel(channel.MainModule)
	assert.True(t, ok)
}

func TestInstallPendingOnMainChannel(t *testing.T) {
	s := saya.New(newRegistry())
	b := newClaimer[alpha](kindListener)
	require.NoError(t, s.InstallBehaviours(b))
	ctx := context.Background()

	main := s.CreateMainChannel(ctx)
	main.Register(kindListener, "host handler")
	require.NoError(t, s.InstallPending(ctx, main))
	require.Len(t, b.ManagedCubes(), 1)
	assert.True(t, main.Content[0].Live())

	// Already live cubes are skipped.
	require.NoError(t, s.InstallPending(ctx, main))
	assert.Len(t, b.ManagedCubes(), 1)

	err := s.InstallPending(ctx, channel.New("ghost"))
	assert.ErrorIs(t, err, saya.ErrChannelUnknown)
}

func TestReloadPreservesChannelIdentity(t *testing.T) {
	reg := newRegistry()
	var version int
	reg.add("m", func(ctx context.Context) error {
		version++
		ch, _ := channel.Current(ctx)
		ch.Version(fmt.Sprintf("v%d", version))
		ch.Register(kindA, version)
		return nil
	})
	s := saya.New(reg)
	b := newClaimer[alpha](kindA)
	require.NoError(t, s.InstallBehaviours(b))
	ctx := context.Background()

	ch, err := s.RequireChannel(ctx, "m")
	require.NoError(t, err)
	old := ch.Content[0]

	require.NoError(t, s.ReloadChannel(ctx, ch))

	current, ok := s.Channel("m")
	require.True(t, ok)
	assert.Same(t, ch, current)
	assert.Equal(t, "v2", ch.Meta.Version)
	require.Len(t, ch.Content, 1)
	assert.NotSame(t, old, ch.Content[0])
	assert.False(t, old.Live())
	assert.True(t, ch.Content[0].Live())
	assert.Equal(t, []*cube.Cube{ch.Content[0]}, b.ManagedCubes())
	assert.NotNil(t, ch.Executable())
}

func TestReloadFailureLeavesModuleUnloaded(t *testing.T) {
	reg := newRegistry()
	var runs int
	reg.add("m", func(ctx context.Context) error {
		runs++
		if runs > 1 {
			return errors.New("edited into a broken state")
		}
		return registers(kindA)(ctx)
	})
	s := saya.New(reg)
	require.NoError(t, s.InstallBehaviours(newClaimer[alpha](kindA)))
	ctx := context.Background()

	ch, err := s.RequireChannel(ctx, "m")
	require.NoError(t, err)

	err = s.ReloadChannel(ctx, ch)
	require.Error(t, err)
	_, loaded := s.Channel("m")
	assert.False(t, loaded)
	assert.Nil(t, ch.Executable())
}

func TestInstallBehavioursConflict(t *testing.T) {
	s := saya.New(newRegistry())
	require.NoError(t, s.InstallBehaviours(newClaimer[alpha](kindA)))

	err := s.InstallBehaviours(newClaimer[alpha](kindB))
	assert.ErrorIs(t, err, saya.ErrBehaviourConflict)

	// A conflicting batch installs nothing.
	err = s.InstallBehaviours(newClaimer[beta](kindB), newClaimer[alpha](kindA))
	assert.ErrorIs(t, err, saya.ErrBehaviourConflict)
	assert.Len(t, s.Behaviours(), 1)

	err = s.InstallBehaviours(newClaimer[beta](kindB), newClaimer[beta](kindB))
	assert.ErrorIs(t, err, saya.ErrBehaviourConflict)
	assert.False(t, s.HasBehaviours(&claimer[beta]{}))
}

func TestRemoveBehaviour(t *testing.T) {
	reg := newRegistry()
	reg.add("m", registers(kindA))
	s := saya.New(reg)
	b := newClaimer[alpha](kindA)
	require.NoError(t, s.InstallBehaviours(b))
	ctx := context.Background()

	ch, err := s.RequireChannel(ctx, "m")
	require.NoError(t, err)

	assert.ErrorIs(t, s.RemoveBehaviour(b), saya.ErrBehaviourBusy)
	assert.ErrorIs(t, s.RemoveBehaviour(newClaimer[beta]()), saya.ErrBehaviourUnknown)

	require.NoError(t, s.UninstallChannel(ctx, ch))
	require.NoError(t, s.RemoveBehaviour(b))
	assert.Empty(t, s.Behaviours())
	assert.False(t, s.HasBehaviours(&claimer[alpha]{}))
}

func TestHasBehaviours(t *testing.T) {
	s := saya.New(newRegistry())
	require.NoError(t, s.InstallBehaviours(newClaimer[alpha](kindA)))

	assert.True(t, s.HasBehaviours(&claimer[alpha]{}))
	assert.False(t, s.HasBehaviours(&claimer[alpha]{}, &claimer[beta]{}))
	assert.True(t, s.HasBehaviours())
}

func TestNestedRequireThroughContext(t *testing.T) {
	reg := newRegistry()
	reg.add("inner", func(ctx context.Context) error {
		ch, _ := channel.Current(ctx)
		ch.Register(kindA, "inner cube")
		ch.Export("inner api")
		return nil
	})
	reg.add("outer", func(ctx context.Context) error {
		ctrl, err := saya.Current(ctx)
		if err != nil {
			return err
		}
		dep, err := ctrl.Require(ctx, "inner")
		if err != nil {
			return err
		}
		ch, err := channel.Current(ctx)
		if err != nil {
			return err
		}
		ch.Register(kindA, dep)
		return nil
	})
	s := saya.New(reg)
	b := newClaimer[alpha](kindA)
	require.NoError(t, s.InstallBehaviours(b))

	outer, err := s.RequireChannel(context.Background(), "outer")
	require.NoError(t, err)
	inner, ok := s.Channel("inner")
	require.True(t, ok)

	require.Len(t, outer.Content, 1)
	require.Len(t, inner.Content, 1)
	assert.Equal(t, "inner api", outer.Content[0].Content)
	assert.Equal(t, []*cube.Cube{inner.Content[0], outer.Content[0]}, b.ManagedCubes())
	assert.Equal(t, 0, s.Dispatch().Depth())
}

func TestCircularRequire(t *testing.T) {
	reg := newRegistry()
	requireFrom := func(dep string) channel.Executable {
		return func(ctx context.Context) error {
			ctrl, err := saya.Current(ctx)
			if err != nil {
				return err
			}
			_, err = ctrl.Require(ctx, dep)
			return err
		}
	}
	reg.add("a", requireFrom("b"))
	reg.add("b", requireFrom("a"))
	s := saya.New(reg)

	_, err := s.Require(context.Background(), "a")
	assert.ErrorIs(t, err, saya.ErrCircularRequire)
	assert.Empty(t, s.Modules())
	assert.Equal(t, saya.StateUnloaded, s.State("a"))
	assert.Equal(t, saya.StateUnloaded, s.State("b"))
}

func TestScopedBehaviours(t *testing.T) {
	reg := newRegistry()
	reg.add("with-scope", registers(kindA, kindListener))
	reg.add("without-scope", registers(kindListener))
	s := saya.New(reg)
	global := newClaimer[alpha](kindA)
	scoped := newClaimer[beta](kindListener)
	require.NoError(t, s.InstallBehaviours(global))
	ctx := context.Background()

	ch, err := s.RequireChannel(ctx, "with-scope", scoped)
	require.NoError(t, err)
	assert.Len(t, scoped.ManagedCubes(), 1)
	assert.Len(t, s.Behaviours(), 1, "scoped behaviours stay out of the global pool")

	_, err = s.Require(ctx, "without-scope")
	assert.ErrorIs(t, err, saya.ErrDispatchCrashed)

	require.NoError(t, s.ReloadChannel(ctx, ch))
	assert.Equal(t, []*cube.Cube{ch.Content[1]}, scoped.ManagedCubes())
}

func TestMounts(t *testing.T) {
	s := saya.New(newRegistry())

	_, err := s.Access("db")
	assert.ErrorIs(t, err, saya.ErrKeyNotFound)

	s.Mount("db", "primary")
	s.Mount("cache", 42)
	s.Mount("db", "replica")

	v, err := s.Access("db")
	require.NoError(t, err)
	assert.Equal(t, "replica", v)
	assert.Equal(t, []string{"cache", "db"}, s.Mounts())

	require.NoError(t, s.Unmount("cache"))
	assert.ErrorIs(t, s.Unmount("cache"), saya.ErrKeyNotFound)
	assert.Equal(t, []string{"db"}, s.Mounts())
}

func TestLifecycleNotifications(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)

	reg := newRegistry()
	reg.add("m", registers(kindA))
	s := saya.New(reg, saya.WithNotifier(notifier))
	require.NoError(t, s.InstallBehaviours(newClaimer[alpha](kindA)))
	ctx := context.Background()

	var kinds []string
	record := func(_ context.Context, ev saya.Event) {
		assert.Equal(t, "m", ev.ModuleID())
		switch e := ev.(type) {
		case saya.ModuleInstalled:
			assert.Equal(t, 1, e.Cubes)
		case saya.ModuleUninstall:
			assert.Equal(t, 1, e.Cubes)
		}
		kinds = append(kinds, ev.Kind())
	}
	gomock.InOrder(
		notifier.EXPECT().Post(gomock.Any(), gomock.AssignableToTypeOf(saya.ModuleInstalled{})).Do(record),
		notifier.EXPECT().Post(gomock.Any(), gomock.AssignableToTypeOf(saya.ModuleUninstall{})).Do(record),
		notifier.EXPECT().Post(gomock.Any(), gomock.AssignableToTypeOf(saya.ModuleUninstalled{})).Do(record),
	)

	ch, err := s.RequireChannel(ctx, "m")
	require.NoError(t, err)
	require.NoError(t, s.UninstallChannel(ctx, ch))

	assert.Equal(t, []string{
		saya.KindModuleInstalled,
		saya.KindModuleUninstall,
		saya.KindModuleUninstalled,
	}, kinds)
}

func TestNoNotificationOnFailedLoad(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().Post(gomock.Any(), gomock.Any()).Times(0)

	reg := newRegistry()
	reg.add("m", registers(kindOther))
	s := saya.New(reg, saya.WithNotifier(notifier))

	_, err := s.Require(context.Background(), "m")
	assert.ErrorIs(t, err, saya.ErrDispatchCrashed)
}

func TestCurrentWithoutController(t *testing.T) {
	_, err := saya.Current(context.Background())
	assert.ErrorIs(t, err, saya.ErrNoController)

	s := saya.New(newRegistry())
	got, err := saya.Current(s.ModuleContext(context.Background()))
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestSerialRequireLoadsOnce(t *testing.T) {
	var runs atomic.Int32
	reg := newRegistry()
	reg.add("m", func(ctx context.Context) error {
		runs.Add(1)
		return registers(kindA)(ctx)
	})
	s := saya.New(reg)
	require.NoError(t, s.InstallBehaviours(newClaimer[alpha](kindA)))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Serial(func() error {
				_, err := s.Require(context.Background(), "m")
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
}
