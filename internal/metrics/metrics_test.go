package metrics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mattjoyce/saya/internal/behaviour"
	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/cube"
	"github.com/mattjoyce/saya/internal/dispatch"
	"github.com/mattjoyce/saya/internal/metrics"
	"github.com/mattjoyce/saya/internal/saya"
)

var _ dispatch.Observer = (*metrics.Collector)(nil)

type schema string

func (s schema) Kind() cube.Kind { return cube.Kind(s) }

type acceptAll struct{ behaviour.Base }

func (*acceptAll) Name() string { return "accept-all" }

func (b *acceptAll) Allocate(_ context.Context, c *cube.Cube) (bool, error) {
	if c.Kind() != "known" {
		return false, nil
	}
	b.Manage(c)
	return true, nil
}

func (b *acceptAll) Uninstall(_ context.Context, c *cube.Cube) (bool, error) {
	if !b.Release(c) {
		return false, nil
	}
	c.UnsetContent()
	return true, nil
}

type loader map[string]channel.Executable

func (l loader) Load(_ context.Context, id string) (channel.Executable, error) {
	return l[id], nil
}

func register(kinds ...string) channel.Executable {
	return func(ctx context.Context) error {
		ch, err := channel.Current(ctx)
		if err != nil {
			return err
		}
		for _, k := range kinds {
			ch.Register(schema(k), k)
		}
		return nil
	}
}

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.CubesAllocated == nil || m.CubesUninstalled == nil || m.DispatchCrashes == nil {
		t.Error("dispatch metrics not initialized")
	}
	if m.ModulesLoaded == nil || m.ModuleEvents == nil || m.ModuleReloads == nil || m.ReloadFailures == nil {
		t.Error("module metrics not initialized")
	}
	if m.APIRequests == nil {
		t.Error("APIRequests is nil")
	}
}

func TestDispatchObservation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	s := saya.New(loader{
		"good": register("known", "known"),
		"bad":  register("known", "unknown"),
	}, saya.WithObserver(m))
	if err := s.InstallBehaviours(&acceptAll{}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ch, err := s.RequireChannel(ctx, "good")
	if err != nil {
		t.Fatalf("require good: %v", err)
	}
	if got := testutil.ToFloat64(m.CubesAllocated.WithLabelValues("good", "accept-all", "known")); got != 2 {
		t.Errorf("cubes allocated = %v, want 2", got)
	}

	if err := s.UninstallChannel(ctx, ch); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if got := testutil.ToFloat64(m.CubesUninstalled.WithLabelValues("good", "accept-all", "known")); got != 2 {
		t.Errorf("cubes uninstalled = %v, want 2", got)
	}

	if _, err := s.Require(ctx, "bad"); !errors.Is(err, saya.ErrDispatchCrashed) {
		t.Fatalf("expected dispatch crash, got %v", err)
	}
	if got := testutil.ToFloat64(m.DispatchCrashes.WithLabelValues("bad", "unknown")); got != 1 {
		t.Errorf("dispatch crashes = %v, want 1", got)
	}
	// The rolled back cube counts as uninstalled.
	if got := testutil.ToFloat64(m.CubesUninstalled.WithLabelValues("bad", "accept-all", "known")); got != 1 {
		t.Errorf("rolled back cubes = %v, want 1", got)
	}
}

func TestObserveEventAndReload(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ObserveEvent(saya.ModuleInstalled{Module: "a"}, 2)
	m.ObserveEvent(saya.ModuleUninstalled{Module: "a"}, 1)
	m.ObserveReload("api", nil)
	m.ObserveReload("watch", errors.New("broken"))

	if got := testutil.ToFloat64(m.ModulesLoaded); got != 1 {
		t.Errorf("modules loaded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ModuleEvents.WithLabelValues(saya.KindModuleInstalled)); got != 1 {
		t.Errorf("installed events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ModuleReloads.WithLabelValues("api")); got != 1 {
		t.Errorf("api reloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReloadFailures.WithLabelValues("watch")); got != 1 {
		t.Errorf("watch reload failures = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected gathered metric families")
	}
}
