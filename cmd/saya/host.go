package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mattjoyce/saya/internal/broadcast"
	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/config"
	"github.com/mattjoyce/saya/internal/events"
	"github.com/mattjoyce/saya/internal/loader"
	"github.com/mattjoyce/saya/internal/metrics"
	"github.com/mattjoyce/saya/internal/saya"
	"github.com/mattjoyce/saya/internal/scheduler"
)

// host wires the controller to its behaviours and ambient services.
type host struct {
	cfg    *config.Config
	logger *slog.Logger

	hub     *events.Hub
	bus     *broadcast.Bus
	sched   *scheduler.Scheduler
	prom    *prometheus.Registry
	metrics *metrics.Collector
	loader  *loader.Loader
	saya    *saya.Saya
	order   *installOrder
}

func newHost(ctx context.Context, cfg *config.Config, registry *loader.Registry, logger *slog.Logger) (*host, error) {
	h := &host{cfg: cfg, logger: logger}

	h.hub = events.NewHub(cfg.Service.EventBuffer)
	h.bus = broadcast.NewBus(broadcast.WithHub(h.hub), broadcast.WithLogger(logger))
	h.sched = scheduler.New(h.hub, logger)

	h.prom = prometheus.NewRegistry()
	h.prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	h.metrics = metrics.NewWithRegistry(h.prom)

	l, err := loader.New(registry, cfg.ModuleRoots, logger)
	if err != nil {
		return nil, fmt.Errorf("module discovery: %w", err)
	}
	h.loader = l
	logger.Info("module discovery complete", "modules", len(l.Modules()), "roots", len(cfg.ModuleRoots))

	h.order = &installOrder{next: h.bus}
	h.saya = saya.New(l,
		saya.WithNotifier(h.order),
		saya.WithObserver(h.metrics),
		saya.WithLogger(logger),
	)
	if err := h.saya.InstallBehaviours(broadcast.NewBehaviour(h.bus), h.sched); err != nil {
		return nil, err
	}

	main := h.saya.CreateMainChannel(ctx)
	main.Register(broadcast.ListenerSchema{
		Events:    []string{saya.KindModuleInstalled, saya.KindModuleUninstalled},
		Namespace: "host",
	}, broadcast.Handler(func(_ context.Context, ev broadcast.Event) error {
		if lifecycle, ok := ev.(saya.Event); ok {
			// minus the main channel
			h.metrics.ObserveEvent(lifecycle, len(h.saya.Modules())-1)
		}
		return nil
	}))
	if err := h.saya.InstallPending(ctx, main); err != nil {
		return nil, err
	}

	for key, v := range cfg.Mounts {
		h.saya.Mount(key, v)
	}
	return h, nil
}

// requireConfigured loads the configured modules in order.
func (h *host) requireConfigured(ctx context.Context) error {
	for _, id := range h.cfg.Modules {
		if _, err := h.saya.Require(ctx, id); err != nil {
			return fmt.Errorf("require %q: %w", id, err)
		}
	}
	return nil
}

// shutdown uninstalls every loaded module, newest first, and waits for
// pending notifications.
func (h *host) shutdown(ctx context.Context) {
	for _, id := range h.order.reversed() {
		ch, ok := h.saya.Channel(id)
		if !ok {
			continue
		}
		if err := h.saya.UninstallChannel(ctx, ch); err != nil {
			h.logger.Warn("module uninstall failed", "module", id, "error", err)
		}
	}
	h.bus.Wait()
}

// installOrder records the order modules finish installing before passing
// each event on.
type installOrder struct {
	next saya.Notifier

	mu      sync.Mutex
	modules []string
}

func (o *installOrder) Post(ctx context.Context, ev saya.Event) {
	id := ev.ModuleID()
	if id != channel.MainModule {
		o.mu.Lock()
		switch ev.(type) {
		case saya.ModuleInstalled:
			o.modules = append(slices.DeleteFunc(o.modules, func(m string) bool { return m == id }), id)
		case saya.ModuleUninstalled:
			o.modules = slices.DeleteFunc(o.modules, func(m string) bool { return m == id })
		}
		o.mu.Unlock()
	}
	o.next.Post(ctx, ev)
}

func (o *installOrder) reversed() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := slices.Clone(o.modules)
	slices.Reverse(out)
	return out
}
