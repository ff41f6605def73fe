package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sort"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/saya/internal/api"
	"github.com/mattjoyce/saya/internal/auth"
	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/config"
	"github.com/mattjoyce/saya/internal/lock"
	"github.com/mattjoyce/saya/internal/loader"
	"github.com/mattjoyce/saya/internal/log"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path := resolveConfigPath(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Configure(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)
	logger := log.WithComponent("main")
	logger.Info("saya starting", "version", version, "config", cfg.SourcePath)

	pidLock, err := lock.AcquirePIDLock(cfg.Lock.Path)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Lock.Path, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := newHost(ctx, cfg, loader.Default, log.Get())
	if err != nil {
		logger.Error("host setup failed", "error", err)
		return 1
	}

	shutdown := func() {
		sctx, scancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
		defer scancel()
		h.shutdown(sctx)
	}

	if err := h.requireConfigured(ctx); err != nil {
		logger.Error("module load failed", "error", err)
		shutdown()
		return 1
	}
	logger.Info("modules loaded", "modules", h.saya.Modules())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 2)

	if cfg.Watch.Enabled {
		w := loader.NewWatcher(h.loader, h.saya, cfg.Watch.Debounce, log.Get())
		w.OnReload = func(module string, err error) {
			h.metrics.ObserveReload("watch", err)
		}
		if err := w.Start(ctx); err != nil {
			logger.Error("module watcher failed", "error", err)
			shutdown()
			return 1
		}
		defer w.Stop()
		logger.Info("module watcher enabled", "debounce", cfg.Watch.Debounce)
	}

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Tokens))
		for _, t := range cfg.API.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiConfig := api.Config{
			Listen: cfg.API.Listen,
			Token:  cfg.API.Token,
			Tokens: tokens,
		}
		apiServer := api.New(apiConfig, h.saya, h.loader, h.hub, log.Get(),
			api.WithMetrics(h.metrics, h.prom),
			api.WithJobs(h.sched),
		)
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("saya running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()
	shutdown()

	logger.Info("saya stopped")
	return code
}

type moduleRow struct {
	ID     string
	Name   string
	Cubes  string
	Export string
	Error  string
}

func runModuleList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg := config.Defaults()
	if *configPath != "" || os.Getenv("SAYA_CONFIG") != "" {
		loaded, err := config.Load(resolveConfigPath(*configPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	log.Configure("warn", "text", os.Stderr)

	ctx := context.Background()
	h, err := newHost(ctx, cfg, loader.Default, log.Get())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Host setup failed: %v\n", err)
		return 1
	}
	defer h.shutdown(ctx)

	rows := describeModules(ctx, h)
	fmt.Println(renderModuleTable(rows))
	return 0
}

func describeModules(ctx context.Context, h *host) []moduleRow {
	ids := h.loader.Modules()
	sort.Strings(ids)

	rows := make([]moduleRow, 0, len(ids))
	for _, id := range ids {
		row := moduleRow{ID: id}
		ch, err := h.saya.RequireChannel(ctx, id)
		if err != nil {
			row.Error = err.Error()
			rows = append(rows, row)
			continue
		}
		row.Name = ch.Meta.Name
		row.Cubes = cubeSummary(ch)
		if v, ok := ch.Exported(); ok {
			row.Export = reflect.TypeOf(v).String()
		}
		rows = append(rows, row)
	}
	return rows
}

func cubeSummary(ch *channel.Channel) string {
	counts := make(map[string]int)
	for _, c := range ch.Content {
		counts[string(c.Kind())]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s x%d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

func renderModuleTable(rows []moduleRow) string {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	failed := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("MODULE", "NAME", "CUBES", "EXPORT").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header.Padding(0, 1)
			}
			if row >= 0 && row < len(rows) && rows[row].Error != "" {
				return failed.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, r := range rows {
		if r.Error != "" {
			t.Row(r.ID, "", "", r.Error)
			continue
		}
		t.Row(r.ID, r.Name, r.Cubes, r.Export)
	}
	return t.Render()
}
