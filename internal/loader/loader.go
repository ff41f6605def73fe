package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/saya/internal/channel"
)

var ErrModuleDisabled = errors.New("module is disabled by its manifest")

// Loader resolves modules from a Registry and applies their manifests.
// It implements saya.Loader and saya.Purger.
type Loader struct {
	registry *Registry
	roots    []string
	logger   *slog.Logger

	mu      sync.Mutex
	catalog *Catalog
	stale   map[string]bool
}

// New creates a loader and discovers manifests under roots.
func New(registry *Registry, roots []string, logger *slog.Logger) (*Loader, error) {
	if registry == nil {
		registry = Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		registry: registry,
		roots:    roots,
		logger:   logger.With("component", "loader"),
		catalog:  NewCatalog(),
		stale:    make(map[string]bool),
	}
	if err := l.Refresh(); err != nil {
		return nil, err
	}
	return l, nil
}

// Refresh rediscovers every manifest under the module roots.
func (l *Loader) Refresh() error {
	if len(l.roots) == 0 {
		return nil
	}
	catalog, err := Discover(l.roots, l.logf)
	if err != nil {
		return err
	}
	for _, id := range catalog.IDs() {
		if _, ok := l.registry.Lookup(id); !ok {
			l.logger.Warn("manifest names a module that is not compiled in", "module", id)
		}
	}

	l.mu.Lock()
	l.catalog = catalog
	l.stale = make(map[string]bool)
	l.mu.Unlock()
	return nil
}

// Load implements saya.Loader.
func (l *Loader) Load(ctx context.Context, module string) (channel.Executable, error) {
	exec, err := l.registry.Load(ctx, module)
	if err != nil {
		return nil, err
	}

	m, err := l.manifest(module)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return exec, nil
	}
	if m.Disabled {
		return nil, fmt.Errorf("%w: %q", ErrModuleDisabled, module)
	}

	meta := m.Meta
	return func(ctx context.Context) error {
		if ch, err := channel.Current(ctx); err == nil {
			ch.Meta = meta.Clone()
		}
		return exec(ctx)
	}, nil
}

// Forget implements saya.Purger. The module's manifest is read again on its
// next load.
func (l *Loader) Forget(module string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.catalog.Get(module); ok {
		l.stale[module] = true
	}
}

// Module returns the discovered manifest for module.
func (l *Loader) Module(module string) (*Module, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.catalog.Get(module)
}

// Modules returns every module id known from the registry or a manifest.
func (l *Loader) Modules() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range l.registry.Modules() {
		seen[id] = struct{}{}
		out = append(out, id)
	}
	l.mu.Lock()
	for _, id := range l.catalog.IDs() {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	l.mu.Unlock()
	return out
}

// Registered reports whether module has compiled-in code.
func (l *Loader) Registered(module string) bool {
	_, ok := l.registry.Lookup(module)
	return ok
}

// Changed reports whether module's directory differs from the last time its
// manifest was read.
func (l *Loader) Changed(module string) (bool, error) {
	m, ok := l.Module(module)
	if !ok {
		return false, nil
	}
	fp, err := Fingerprint(m.Path)
	if err != nil {
		return false, err
	}
	return fp != m.Fingerprint, nil
}

func (l *Loader) manifest(module string) (*Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.catalog.Get(module)
	if !ok {
		return nil, nil
	}
	if !l.stale[module] {
		return m, nil
	}

	fresh, err := loadManifest(m.Path)
	if err != nil {
		return nil, fmt.Errorf("reload manifest of %q: %w", module, err)
	}
	if fresh.Module != module {
		return nil, fmt.Errorf("manifest at %s now names %q instead of %q", m.Path, fresh.Module, module)
	}
	l.catalog.modules[module] = fresh
	delete(l.stale, module)
	l.logger.Debug("manifest reloaded", "module", module, "fingerprint", fresh.Fingerprint)
	return fresh, nil
}

func (l *Loader) logf(level, msg string, args ...any) {
	switch level {
	case "warn":
		l.logger.Warn(msg, args...)
	case "error":
		l.logger.Error(msg, args...)
	case "debug":
		l.logger.Debug(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
}
