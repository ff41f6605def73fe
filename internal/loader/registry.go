// Package loader resolves module identifiers for the controller.
//
// Module code is compiled into the binary and registered by id in a Registry,
// usually from an init function. A module directory under one of the module
// roots may carry a module.yaml manifest with the module's metadata; the
// Loader applies it to the channel before the module code runs and
// fingerprints the directory so a Watcher can reload the module when it
// changes on disk.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/saya"
)

var ErrDuplicateModule = errors.New("module already registered")

// Registry maps module ids to compiled-in module code.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]channel.Executable
}

// Default is the registry modules add themselves to from init.
var Default = NewRegistry()

// Register adds a module to Default and panics on duplicates.
func Register(module string, exec channel.Executable) {
	Default.MustRegister(module, exec)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]channel.Executable)}
}

// Register adds module. Ids are unique.
func (r *Registry) Register(module string, exec channel.Executable) error {
	if module == "" {
		return fmt.Errorf("module id is required")
	}
	if exec == nil {
		return fmt.Errorf("module %q: executable is nil", module)
	}
	if module == channel.MainModule {
		return fmt.Errorf("module id %q is reserved", module)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[module]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateModule, module)
	}
	slog.Debug("Registering module.", "module", module)
	r.modules[module] = exec
	return nil
}

// MustRegister is Register for init functions.
func (r *Registry) MustRegister(module string, exec channel.Executable) {
	if err := r.Register(module, exec); err != nil {
		panic(err.Error())
	}
}

// Lookup returns the code registered for module.
func (r *Registry) Lookup(module string) (channel.Executable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.modules[module]
	return exec, ok
}

// Modules returns the registered ids, sorted.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for id := range r.modules {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Load implements saya.Loader without manifests.
func (r *Registry) Load(_ context.Context, module string) (channel.Executable, error) {
	exec, ok := r.Lookup(module)
	if !ok {
		return nil, fmt.Errorf("%w: %q", saya.ErrModuleNotFound, module)
	}
	return exec, nil
}
