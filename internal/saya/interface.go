package saya

import (
	"context"
	"errors"

	"github.com/mattjoyce/saya/internal/channel"
)

//go:generate mockgen -destination=mocks/mock_saya.go -package=mocks github.com/mattjoyce/saya/internal/saya Loader,Notifier

// ErrModuleNotFound is returned by loaders for unknown module identifiers.
var ErrModuleNotFound = errors.New("module not found")

// Loader resolves a module identifier to its registration code.
type Loader interface {
	Load(ctx context.Context, module string) (channel.Executable, error)
}

// Purger is implemented by loaders that cache compiled modules. Forget is
// called on unload so the next Require runs the module again.
type Purger interface {
	Forget(module string)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, module string) (channel.Executable, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, module string) (channel.Executable, error) {
	return f(ctx, module)
}

// Notifier receives lifecycle events. Post must not block on delivery.
type Notifier interface {
	Post(ctx context.Context, ev Event)
}
