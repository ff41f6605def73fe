// Package hello is a built-in module that exports a greeter and logs every
// module installed after it.
package hello

import (
	"context"
	"fmt"

	"github.com/mattjoyce/saya/internal/broadcast"
	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/loader"
	"github.com/mattjoyce/saya/internal/log"
	"github.com/mattjoyce/saya/internal/saya"
)

// ID is the module identifier.
const ID = "hello"

// GreetingMount is the mount key holding an optional greeting word.
const GreetingMount = "hello.greeting"

// Greeter is the value the module exports.
type Greeter struct {
	word string
}

// Greet returns a greeting for name.
func (g *Greeter) Greet(name string) string {
	return fmt.Sprintf("%s, %s!", g.word, name)
}

func init() {
	loader.Register(ID, Setup)
}

// Setup is the module's registration code.
func Setup(ctx context.Context) error {
	ch, err := channel.Current(ctx)
	if err != nil {
		return err
	}
	ch.Name("Hello").Description("Exports a greeter and announces module installs")

	word := "Hello"
	if s, err := saya.Current(ctx); err == nil {
		if v, err := s.Access(GreetingMount); err == nil {
			if w, ok := v.(string); ok && w != "" {
				word = w
			}
		}
	}

	logger := log.WithModule(ID)
	err = broadcast.Listen(ctx, func(_ context.Context, ev broadcast.Event) error {
		if installed, ok := ev.(saya.ModuleInstalled); ok && installed.Module != ID {
			logger.Info("module installed", "installed", installed.Module, "cubes", installed.Cubes)
		}
		return nil
	}, saya.KindModuleInstalled)
	if err != nil {
		return err
	}

	ch.Export(&Greeter{word: word})
	return nil
}
