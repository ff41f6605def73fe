package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/saya"
)

func noop(context.Context) error { return nil }

func TestRegistryRegister(t *testing.T) {
	tests := []struct {
		name    string
		module  string
		exec    channel.Executable
		wantErr bool
	}{
		{name: "valid", module: "hello", exec: noop},
		{name: "empty id", module: "", exec: noop, wantErr: true},
		{name: "nil executable", module: "nil", exec: nil, wantErr: true},
		{name: "reserved id", module: channel.MainModule, exec: noop, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.module, tt.exec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("hello", noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register("hello", noop)
	if !errors.Is(err, ErrDuplicateModule) {
		t.Fatalf("expected ErrDuplicateModule, got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustRegister should panic on duplicates")
		}
	}()
	r.MustRegister("hello", noop)
}

func TestRegistryLoad(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("b", noop)
	r.MustRegister("a", noop)

	if got := r.Modules(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Modules() = %v, want sorted [a b]", got)
	}

	exec, err := r.Load(context.Background(), "a")
	if err != nil || exec == nil {
		t.Fatalf("Load(a) = %v, %v", exec, err)
	}

	_, err = r.Load(context.Background(), "missing")
	if !errors.Is(err, saya.ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
}
