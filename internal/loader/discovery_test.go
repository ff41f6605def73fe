package loader

import (
	"os"
	"path/filepath"
	"testing"
)

func writeModule(t *testing.T, root, dir, manifest string) string {
	t.Helper()
	path := filepath.Join(root, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, ManifestFilename), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name      string
		setupFn   func(t *testing.T) []string
		wantCount int
		wantErr   bool
		checkFn   func(t *testing.T, c *Catalog)
	}{
		{
			name: "valid module discovered",
			setupFn: func(t *testing.T) []string {
				dir := t.TempDir()
				writeModule(t, dir, "hello", `module: hello
name: Hello
version: 1.2.0
authors: [alice]
urls:
  home: https://example.com
`)
				return []string{dir}
			},
			wantCount: 1,
			checkFn: func(t *testing.T, c *Catalog) {
				m, ok := c.Get("hello")
				if !ok {
					t.Fatal("hello not found")
				}
				if m.Name != "Hello" || m.Version != "1.2.0" {
					t.Errorf("meta not parsed: %+v", m.Meta)
				}
				if len(m.Authors) != 1 || m.URLs["home"] != "https://example.com" {
					t.Errorf("lists not parsed: %+v", m.Meta)
				}
				if m.Fingerprint == "" {
					t.Error("fingerprint should be set")
				}
			},
		},
		{
			name: "nested module directories",
			setupFn: func(t *testing.T) []string {
				dir := t.TempDir()
				writeModule(t, dir, "group/one", "module: one\n")
				writeModule(t, dir, "group/two", "module: two\n")
				return []string{dir}
			},
			wantCount: 2,
		},
		{
			name: "directory without manifest skipped",
			setupFn: func(t *testing.T) []string {
				dir := t.TempDir()
				os.Mkdir(filepath.Join(dir, "empty"), 0o755)
				return []string{dir}
			},
			wantCount: 0,
		},
		{
			name: "invalid manifests skipped",
			setupFn: func(t *testing.T) []string {
				dir := t.TempDir()
				writeModule(t, dir, "noid", "name: nothing\n")
				writeModule(t, dir, "broken", "module: [unterminated\n")
				writeModule(t, dir, "traversal", "module: ../etc\n")
				writeModule(t, dir, "main", "module: __main__\n")
				writeModule(t, dir, "ok", "module: ok\n")
				return []string{dir}
			},
			wantCount: 1,
		},
		{
			name: "duplicate keeps first root",
			setupFn: func(t *testing.T) []string {
				first, second := t.TempDir(), t.TempDir()
				writeModule(t, first, "hello", "module: hello\nversion: first\n")
				writeModule(t, second, "hello", "module: hello\nversion: second\n")
				return []string{first, second, first}
			},
			wantCount: 1,
			checkFn: func(t *testing.T, c *Catalog) {
				m, _ := c.Get("hello")
				if m.Version != "first" {
					t.Errorf("expected first root to win, got %q", m.Version)
				}
			},
		},
		{
			name: "missing root",
			setupFn: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "nope")}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roots := tt.setupFn(t)
			catalog, err := Discover(roots, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Discover() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := len(catalog.IDs()); got != tt.wantCount {
				t.Errorf("Discover() found %d modules, want %d (%v)", got, tt.wantCount, catalog.IDs())
			}
			if tt.checkFn != nil {
				tt.checkFn(t, catalog)
			}
		})
	}
}

func TestFingerprintTracksContent(t *testing.T) {
	dir := writeModule(t, t.TempDir(), "hello", "module: hello\n")

	before, err := Fingerprint(dir)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := Fingerprint(dir)
	if before != again {
		t.Fatal("fingerprint should be stable")
	}

	if err := os.WriteFile(filepath.Join(dir, "data.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	after, _ := Fingerprint(dir)
	if after == before {
		t.Error("fingerprint should change when a file is added")
	}

	if err := os.Rename(filepath.Join(dir, "data.txt"), filepath.Join(dir, "other.txt")); err != nil {
		t.Fatal(err)
	}
	renamed, _ := Fingerprint(dir)
	if renamed == after {
		t.Error("fingerprint should change when a file is renamed")
	}
}
