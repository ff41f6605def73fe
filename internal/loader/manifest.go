package loader

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/saya/internal/channel"
)

// ManifestFilename is the manifest looked for in each module directory.
const ManifestFilename = "module.yaml"

// Manifest is the on-disk description of a module.
//
//	module: hello
//	name: Hello
//	version: 1.0.0
//	authors: [someone]
//	disabled: false
type Manifest struct {
	Module       string `yaml:"module"`
	Disabled     bool   `yaml:"disabled,omitempty"`
	channel.Meta `yaml:",inline"`
}

// Module is a discovered module directory.
type Module struct {
	Manifest
	Path        string
	Fingerprint string
}

func loadManifest(dir string) (*Module, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	fp, err := Fingerprint(dir)
	if err != nil {
		return nil, err
	}
	return &Module{Manifest: manifest, Path: dir, Fingerprint: fp}, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	m.Module = strings.TrimSpace(m.Module)
	if m.Module == "" {
		return fmt.Errorf("module is required")
	}
	if m.Module == channel.MainModule {
		return fmt.Errorf("module id %q is reserved", m.Module)
	}
	if strings.ContainsAny(m.Module, `/\`) || strings.Contains(m.Module, "..") {
		return fmt.Errorf("module id contains a path: %s", m.Module)
	}
	return nil
}

// Fingerprint is the BLAKE3 hash over the relative paths and contents of every
// regular file under dir, visited in lexical order.
func Fingerprint(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan module directory %s: %w", dir, err)
	}
	sort.Strings(files)

	h := blake3.New()
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		_, _ = h.Write([]byte(filepath.ToSlash(rel)))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(data)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
